// Package engine reconciles connection records and verifies access grants.
//
// The engine exposes four operations to the guided flow:
//
//   - Resolve finds, adopts or creates the connection record for a platform
//     identity, attaching a second identity to the held record when needed.
//   - AttachSecondIdentity attaches a platform identity to the held record,
//     merging in (and deleting) any other record of the same link that
//     already carries it.
//   - UpsertGrantedAccess and RemoveGrantedAccess edit the held record's
//     granted-access lists.
//   - Verify runs one check cycle of the verification state machine:
//     pending, then granted, not_granted or incorrect_access.
//
// # Sessions
//
// A Session is the explicit state object owned by the calling flow. It holds
// the current record, the platform credentials, and the state of each
// verification check. Mutating operations are serialized per session, so a
// read-modify-write never loses an update to an overlapping call.
// Verifications are serialized per (service, entity) and may run
// concurrently across entities.
//
// # Failure model
//
// Every failure is an *Error with a Code. Storage and platform failures are
// NETWORK_FAILURE and leave nothing half-applied: creates and merges are
// single transactions, updates are version-checked and re-applied on a stale
// read, and a cancelled verification stays pending without writing.
// Two records holding different identities for the same platform are never
// merged; that surfaces as CONFLICT_ON_MERGE and both records are kept.
package engine
