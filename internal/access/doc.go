// Package access provides the domain types for agency access grants.
//
// A ConnectionResult is the aggregate root: one record per client and
// agency pairing, keyed by its connection link, holding at most one external
// user id per platform and, per platform, an ordered list of GrantedAccess
// entries.
//
// This package contains types and pure list operations only. It imports
// nothing internal, so store, platform and engine can all depend on it.
//
// Key constraints:
//   - Within one platform list, (service, entity id) is unique. The key is
//     compared after trimming and NFC normalization.
//   - Replacing an entry keeps its position; new entries are appended.
//   - All JSON tags use snake_case.
package access
