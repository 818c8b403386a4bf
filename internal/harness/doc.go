// Package harness replays connection scenarios against the engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: merge_on_second_identity
//	description: "What this scenario validates"
//	link: link-L
//	agency: agency-1
//	ids: [rec-1, rec-2]
//	credentials: [google]
//	entity_users:
//	  - service: searchConsole
//	    entity: example.com
//	    users:
//	      - identity: ops@agency.test
//	        levels: [restricted]
//	steps:
//	  - op: resolve
//	    session: a
//	    platform: meta
//	    user: userA
//	    access: manage
//	  - op: verify
//	    session: a
//	    service: searchConsole
//	    entity: example.com
//	    access: manage
//	    identity: ops@agency.test
//	    expect:
//	      state: incorrect_access
//	assertions:
//	  - type: record_count
//	    count: 1
//
// Steps run in order, each on a named session. Sessions share one store and
// one fake platform, so two sessions model two independent client visits.
//
// # Assertion Types
//
//   - record_count: number of records stored for the link
//   - record_absent: no record with the given id exists
//   - identity: a record holds the given user for a platform
//   - access: a record has an entry for (platform, service, entity) whose
//     fields match expect (subset match)
//   - no_access: a record has no entry for (platform, service, entity)
//
// # Deterministic Runs
//
// Every run uses a fresh in-memory SQLite store, the scenario's fixed record
// ids and a fresh logical clock, so the trace and final records are
// byte-identical across runs and can be compared with a golden file.
package harness
