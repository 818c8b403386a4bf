// Package platform describes the external platforms an agency is granted
// access on, and talks to them.
//
// A Registry is the lookup table of platform descriptors: the services each
// platform offers, how each service grades permissions, and which agency
// identity field a platform uses. Descriptors are loaded from YAML, checked
// against an embedded CUE schema, and turned into per-service Comparators.
// Adding a platform is a descriptor change; nothing downstream branches on
// platform names.
//
// Client is the narrow contract consumed by verification: query who can
// access an entity, and request a grant. HTTPClient implements it against a
// per-platform gateway with retries and backoff.
package platform
