package testutil

import (
	"context"
	"sync"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

// FakePlatform is an in-memory platform.Client.
//
// Entity users are set per (service, entity). A successful GrantAccess adds
// the agency identity to the entity with the requested permission level, so
// a grant followed by a verification behaves like the real platforms.
//
// Thread-safety: all methods are safe for concurrent use.
type FakePlatform struct {
	mu       sync.Mutex
	users    map[string][]access.EntityUser
	grants   []platform.GrantRequest
	queries  []platform.EntityUsersRequest
	queryErr error
	grantErr error

	gate    chan struct{}
	started chan struct{}
	once    *sync.Once
}

var _ platform.Client = (*FakePlatform)(nil)

// NewFakePlatform returns a platform with no entities.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{users: map[string][]access.EntityUser{}}
}

// User builds an entity user row.
func User(identity string, levels ...string) access.EntityUser {
	if levels == nil {
		levels = []string{}
	}
	return access.EntityUser{Identity: identity, PermissionLevels: levels}
}

// SetEntityUsers replaces the users of (service, entityID).
func (f *FakePlatform) SetEntityUsers(service, entityID string, users ...access.EntityUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]access.EntityUser, len(users))
	copy(cp, users)
	f.users[access.Key(service, entityID)] = cp
}

// FailQueries makes every QueryEntityUsers call return err. nil clears it.
func (f *FakePlatform) FailQueries(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
}

// FailGrants makes every GrantAccess call return err. nil clears it.
func (f *FakePlatform) FailGrants(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantErr = err
}

// Block holds every QueryEntityUsers call until release is called or the
// call's context ends. started is closed when the first call arrives.
func (f *FakePlatform) Block() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	f.started = make(chan struct{})
	f.once = &sync.Once{}
	var releaseOnce sync.Once
	return f.started, func() { releaseOnce.Do(func() { close(gate) }) }
}

// QueryEntityUsers returns the users set for the request's entity.
func (f *FakePlatform) QueryEntityUsers(ctx context.Context, req platform.EntityUsersRequest) ([]access.EntityUser, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req)
	gate, started, once := f.gate, f.started, f.once
	f.mu.Unlock()

	if gate != nil {
		once.Do(func() { close(started) })
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	users := f.users[access.Key(req.Service, req.EntityID)]
	out := make([]access.EntityUser, len(users))
	copy(out, users)
	return out, nil
}

// GrantAccess records the request and, unless failing, adds the identity.
func (f *FakePlatform) GrantAccess(ctx context.Context, req platform.GrantRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, req)
	if f.grantErr != nil {
		return f.grantErr
	}
	level := req.PermissionLevel
	if level == "" {
		level = string(req.AccessType)
	}
	key := access.Key(req.Service, req.EntityID)
	f.users[key] = append(f.users[key], User(req.AgencyIdentity, level))
	return nil
}

// QueryCalls returns how many entity user queries were made.
func (f *FakePlatform) QueryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// Queries returns the entity user requests received so far.
func (f *FakePlatform) Queries() []platform.EntityUsersRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.EntityUsersRequest, len(f.queries))
	copy(out, f.queries)
	return out
}

// Grants returns the grant requests received so far.
func (f *FakePlatform) Grants() []platform.GrantRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.GrantRequest, len(f.grants))
	copy(out, f.grants)
	return out
}
