package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

func TestUpsert_ReplacesInPlaceAndAppends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")

	for _, g := range []access.GrantedAccess{
		grant("adAccount", "act-1", access.AccessView),
		grant("pixel", "px-1", access.AccessView),
		grant("page", "pg-1", access.AccessView),
	} {
		_, err := env.engine.UpsertGrantedAccess(ctx, sess, metaP, g)
		require.NoError(t, err)
	}

	replaced := grant("pixel", " px-1 ", access.AccessManage)
	replaced.AgencyIdentifier = "agency-42"
	rec, err := env.engine.UpsertGrantedAccess(ctx, sess, metaP, replaced)
	require.NoError(t, err)

	want := grant("pixel", "px-1", access.AccessManage)
	want.AgencyIdentifier = "agency-42"
	assert.Equal(t, []access.GrantedAccess{
		grant("adAccount", "act-1", access.AccessView),
		want,
		grant("page", "pg-1", access.AccessView),
	}, rec.GrantedAccesses[metaP])
	assert.Equal(t, rec, env.stored(t, rec.ID))
}

func TestUpsert_NoDuplicateKeysAfterAnySequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, googleP, "userB")

	services := []string{"analytics", "ads", "tagManager"}
	entities := []string{"e1", "e2", "E1", "e1 "}
	var rec access.ConnectionResult
	for i := 0; i < 24; i++ {
		g := grant(services[i%len(services)], entities[i%len(entities)], access.AccessView)
		g.Success = i%2 == 0
		var err error
		rec, err = env.engine.UpsertGrantedAccess(ctx, sess, googleP, g)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, g := range rec.GrantedAccesses[googleP] {
		assert.False(t, seen[g.Key()], "duplicate %s/%s", g.Service, g.EntityID)
		seen[g.Key()] = true
	}
}

func TestRemove_FiltersEntryAndIgnoresMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")
	_, err := env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("pixel", "px-1", access.AccessView))
	require.NoError(t, err)
	_, err = env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("page", "pg-1", access.AccessView))
	require.NoError(t, err)

	rec, err := env.engine.RemoveGrantedAccess(ctx, sess, metaP, "pixel", "px-1")
	require.NoError(t, err)
	assert.Equal(t, []access.GrantedAccess{grant("page", "pg-1", access.AccessView)}, rec.GrantedAccesses[metaP])

	again, err := env.engine.RemoveGrantedAccess(ctx, sess, metaP, "pixel", "px-1")
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.Equal(t, rec.Version, env.stored(t, rec.ID).Version, "no-op remove writes nothing")
}

func TestGrantOps_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")

	_, err := env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("analytics", "p1", access.AccessView))
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err), "service of another platform")

	_, err = env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("nope", "p1", access.AccessView))
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))

	_, err = env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("pixel", " ", access.AccessView))
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))

	_, err = env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("pixel", "px-1", "owner"))
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))

	_, err = env.engine.RemoveGrantedAccess(ctx, sess, "myspace", "pixel", "px-1")
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))

	_, err = env.engine.UpsertGrantedAccess(ctx, NewSession(), metaP, grant("pixel", "px-1", access.AccessView))
	assert.True(t, IsNotFound(err))
}

func TestUpsert_ConcurrentCallsLoseNoUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("pixel", fmt.Sprintf("px-%02d", i), access.AccessView))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stored := env.stored(t, "rec-1")
	assert.Len(t, stored.GrantedAccesses[metaP], n)
	held, _ := sess.Record()
	assert.Equal(t, stored, held)
}

func TestUpsert_StaleRecordIsReloadedAndReapplied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := NewSession()
	env.resolve(t, s1, metaP, "userA")
	s2 := NewSession()
	_, err := env.engine.Adopt(ctx, s2, "rec-1")
	require.NoError(t, err)

	_, err = env.engine.UpsertGrantedAccess(ctx, s1, metaP, grant("pixel", "px-1", access.AccessView))
	require.NoError(t, err)
	rec, err := env.engine.UpsertGrantedAccess(ctx, s2, metaP, grant("page", "pg-1", access.AccessView))
	require.NoError(t, err)

	assert.Equal(t, []access.GrantedAccess{
		grant("pixel", "px-1", access.AccessView),
		grant("page", "pg-1", access.AccessView),
	}, rec.GrantedAccesses[metaP])
	assert.Equal(t, int64(3), rec.Version)
}

func TestUpsert_StaleRecordFailsAfterAttempts(t *testing.T) {
	env := newTestEnv(t, WithMaxCommitAttempts(1))
	ctx := context.Background()
	s1 := NewSession()
	env.resolve(t, s1, metaP, "userA")
	s2 := NewSession()
	_, err := env.engine.Adopt(ctx, s2, "rec-1")
	require.NoError(t, err)

	_, err = env.engine.UpsertGrantedAccess(ctx, s1, metaP, grant("pixel", "px-1", access.AccessView))
	require.NoError(t, err)
	_, err = env.engine.UpsertGrantedAccess(ctx, s2, metaP, grant("page", "pg-1", access.AccessView))
	require.Error(t, err)
	assert.True(t, IsNetworkFailure(err))

	stored := env.stored(t, "rec-1")
	assert.Equal(t, []access.GrantedAccess{grant("pixel", "px-1", access.AccessView)}, stored.GrantedAccesses[metaP])
}

func TestUpsert_DeletedRecordIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")
	require.NoError(t, env.store.DeleteConnection(ctx, "rec-1"))

	_, err := env.engine.UpsertGrantedAccess(ctx, sess, metaP, grant("pixel", "px-1", access.AccessView))
	assert.True(t, IsNotFound(err))
}

func TestRequestGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	sess.SetCredentials(googleP, platform.Credentials{Token: "tok"})

	err := env.engine.RequestGrant(ctx, sess, GrantRequest{
		Service: "searchConsole", EntityID: "example.com", AccessType: access.AccessManage, Identity: opsEmail,
	})
	require.NoError(t, err)

	grants := env.fake.Grants()
	require.Len(t, grants, 1)
	assert.Equal(t, platform.GrantRequest{
		Platform:        googleP,
		Service:         "searchConsole",
		EntityID:        "example.com",
		AccessType:      access.AccessManage,
		PermissionLevel: "owner",
		AgencyIdentity:  opsEmail,
		Credentials:     platform.Credentials{Token: "tok"},
	}, grants[0])
}

func TestRequestGrant_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := NewSession()
	req := GrantRequest{Service: "pixel", EntityID: "px-1", AccessType: access.AccessView, Identity: "agency-42"}

	err := env.engine.RequestGrant(ctx, sess, req)
	assert.True(t, IsNotAuthenticated(err))
	assert.Empty(t, env.fake.Grants())

	sess.SetCredentials(metaP, platform.Credentials{Token: "tok"})
	env.fake.FailGrants(platform.ErrUnauthorized)
	err = env.engine.RequestGrant(ctx, sess, req)
	assert.True(t, IsNotAuthenticated(err))

	env.fake.FailGrants(errors.New("connection reset"))
	err = env.engine.RequestGrant(ctx, sess, req)
	assert.True(t, IsNetworkFailure(err))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StagePlatform, e.Stage)

	sess.ClearCredentials(metaP)
	err = env.engine.RequestGrant(ctx, sess, req)
	assert.True(t, IsNotAuthenticated(err))
}

func TestRequestGrant_NeedsClient(t *testing.T) {
	e := New(nil, platform.Default())
	err := e.RequestGrant(context.Background(), NewSession(), GrantRequest{
		Service: "pixel", EntityID: "px-1", AccessType: access.AccessView, Identity: "agency-42",
	})
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))
}
