package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
)

func TestResolve_CreatesRecordOnFirstAuthentication(t *testing.T) {
	env := newTestEnv(t)
	sess := NewSession()

	rec := env.resolve(t, sess, metaP, "userA")

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, agency1, rec.AgencyID)
	assert.Equal(t, linkL, rec.ConnectionLinkID)
	assert.Equal(t, access.AccessManage, rec.AccessType)
	assert.Equal(t, map[access.Platform]string{metaP: "userA"}, rec.PlatformUserIDs)
	assert.Equal(t, map[access.Platform][]access.GrantedAccess{
		metaP:   {},
		googleP: {},
	}, rec.GrantedAccesses)

	assert.Equal(t, rec, env.stored(t, rec.ID))
	held, ok := sess.Record()
	require.True(t, ok)
	assert.Equal(t, rec, held)
}

func TestResolve_SecondPlatformAttachesWithoutMerge(t *testing.T) {
	env := newTestEnv(t)
	sess := NewSession()
	first := env.resolve(t, sess, metaP, "userA")
	_, err := env.engine.UpsertGrantedAccess(context.Background(), sess, metaP, grant("adAccount", "act-1", access.AccessManage))
	require.NoError(t, err)
	before, _ := sess.Record()

	rec := env.resolve(t, sess, googleP, "userB")

	assert.Equal(t, first.ID, rec.ID)
	assert.Equal(t, map[access.Platform]string{metaP: "userA", googleP: "userB"}, rec.PlatformUserIDs)
	assert.Equal(t, before.GrantedAccesses, rec.GrantedAccesses)

	all, err := env.store.ListConnections(context.Background(), linkL)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec, all[0])
}

func TestResolve_RepeatedCallsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sess := NewSession()
	first := env.resolve(t, sess, metaP, "userA")
	remaining := env.ids.Remaining()

	again := env.resolve(t, sess, metaP, "userA")
	assert.Equal(t, first, again)

	// A held record that already has a meta identity is returned unchanged.
	other := env.resolve(t, sess, metaP, "userZ")
	assert.Equal(t, first, other)

	assert.Equal(t, remaining, env.ids.Remaining())
	all, err := env.store.ListConnections(context.Background(), linkL)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolve_AdoptsStoredRecordInNewSession(t *testing.T) {
	env := newTestEnv(t)
	created := env.resolve(t, NewSession(), metaP, "userA")
	remaining := env.ids.Remaining()

	sess := NewSession()
	rec, err := env.engine.Resolve(context.Background(), sess, resolveReq(metaP, " userA "))
	require.NoError(t, err)

	assert.Equal(t, created, rec)
	assert.Equal(t, remaining, env.ids.Remaining())
}

func TestResolve_SameUserOnOtherLinkIsSeparateRecord(t *testing.T) {
	env := newTestEnv(t)
	a := env.resolve(t, NewSession(), metaP, "userA")

	req := resolveReq(metaP, "userA")
	req.ConnectionLinkID = "link-M"
	b, err := env.engine.Resolve(context.Background(), NewSession(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolve_InvalidRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*ResolveRequest)
	}{
		{"unknown platform", func(r *ResolveRequest) { r.Platform = "myspace" }},
		{"empty user", func(r *ResolveRequest) { r.ExternalUserID = "  " }},
		{"empty link", func(r *ResolveRequest) { r.ConnectionLinkID = "" }},
		{"empty agency", func(r *ResolveRequest) { r.AgencyID = "" }},
		{"bad access type", func(r *ResolveRequest) { r.AccessType = "admin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := resolveReq(metaP, "userA")
			tt.mutate(&req)
			_, err := env.engine.Resolve(context.Background(), NewSession(), req)
			assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))
		})
	}

	all, err := env.store.ListConnections(context.Background(), linkL)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestResolve_RejectsSessionHeldForOtherLink(t *testing.T) {
	env := newTestEnv(t)
	sess := NewSession()
	env.resolve(t, sess, metaP, "userA")

	req := resolveReq(googleP, "userB")
	req.ConnectionLinkID = "link-M"
	_, err := env.engine.Resolve(context.Background(), sess, req)
	assert.Equal(t, ErrCodeInvalidRequest, CodeOf(err))
}

func TestResolve_ConcurrentSessionsShareOneRecord(t *testing.T) {
	env := newTestEnv(t)
	const sessions = 8

	results := make([]access.ConnectionResult, sessions)
	errs := make([]error, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.Resolve(context.Background(), NewSession(), resolveReq(metaP, "userA"))
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	all, err := env.store.ListConnections(context.Background(), linkL)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
