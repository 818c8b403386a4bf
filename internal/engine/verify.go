package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

// VerifyRequest names the grant to confirm.
type VerifyRequest struct {
	Service    string
	EntityID   string
	AccessType access.AccessType
	Identity   string
}

// Outcome is the result of one verification check cycle.
type Outcome struct {
	State    access.VerificationState
	Platform access.Platform
	Service  string
	EntityID string
	Identity string

	// ExpectedLevel and ActualLevel are set for graded services.
	ExpectedLevel string
	ActualLevel   string

	// Cycle numbers the check; later checks have larger numbers.
	Cycle int64

	// Entry and Record are set when the check wrote a granted access.
	Entry  *access.GrantedAccess
	Record *access.ConnectionResult

	Message string
}

// Verify runs one check cycle for (service, entity): it asks the platform who
// has access, looks for the agency identity and compares its permission
// level with the one the access type requires.
//
// A matching level is granted; any other level is incorrect_access. Both
// upsert a GrantedAccess with success=true and the observed level. An absent
// identity, an identity listed without any level, or a session without a
// held record is not_granted and writes nothing. A missing credential is
// reported before anything else. When the check fails or is cancelled the state stays pending, the
// returned error says why, and nothing is written.
func (e *Engine) Verify(ctx context.Context, sess *Session, req VerifyRequest) (Outcome, error) {
	const op = "verify"
	svc, err := e.service(op, req.Service)
	if err != nil {
		return Outcome{}, err
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.Identity = strings.TrimSpace(req.Identity)
	switch {
	case req.EntityID == "":
		return Outcome{}, invalidRequest(op, "entity id is required")
	case req.Identity == "":
		return Outcome{}, invalidRequest(op, "agency identity is required")
	case !req.AccessType.Valid():
		return Outcome{}, invalidRequest(op, "invalid access type %q", req.AccessType)
	case e.client == nil:
		return Outcome{}, invalidRequest(op, "no platform client configured")
	}

	key := access.Key(svc.Name, req.EntityID)
	unlock, err := sess.checks.Lock(ctx, key)
	if err != nil {
		return Outcome{}, cancelled(op, err)
	}
	defer unlock()

	out := Outcome{
		State:         access.StatePending,
		Platform:      svc.Platform,
		Service:       svc.Name,
		EntityID:      req.EntityID,
		Identity:      req.Identity,
		ExpectedLevel: svc.Comparator.Compare(req.AccessType, nil).Expected,
		Cycle:         e.clock.Next(),
	}
	sess.setState(key, access.StatePending)
	log := e.logger.With("service", svc.Name, "entity", req.EntityID, "cycle", out.Cycle)

	creds, ok := sess.credentialsFor(svc.Platform)
	if !ok {
		return out, notAuthenticated(op, svc.Platform, nil)
	}

	if _, held := sess.Record(); !held {
		log.Debug("no held record, nothing to verify against")
		return e.finish(sess, key, out, access.StateNotGranted), nil
	}

	users, err := e.client.QueryEntityUsers(ctx, platform.EntityUsersRequest{
		Platform:     svc.Platform,
		Service:      svc.Name,
		EntityID:     req.EntityID,
		Credentials:  creds,
		AgencyFilter: req.Identity,
	})
	if err != nil && !errors.Is(err, platform.ErrEntityNotFound) {
		return out, e.platformError(op, svc, req.EntityID, err)
	}
	if err := ctx.Err(); err != nil {
		return out, cancelled(op, err)
	}

	user, found := findIdentity(users, req.Identity)
	if !found {
		log.Debug("identity not among entity users", "users", len(users))
		return e.finish(sess, key, out, access.StateNotGranted), nil
	}

	verdict := svc.Comparator.Compare(req.AccessType, user.PermissionLevels)
	if !verdict.Match && verdict.Actual == "" {
		log.Debug("identity listed without a permission level")
		return e.finish(sess, key, out, access.StateNotGranted), nil
	}
	out.ActualLevel = verdict.Actual
	state := access.StateGranted
	if !verdict.Match {
		state = access.StateIncorrectAccess
	}

	entry := access.GrantedAccess{
		Service:         svc.Name,
		EntityID:        req.EntityID,
		AccessType:      req.AccessType,
		Success:         true,
		PermissionLevel: verdict.Actual,
	}
	svc.IdentityField.Apply(&entry, req.Identity)

	if err := sess.mu.Lock(ctx); err != nil {
		return out, cancelled(op, err)
	}
	rec, err := e.commitLocked(ctx, op, sess, func(r *access.ConnectionResult) bool {
		if cur, ok := r.FindAccess(svc.Platform, entry.Service, entry.EntityID); ok && cur == entry {
			return false
		}
		r.UpsertAccess(svc.Platform, entry)
		return true
	})
	sess.mu.Unlock()
	if err != nil {
		if IsNotFound(err) {
			log.Debug("held record vanished before commit")
			return e.finish(sess, key, out, access.StateNotGranted), nil
		}
		return out, err
	}

	out.Entry = &entry
	out.Record = &rec
	out = e.finish(sess, key, out, state)
	if state == access.StateIncorrectAccess {
		log.Info("agency identity holds the wrong permission level",
			"expected", out.ExpectedLevel, "actual", out.ActualLevel)
	} else {
		log.Info("access verified", "level", out.ActualLevel)
	}
	return out, nil
}

func (e *Engine) finish(sess *Session, key string, out Outcome, state access.VerificationState) Outcome {
	out.State = state
	out.Message = outcomeMessage(out)
	sess.setState(key, state)
	return out
}

// findIdentity returns the first user whose identity matches. Identities
// compare case-insensitively after trimming.
func findIdentity(users []access.EntityUser, identity string) (access.EntityUser, bool) {
	for _, u := range users {
		if strings.EqualFold(strings.TrimSpace(u.Identity), identity) {
			return u, true
		}
	}
	return access.EntityUser{}, false
}
