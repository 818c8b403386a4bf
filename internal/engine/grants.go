package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

// UpsertGrantedAccess records entry in the held record's list for p. An
// existing entry for the same (service, entity) is replaced in place;
// otherwise entry is appended.
func (e *Engine) UpsertGrantedAccess(ctx context.Context, sess *Session, p access.Platform, entry access.GrantedAccess) (access.ConnectionResult, error) {
	const op = "upsert"
	entry.Service = strings.TrimSpace(entry.Service)
	entry.EntityID = strings.TrimSpace(entry.EntityID)
	if err := e.validServiceOf(op, p, entry.Service); err != nil {
		return access.ConnectionResult{}, err
	}
	if entry.EntityID == "" {
		return access.ConnectionResult{}, invalidRequest(op, "entity id is required")
	}
	if !entry.AccessType.Valid() {
		return access.ConnectionResult{}, invalidRequest(op, "invalid access type %q", entry.AccessType)
	}

	if err := sess.mu.Lock(ctx); err != nil {
		return access.ConnectionResult{}, cancelled(op, err)
	}
	defer sess.mu.Unlock()

	return e.commitLocked(ctx, op, sess, func(r *access.ConnectionResult) bool {
		r.UpsertAccess(p, entry)
		return true
	})
}

// RemoveGrantedAccess drops the entry for (service, entityID) from the held
// record's list for p. Removing a missing entry writes nothing.
func (e *Engine) RemoveGrantedAccess(ctx context.Context, sess *Session, p access.Platform, service, entityID string) (access.ConnectionResult, error) {
	const op = "remove"
	service = strings.TrimSpace(service)
	entityID = strings.TrimSpace(entityID)
	if err := e.validServiceOf(op, p, service); err != nil {
		return access.ConnectionResult{}, err
	}
	if entityID == "" {
		return access.ConnectionResult{}, invalidRequest(op, "entity id is required")
	}

	if err := sess.mu.Lock(ctx); err != nil {
		return access.ConnectionResult{}, cancelled(op, err)
	}
	defer sess.mu.Unlock()

	return e.commitLocked(ctx, op, sess, func(r *access.ConnectionResult) bool {
		return r.RemoveAccess(p, service, entityID)
	})
}

// GrantRequest asks the platform to grant an agency identity access to an
// entity.
type GrantRequest struct {
	Service    string
	EntityID   string
	AccessType access.AccessType
	Identity   string
}

// RequestGrant calls the platform grant API with the session's credential.
// It never touches the held record; Verify confirms the outcome.
func (e *Engine) RequestGrant(ctx context.Context, sess *Session, req GrantRequest) error {
	const op = "request_grant"
	svc, err := e.service(op, req.Service)
	if err != nil {
		return err
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.Identity = strings.TrimSpace(req.Identity)
	switch {
	case req.EntityID == "":
		return invalidRequest(op, "entity id is required")
	case req.Identity == "":
		return invalidRequest(op, "agency identity is required")
	case !req.AccessType.Valid():
		return invalidRequest(op, "invalid access type %q", req.AccessType)
	case e.client == nil:
		return invalidRequest(op, "no platform client configured")
	}

	creds, ok := sess.credentialsFor(svc.Platform)
	if !ok {
		return notAuthenticated(op, svc.Platform, nil)
	}

	err = e.client.GrantAccess(ctx, platform.GrantRequest{
		Platform:        svc.Platform,
		Service:         svc.Name,
		EntityID:        req.EntityID,
		AccessType:      req.AccessType,
		PermissionLevel: svc.Comparator.Compare(req.AccessType, nil).Expected,
		AgencyIdentity:  req.Identity,
		Credentials:     creds,
	})
	if err != nil {
		return e.platformError(op, svc, req.EntityID, err)
	}
	e.logger.Info("grant requested",
		"platform", svc.Platform, "service", svc.Name, "entity", req.EntityID, "access", req.AccessType)
	return nil
}

func (e *Engine) service(op, name string) (platform.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return platform.Service{}, invalidRequest(op, "service is required")
	}
	svc, ok := e.registry.Service(name)
	if !ok {
		return platform.Service{}, invalidRequest(op, "unknown service %q", name)
	}
	return svc, nil
}

func (e *Engine) validServiceOf(op string, p access.Platform, service string) error {
	if err := e.validPlatform(op, p); err != nil {
		return err
	}
	svc, err := e.service(op, service)
	if err != nil {
		return err
	}
	if svc.Platform != p {
		return invalidRequest(op, "service %s belongs to %s, not %s", svc.Name, svc.Platform, p)
	}
	return nil
}

// platformError maps a platform client error onto the engine taxonomy.
func (e *Engine) platformError(op string, svc platform.Service, entityID string, err error) *Error {
	var out *Error
	switch {
	case errors.Is(err, platform.ErrUnauthorized):
		out = notAuthenticated(op, svc.Platform, err)
	case errors.Is(err, platform.ErrEntityNotFound):
		out = &Error{Code: ErrCodeNotFound, Op: op, Stage: StagePlatform, Platform: svc.Platform, Message: "entity does not exist on platform", Err: err}
	default:
		out = platformFailure(op, svc.Platform, err)
		e.logger.Warn("platform call failed",
			"op", op, "platform", svc.Platform, "service", svc.Name, "entity", entityID, "error", err)
	}
	out.Service = svc.Name
	out.EntityID = entityID
	return out
}
