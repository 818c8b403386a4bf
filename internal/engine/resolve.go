package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/store"
)

// ResolveRequest identifies the client authenticating on a platform.
type ResolveRequest struct {
	Platform         access.Platform
	ExternalUserID   string
	ConnectionLinkID string
	AgencyID         string
	AccessType       access.AccessType
}

func (r ResolveRequest) normalized() ResolveRequest {
	r.ExternalUserID = strings.TrimSpace(r.ExternalUserID)
	r.ConnectionLinkID = strings.TrimSpace(r.ConnectionLinkID)
	r.AgencyID = strings.TrimSpace(r.AgencyID)
	return r
}

// Resolve ensures the session holds the connection record for req.
//
// A held record without an identity for the platform gets one attached,
// merging any other record of the link that already carries it. A held
// record that already has an identity for the platform is returned as is.
// Without a held record, the stored record carrying the identity is adopted,
// or a new one is created in a single write.
func (e *Engine) Resolve(ctx context.Context, sess *Session, req ResolveRequest) (access.ConnectionResult, error) {
	const op = "resolve"
	req = req.normalized()
	if err := e.validPlatform(op, req.Platform); err != nil {
		return access.ConnectionResult{}, err
	}
	switch {
	case req.ExternalUserID == "":
		return access.ConnectionResult{}, invalidRequest(op, "external user id is required")
	case req.ConnectionLinkID == "":
		return access.ConnectionResult{}, invalidRequest(op, "connection link id is required")
	case req.AgencyID == "":
		return access.ConnectionResult{}, invalidRequest(op, "agency id is required")
	case !req.AccessType.Valid():
		return access.ConnectionResult{}, invalidRequest(op, "invalid access type %q", req.AccessType)
	}

	if err := sess.mu.Lock(ctx); err != nil {
		return access.ConnectionResult{}, cancelled(op, err)
	}
	defer sess.mu.Unlock()

	if held := sess.record; held != nil {
		if held.ConnectionLinkID != req.ConnectionLinkID {
			return access.ConnectionResult{}, invalidRequest(op,
				"session holds a record for link %s, not %s", held.ConnectionLinkID, req.ConnectionLinkID)
		}
		if id, ok := held.UserID(req.Platform); ok {
			if id != req.ExternalUserID {
				e.logger.Debug("held record already has an identity for platform",
					"id", held.ID, "platform", req.Platform)
			}
			return held.Clone(), nil
		}
		return e.attachLocked(ctx, op, sess, req.Platform, req.ExternalUserID)
	}

	for attempt := 1; ; attempt++ {
		found, err := e.store.FindConnection(ctx, req.ConnectionLinkID, req.Platform, req.ExternalUserID)
		if err == nil {
			sess.hold(found)
			e.logger.Debug("adopted existing record", "id", found.ID, "platform", req.Platform)
			return found, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return access.ConnectionResult{}, e.storeError(op, err)
		}

		rec := access.NewConnectionResult(e.ids.Generate(), req.AgencyID, req.ConnectionLinkID, req.AccessType, e.registry.Platforms())
		rec.SetUserID(req.Platform, req.ExternalUserID)
		created, err := e.store.CreateConnection(ctx, rec)
		if err == nil {
			sess.hold(created)
			e.logger.Info("created connection record",
				"id", created.ID, "link", created.ConnectionLinkID, "platform", req.Platform)
			return created, nil
		}
		// Another session created the identity first; adopt its record.
		if errors.Is(err, store.ErrDuplicateIdentity) && attempt < e.maxCommitAttempts {
			continue
		}
		return access.ConnectionResult{}, e.storeError(op, err, rec.ID)
	}
}
