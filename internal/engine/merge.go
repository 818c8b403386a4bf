package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/store"
)

// AttachSecondIdentity attaches userID as the platform identity of the held
// record. When another record of the same link already carries that
// identity, its granted accesses are absorbed into the held record (incoming
// entries win on key collisions) and it is deleted in the same transaction.
// Attaching an identity that is already attached is a no-op.
func (e *Engine) AttachSecondIdentity(ctx context.Context, sess *Session, p access.Platform, userID string) (access.ConnectionResult, error) {
	const op = "attach"
	if err := e.validPlatform(op, p); err != nil {
		return access.ConnectionResult{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return access.ConnectionResult{}, invalidRequest(op, "external user id is required")
	}

	if err := sess.mu.Lock(ctx); err != nil {
		return access.ConnectionResult{}, cancelled(op, err)
	}
	defer sess.mu.Unlock()

	if sess.record == nil {
		return access.ConnectionResult{}, noHeldRecord(op)
	}
	return e.attachLocked(ctx, op, sess, p, userID)
}

// attachLocked does the work of AttachSecondIdentity. Callers hold sess.mu.
func (e *Engine) attachLocked(ctx context.Context, op string, sess *Session, p access.Platform, userID string) (access.ConnectionResult, error) {
	for attempt := 1; ; attempt++ {
		held := sess.record.Clone()
		if current, ok := held.UserID(p); ok {
			if current == userID {
				return held, nil
			}
			return access.ConnectionResult{}, e.conflict(op, held, held, p,
				fmt.Sprintf("record already holds %s identity %s", p, current))
		}

		other, err := e.store.FindConnection(ctx, held.ConnectionLinkID, p, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			held.SetUserID(p, userID)
			updated, err := e.store.UpdateConnection(ctx, held)
			if err == nil {
				sess.hold(updated)
				e.logger.Info("attached identity", "id", updated.ID, "platform", p)
				return updated, nil
			}
			if retryable(err) && attempt < e.maxCommitAttempts {
				if rerr := e.reload(ctx, op, sess); rerr != nil {
					return access.ConnectionResult{}, rerr
				}
				continue
			}
			return access.ConnectionResult{}, e.storeError(op, err, held.ID)
		case err != nil:
			return access.ConnectionResult{}, e.storeError(op, err, held.ID)
		}

		if other.ID == held.ID {
			sess.hold(other)
			return other, nil
		}
		if reason, ok := mergeConflict(held, other, p); ok {
			return access.ConnectionResult{}, e.conflict(op, held, other, p, reason)
		}

		merged := held.Clone()
		merged.AbsorbAccesses(other)
		for _, q := range other.Platforms() {
			if _, ok := merged.UserID(q); !ok {
				id, _ := other.UserID(q)
				merged.SetUserID(q, id)
			}
		}
		merged.SetUserID(p, userID)

		survivor, err := e.store.MergeConnections(ctx, merged, other.ID)
		if err == nil {
			sess.hold(survivor)
			e.logger.Info("merged connection records",
				"survivor", survivor.ID, "absorbed", other.ID, "platform", p)
			return survivor, nil
		}
		if retryable(err) && attempt < e.maxCommitAttempts {
			if rerr := e.reload(ctx, op, sess); rerr != nil {
				return access.ConnectionResult{}, rerr
			}
			continue
		}
		return access.ConnectionResult{}, e.storeError(op, err, held.ID, other.ID)
	}
}

// mergeConflict reports why held and other cannot become one record: they
// belong to different agencies, or both hold an identity for some platform
// and the identities differ.
func mergeConflict(held, other access.ConnectionResult, attaching access.Platform) (string, bool) {
	if held.AgencyID != other.AgencyID {
		return fmt.Sprintf("agency %s differs from %s", held.AgencyID, other.AgencyID), true
	}
	for _, p := range other.Platforms() {
		if p == attaching {
			continue
		}
		theirs, _ := other.UserID(p)
		if ours, ok := held.UserID(p); ok && ours != theirs {
			return fmt.Sprintf("both records hold a %s identity (%s, %s)", p, ours, theirs), true
		}
	}
	return "", false
}

func (e *Engine) conflict(op string, held, other access.ConnectionResult, p access.Platform, reason string) *Error {
	ids := []string{held.ID}
	if other.ID != held.ID {
		ids = append(ids, other.ID)
	}
	e.logger.Warn("refusing to merge connection records",
		"records", ids, "platform", p, "reason", reason)
	return &Error{
		Code:      ErrCodeConflictOnMerge,
		Op:        op,
		Stage:     StageStorage,
		Platform:  p,
		Message:   reason,
		RecordIDs: ids,
	}
}

// retryable reports whether a write lost a race and may be re-applied after
// a reload.
func retryable(err error) bool {
	return errors.Is(err, store.ErrStaleRecord) ||
		errors.Is(err, store.ErrDuplicateIdentity) ||
		errors.Is(err, store.ErrNotFound)
}
