package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
	"github.com/roach88/grantlink/internal/store"
)

// DefaultMaxCommitAttempts bounds how often a write is re-applied after the
// stored record moved underneath it.
const DefaultMaxCommitAttempts = 3

// RecordStore is the persistence contract the engine consumes.
// *store.Store implements it; errors wrap the store sentinels.
type RecordStore interface {
	FindConnection(ctx context.Context, linkID string, p access.Platform, externalUserID string) (access.ConnectionResult, error)
	GetConnection(ctx context.Context, id string) (access.ConnectionResult, error)
	ListConnections(ctx context.Context, linkID string) ([]access.ConnectionResult, error)
	CreateConnection(ctx context.Context, rec access.ConnectionResult) (access.ConnectionResult, error)
	UpdateConnection(ctx context.Context, rec access.ConnectionResult) (access.ConnectionResult, error)
	DeleteConnection(ctx context.Context, id string) error
	MergeConnections(ctx context.Context, survivor access.ConnectionResult, absorbedID string) (access.ConnectionResult, error)
}

var _ RecordStore = (*store.Store)(nil)

// Engine runs connection reconciliation and access verification.
// An Engine is safe for concurrent use; per-record serialization lives in
// the Session.
type Engine struct {
	store    RecordStore
	registry *platform.Registry
	client   platform.Client
	ids      IDGenerator
	clock    *Clock
	logger   *slog.Logger

	maxCommitAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClient sets the platform client used by Verify and RequestGrant.
func WithClient(c platform.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithIDGenerator sets the generator for new record ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the clock numbering verification cycles.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMaxCommitAttempts sets how many times a stale write is re-applied.
// Values below 1 are treated as 1.
func WithMaxCommitAttempts(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.maxCommitAttempts = n
	}
}

// New creates an Engine over the given store and platform registry.
func New(s RecordStore, registry *platform.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		registry:          registry,
		ids:               UUIDv7Generator{},
		clock:             NewClock(),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxCommitAttempts: DefaultMaxCommitAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the platform registry the engine validates against.
func (e *Engine) Registry() *platform.Registry {
	return e.registry
}

// Adopt loads a persisted record into the session, replacing whatever it held.
func (e *Engine) Adopt(ctx context.Context, sess *Session, id string) (access.ConnectionResult, error) {
	const op = "adopt"
	id = strings.TrimSpace(id)
	if id == "" {
		return access.ConnectionResult{}, invalidRequest(op, "connection id is required")
	}
	if err := sess.mu.Lock(ctx); err != nil {
		return access.ConnectionResult{}, cancelled(op, err)
	}
	defer sess.mu.Unlock()

	rec, err := e.store.GetConnection(ctx, id)
	if err != nil {
		return access.ConnectionResult{}, e.storeError(op, err, id)
	}
	sess.hold(rec)
	return rec, nil
}

// reload refreshes the held record from storage. Callers hold sess.mu.
func (e *Engine) reload(ctx context.Context, op string, sess *Session) error {
	rec, err := e.store.GetConnection(ctx, sess.record.ID)
	if err != nil {
		return e.storeError(op, err, sess.record.ID)
	}
	e.logger.Debug("reloaded stale record", "op", op, "id", rec.ID, "version", rec.Version)
	sess.hold(rec)
	return nil
}

// commitLocked applies mutate to the held record and persists it. When the
// stored record has moved on, the record is reloaded and mutate re-applied.
// A mutate returning false means nothing changed and nothing is written.
// Callers hold sess.mu.
func (e *Engine) commitLocked(ctx context.Context, op string, sess *Session, mutate func(*access.ConnectionResult) bool) (access.ConnectionResult, error) {
	if sess.record == nil {
		return access.ConnectionResult{}, noHeldRecord(op)
	}
	for attempt := 1; ; attempt++ {
		rec := sess.record.Clone()
		if !mutate(&rec) {
			return rec, nil
		}
		updated, err := e.store.UpdateConnection(ctx, rec)
		if err == nil {
			sess.hold(updated)
			return updated, nil
		}
		if errors.Is(err, store.ErrStaleRecord) && attempt < e.maxCommitAttempts {
			if rerr := e.reload(ctx, op, sess); rerr != nil {
				return access.ConnectionResult{}, rerr
			}
			continue
		}
		return access.ConnectionResult{}, e.storeError(op, err, rec.ID)
	}
}

// storeError maps a store error onto the engine taxonomy.
func (e *Engine) storeError(op string, err error, ids ...string) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Code: ErrCodeNotFound, Op: op, Stage: StageStorage, Message: "connection record does not exist", RecordIDs: ids, Err: err}
	}
	se := storageFailure(op, err)
	se.RecordIDs = ids
	e.logger.Error("storage call failed", "op", op, "records", ids, "error", err)
	return se
}

func (e *Engine) validPlatform(op string, p access.Platform) error {
	if _, ok := e.registry.Descriptor(p); !ok {
		return invalidRequest(op, "unknown platform %q", p)
	}
	return nil
}

func cancelled(op string, err error) *Error {
	return &Error{Code: ErrCodeNetworkFailure, Op: op, Message: "operation cancelled", Err: err}
}
