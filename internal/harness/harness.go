package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/engine"
	"github.com/roach88/grantlink/internal/platform"
	"github.com/roach88/grantlink/internal/store"
	"github.com/roach88/grantlink/internal/testutil"
)

// scenarioToken is the credential every scenario session holds for the
// platforms listed under credentials.
const scenarioToken = "scenario-token"

// Harness runs one scenario.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	registry *platform.Registry
	fake     *testutil.FakePlatform
	sessions map[string]*engine.Session
	logger   *slog.Logger
}

// RunOption configures a run.
type RunOption func(*runConfig)

type runConfig struct {
	registry *platform.Registry
	logger   *slog.Logger
}

// WithRegistry runs the scenario against custom platform descriptors.
func WithRegistry(r *platform.Registry) RunOption {
	return func(c *runConfig) {
		c.registry = r
	}
}

// WithLogger sends engine logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with its own fake
// platform. An error is returned only when the run itself could not be
// carried out; failed expectations are reported in the Result.
func Run(scenario *Scenario, opts ...RunOption) (result *Result, err error) {
	cfg := runConfig{
		registry: platform.Default(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	fake := testutil.NewFakePlatform()
	for _, e := range scenario.EntityUsers {
		users := make([]access.EntityUser, len(e.Users))
		for i, u := range e.Users {
			users[i] = testutil.User(u.Identity, u.Levels...)
		}
		fake.SetEntityUsers(e.Service, e.Entity, users...)
	}

	h := &Harness{
		scenario: scenario,
		store:    st,
		registry: cfg.registry,
		fake:     fake,
		sessions: map[string]*engine.Session{},
		logger:   cfg.logger,
		engine: engine.New(st, cfg.registry,
			engine.WithClient(fake),
			engine.WithIDGenerator(engine.NewFixedGenerator(scenario.IDs...)),
			engine.WithLogger(cfg.logger),
		),
	}

	// FixedGenerator panics once the scenario's ids run out.
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("scenario %s: %v", scenario.Name, r)
		}
	}()

	ctx := context.Background()
	result = NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	records, err := h.finalRecords(ctx)
	if err != nil {
		return nil, err
	}
	result.Records = records

	actx := &AssertionContext{Store: st, Ctx: ctx, Link: scenario.Link}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) session(name string) *engine.Session {
	sess, ok := h.sessions[name]
	if !ok {
		sess = engine.NewSession()
		for _, p := range h.scenario.Credentials {
			sess.SetCredentials(p, platform.Credentials{Token: scenarioToken})
		}
		h.sessions[name] = sess
	}
	return sess
}

// executeStep runs one step, appends its trace event and checks its
// expectation.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	sess := h.session(step.Session)
	ev := TraceEvent{Seq: int64(i + 1), Op: step.Op, Session: step.Session}

	link, agency := h.scenario.Link, h.scenario.Agency
	if step.Link != "" {
		link = step.Link
	}
	if step.Agency != "" {
		agency = step.Agency
	}

	var err error
	switch step.Op {
	case OpResolve:
		_, err = h.engine.Resolve(ctx, sess, engine.ResolveRequest{
			Platform:         step.Platform,
			ExternalUserID:   step.User,
			ConnectionLinkID: link,
			AgencyID:         agency,
			AccessType:       access.AccessType(step.Access),
		})
	case OpAttach:
		_, err = h.engine.AttachSecondIdentity(ctx, sess, step.Platform, step.User)
	case OpUpsert:
		entry := access.GrantedAccess{
			Service:    step.Service,
			EntityID:   step.Entity,
			AccessType: access.AccessType(step.Access),
			Success:    step.Success == nil || *step.Success,
		}
		if svc, ok := h.registry.Service(step.Service); ok && step.Identity != "" {
			svc.IdentityField.Apply(&entry, step.Identity)
		}
		_, err = h.engine.UpsertGrantedAccess(ctx, sess, step.Platform, entry)
	case OpRemove:
		_, err = h.engine.RemoveGrantedAccess(ctx, sess, step.Platform, step.Service, step.Entity)
	case OpVerify:
		var out engine.Outcome
		out, err = h.engine.Verify(ctx, sess, engine.VerifyRequest{
			Service:    step.Service,
			EntityID:   step.Entity,
			AccessType: access.AccessType(step.Access),
			Identity:   step.Identity,
		})
		ev.State = string(out.State)
		ev.ExpectedLevel = out.ExpectedLevel
		ev.ActualLevel = out.ActualLevel
		ev.Cycle = out.Cycle
	}

	ev.Result = "ok"
	if err != nil {
		ev.Result = string(engine.CodeOf(err))
		if ev.Result == "" {
			ev.Result = "ERROR"
		}
	}
	if held, ok := sess.Record(); ok {
		ev.RecordID = held.ID
	}
	result.Trace = append(result.Trace, ev)

	h.logger.Debug("scenario step completed", "step", i, "op", step.Op, "result", ev.Result)

	prefix := fmt.Sprintf("steps[%d] %s on %s", i, step.Op, step.Session)
	want := step.Expect
	switch {
	case want == nil || want.Error == "":
		if err != nil {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
		}
	case ev.Result != want.Error:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s", prefix, want.Error, ev.Result))
	}
	if want != nil && want.State != "" && ev.State != want.State {
		result.AddError(fmt.Sprintf("%s: expected state %s, got %s", prefix, want.State, ev.State))
	}
}

// finalRecords lists the stored records of every link the scenario touched,
// in order of first use.
func (h *Harness) finalRecords(ctx context.Context) ([]access.ConnectionResult, error) {
	links := []string{h.scenario.Link}
	seen := map[string]bool{h.scenario.Link: true}
	for _, step := range h.scenario.Steps {
		if step.Link != "" && !seen[step.Link] {
			seen[step.Link] = true
			links = append(links, step.Link)
		}
	}

	out := []access.ConnectionResult{}
	for _, link := range links {
		recs, err := h.store.ListConnections(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("failed to list records for %s: %w", link, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}
