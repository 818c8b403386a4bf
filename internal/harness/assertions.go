package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/grantlink/internal/store"
)

// AssertionContext provides what assertions need to inspect final state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Link  string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRecordCount:
		return assertRecordCount(a, actx)
	case AssertRecordAbsent:
		return assertRecordAbsent(a, actx)
	case AssertIdentity:
		return assertIdentity(a, actx)
	case AssertAccess:
		return assertAccess(a, actx)
	case AssertNoAccess:
		return assertNoAccess(a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertRecordCount(a Assertion, actx *AssertionContext) error {
	link := actx.Link
	if a.Link != "" {
		link = a.Link
	}
	recs, err := actx.Store.ListConnections(actx.Ctx, link)
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d record(s) for %s", a.Count, link),
			Actual:   fmt.Sprintf("%d [%s]", len(recs), strings.Join(ids, ",")),
		}
	}
	return nil
}

func assertRecordAbsent(a Assertion, actx *AssertionContext) error {
	_, err := actx.Store.GetConnection(actx.Ctx, a.Record)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	default:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("no record %s", a.Record), Actual: "record exists"}
	}
}

func assertIdentity(a Assertion, actx *AssertionContext) error {
	rec, err := actx.Store.GetConnection(actx.Ctx, a.Record)
	if err != nil {
		return fmt.Errorf("record %s: %w", a.Record, err)
	}
	got, _ := rec.UserID(a.Platform)
	if got != a.User {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s identity %q on %s", a.Platform, a.User, a.Record),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

func assertAccess(a Assertion, actx *AssertionContext) error {
	rec, err := actx.Store.GetConnection(actx.Ctx, a.Record)
	if err != nil {
		return fmt.Errorf("record %s: %w", a.Record, err)
	}
	entry, ok := rec.FindAccess(a.Platform, a.Service, a.Entity)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entry %s/%s on %s %s", a.Service, a.Entity, a.Record, a.Platform),
			Actual:   "no entry",
		}
	}
	got := entry.CanonicalMap()
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !reflect.DeepEqual(got[k], a.Expect[k]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s=%v", k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s=%v", k, got[k]),
			}
		}
	}
	return nil
}

func assertNoAccess(a Assertion, actx *AssertionContext) error {
	rec, err := actx.Store.GetConnection(actx.Ctx, a.Record)
	if err != nil {
		return fmt.Errorf("record %s: %w", a.Record, err)
	}
	if entry, ok := rec.FindAccess(a.Platform, a.Service, a.Entity); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("no entry %s/%s on %s %s", a.Service, a.Entity, a.Record, a.Platform),
			Actual:   fmt.Sprintf("%+v", entry),
		}
	}
	return nil
}
