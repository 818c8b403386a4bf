package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/grantlink/internal/access"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotAuthenticated indicates a platform credential is missing or
	// was rejected. Nothing was mutated.
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// ErrCodeNetworkFailure indicates a platform or storage call failed or
	// was cancelled. Nothing was committed; the operation may be retried.
	ErrCodeNetworkFailure ErrorCode = "NETWORK_FAILURE"

	// ErrCodeNotFound indicates the session holds no record, or the held
	// record no longer exists.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeConflictOnMerge indicates two records hold different identities
	// for the same platform. Both records are kept.
	ErrCodeConflictOnMerge ErrorCode = "CONFLICT_ON_MERGE"

	// ErrCodeInvalidRequest indicates malformed input.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Stage tells which collaborator a NETWORK_FAILURE came from.
type Stage string

const (
	StagePlatform Stage = "platform"
	StageStorage  Stage = "storage"
)

// Error is the structured error returned by every engine operation.
type Error struct {
	Code    ErrorCode
	Op      string
	Stage   Stage
	Message string

	Platform access.Platform
	Service  string
	EntityID string

	// RecordIDs lists the records involved, survivor first for merges.
	RecordIDs []string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", e.Code, e.Op, e.Message)
	if len(e.RecordIDs) > 0 {
		fmt.Fprintf(&b, " (records=%s)", strings.Join(e.RecordIDs, ","))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an engine error, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotAuthenticated reports whether err is a NOT_AUTHENTICATED error.
func IsNotAuthenticated(err error) bool { return CodeOf(err) == ErrCodeNotAuthenticated }

// IsNetworkFailure reports whether err is a NETWORK_FAILURE error.
func IsNetworkFailure(err error) bool { return CodeOf(err) == ErrCodeNetworkFailure }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsConflictOnMerge reports whether err is a CONFLICT_ON_MERGE error.
func IsConflictOnMerge(err error) bool { return CodeOf(err) == ErrCodeConflictOnMerge }

func invalidRequest(op, format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

func storageFailure(op string, err error) *Error {
	return &Error{Code: ErrCodeNetworkFailure, Op: op, Stage: StageStorage, Message: "storage call failed", Err: err}
}

func platformFailure(op string, p access.Platform, err error) *Error {
	return &Error{Code: ErrCodeNetworkFailure, Op: op, Stage: StagePlatform, Platform: p, Message: "platform call failed", Err: err}
}

func notAuthenticated(op string, p access.Platform, err error) *Error {
	return &Error{
		Code:     ErrCodeNotAuthenticated,
		Op:       op,
		Platform: p,
		Message:  fmt.Sprintf("no valid %s credential in session", p),
		Err:      err,
	}
}

func noHeldRecord(op string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Message: "session holds no connection record"}
}
