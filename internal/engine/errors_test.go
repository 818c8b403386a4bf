package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{
		Code:      ErrCodeConflictOnMerge,
		Op:        "attach",
		Message:   "both records hold a meta identity",
		RecordIDs: []string{"rec-1", "rec-2"},
		Err:       cause,
	}
	assert.Equal(t, "CONFLICT_ON_MERGE: attach: both records hold a meta identity (records=rec-1,rec-2): disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("flow step: %w", noHeldRecord("upsert"))
	assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflictOnMerge(err))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not authenticated", notAuthenticated("verify", "meta", nil), "Connect your meta account to continue."},
		{"platform failure", platformFailure("verify", "google", errors.New("x")), "We could not reach google. Please try again in a moment."},
		{"storage failure", storageFailure("upsert", errors.New("x")), "Something went wrong. Please try again."},
		{"cancelled", cancelled("upsert", errors.New("x")), "Something went wrong. Please try again."},
		{"no record", noHeldRecord("upsert"), "We could not find this connection. Open your invitation link again to continue."},
		{"conflict", &Error{Code: ErrCodeConflictOnMerge}, "This account is already linked to a different connection. Contact the agency to continue."},
		{"invalid", invalidRequest("resolve", "bad"), "Some details of this request are not valid. Check them and try again."},
		{"plain", errors.New("x"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
