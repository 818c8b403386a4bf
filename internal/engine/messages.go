package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/grantlink/internal/access"
)

const genericRetry = "Something went wrong. Please try again."

// UserMessage returns the text to show a client for an engine error.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return genericRetry
	}
	switch e.Code {
	case ErrCodeNotAuthenticated:
		return fmt.Sprintf("Connect your %s account to continue.", e.Platform)
	case ErrCodeNetworkFailure:
		if e.Stage == StagePlatform {
			return fmt.Sprintf("We could not reach %s. Please try again in a moment.", e.Platform)
		}
		return genericRetry
	case ErrCodeNotFound:
		if e.Stage == StagePlatform {
			return fmt.Sprintf("%s could not find %s. Check the id and try again.", e.Platform, e.EntityID)
		}
		return "We could not find this connection. Open your invitation link again to continue."
	case ErrCodeConflictOnMerge:
		return "This account is already linked to a different connection. Contact the agency to continue."
	case ErrCodeInvalidRequest:
		return "Some details of this request are not valid. Check them and try again."
	default:
		return genericRetry
	}
}

func outcomeMessage(out Outcome) string {
	switch out.State {
	case access.StateGranted:
		return fmt.Sprintf("Access to %s %s is confirmed.", out.Service, out.EntityID)
	case access.StateIncorrectAccess:
		return fmt.Sprintf("%s has %s access to %s %s, but %s is needed. Change the permission level, then check again.",
			out.Identity, out.ActualLevel, out.Service, out.EntityID, out.ExpectedLevel)
	case access.StateNotGranted:
		return fmt.Sprintf("%s does not have access to %s %s yet. Add it in %s, then check again.",
			out.Identity, out.Service, out.EntityID, out.Platform)
	default:
		return ""
	}
}
