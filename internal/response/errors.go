package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Test-specific ─────────────────────────────────────────────────
	ErrTestConflict       ErrCode = "TEST_ALREADY_ACTIVE"
	ErrTestEnded          ErrCode = "TEST_ENDED"
	ErrTestPaused         ErrCode = "TEST_PAUSED"
	ErrTestNotEnded       ErrCode = "TEST_NOT_ENDED"
	ErrSuiteComplete      ErrCode = "SUITE_COMPLETE"
	ErrInvariantViolation ErrCode = "INVARIANT_VIOLATION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrSessionInvalidated:
		return "You have been signed out because your account logged in on another device."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "You do not have access to this resource."

	// ─── Test-specific ─────────────────────────────────────────────────
	case ErrTestConflict:
		return "You already have an ongoing test."
	case ErrTestEnded:
		return "Test has ended, you can't submit answers for an ended test."
	case ErrTestPaused:
		return "Test is paused, resume to submit answers."
	case ErrTestNotEnded:
		return "Test is not ended yet."
	case ErrSuiteComplete:
		return "You have answered all questions in the suite."
	case ErrInvariantViolation:
		return "The test time journal is inconsistent. Please contact support."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
