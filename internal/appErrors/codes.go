package appErrors

// Error codes grouped by domain.
const (
	// Authentication
	CodeInvalidCredentials     ErrorCode = "INVALID_CREDENTIALS"
	CodeAuthenticationRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	CodeForbidden              ErrorCode = "FORBIDDEN"
	CodeInvalidToken           ErrorCode = "INVALID_TOKEN"

	// Validation
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Webhooks
	CodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	CodeParseError       ErrorCode = "PARSE_ERROR"

	// Ledger / state machine
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeNotFound          ErrorCode = "NOT_FOUND"

	// Gateway
	CodeGatewayDeclined       ErrorCode = "GATEWAY_DECLINED"
	CodeGatewayNetwork        ErrorCode = "GATEWAY_NETWORK"
	CodeGatewayInvalidRequest ErrorCode = "GATEWAY_INVALID_REQUEST"

	// Enrollment
	CodeEnrollmentTransient ErrorCode = "ENROLLMENT_TRANSIENT"
	CodeEnrollmentPermanent ErrorCode = "ENROLLMENT_PERMANENT"

	// API guard
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// System
	CodeInternalError ErrorCode = "INTERNAL_ERROR"
	CodeDatabaseError ErrorCode = "DATABASE_ERROR"
)
