package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind buckets an error by how the engine must react to it, independent of
// which subsystem produced it.
type Kind string

const (
	// KindConfiguration - bad config, missing account, unknown provider.
	// Fatal for the affected account.
	KindConfiguration Kind = "configuration"

	// KindCredential - missing/unreadable/malformed secret on disk.
	// Fatal for the affected account.
	KindCredential Kind = "credential"

	// KindAuthentication - provider rejected the credentials.
	// Fatal for the current run; surfaced to the operator.
	KindAuthentication Kind = "authentication"

	// KindTransport - network timeout, reset, DNS. Retryable.
	KindTransport Kind = "transport"

	// KindProtocol - malformed server response (LIST line, IDLE reply).
	// Logged; callers fall back or reconnect.
	KindProtocol Kind = "protocol"

	// KindProviderPolicy - permission denied, quota. Non-retryable for the
	// item; the run continues.
	KindProviderPolicy Kind = "provider_policy"

	// KindInference - model output unusable. Callers degrade to defaults.
	KindInference Kind = "inference"

	// KindInvariant - out-of-taxonomy tag, out-of-range confidence.
	// Normalized silently; carried only for diagnostics.
	KindInvariant Kind = "invariant"

	// KindQueueTerminal - pending operation exhausted its attempts.
	KindQueueTerminal Kind = "queue_terminal"

	// KindInternal - everything else (store failures, programming errors).
	KindInternal Kind = "internal"
)

// Error codes
const (
	CodeBadConfig       = "BAD_CONFIG"
	CodeUnknownProvider = "UNKNOWN_PROVIDER"
	CodeAccountMissing  = "ACCOUNT_MISSING"

	CodeCredentialMissing = "CREDENTIAL_MISSING"
	CodeCredentialShape   = "CREDENTIAL_SHAPE"
	CodeCredentialParse   = "CREDENTIAL_PARSE"

	CodeAuthRejected = "AUTH_REJECTED"
	CodeTokenExpired = "TOKEN_EXPIRED"

	CodeTimeout     = "TIMEOUT"
	CodeConnection  = "CONNECTION_FAILED"
	CodeRateLimited = "RATE_LIMITED"

	CodeProtocol      = "PROTOCOL_ERROR"
	CodePolicyDenied  = "POLICY_DENIED"
	CodeInference     = "INFERENCE_ERROR"
	CodeInvariant     = "INVARIANT_VIOLATION"
	CodeQueueTerminal = "QUEUE_TERMINAL"

	CodeNotFound      = "NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
)

// Error is the structured error used across the engine.
type Error struct {
	Kind      Kind           `json:"kind"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Err       error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

// HTTPStatus maps the kind to a control-plane status code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	}
	switch e.Kind {
	case KindConfiguration, KindInvariant:
		return http.StatusBadRequest
	case KindCredential, KindAuthentication:
		return http.StatusUnauthorized
	case KindProviderPolicy:
		return http.StatusForbidden
	case KindTransport:
		return http.StatusBadGateway
	case KindInference, KindProtocol:
		return http.StatusBadGateway
	case KindQueueTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Configuration errors

func BadConfig(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeBadConfig, Message: message}
}

func UnknownProvider(provider string) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    CodeUnknownProvider,
		Message: fmt.Sprintf("unknown provider kind %q", provider),
		Details: map[string]any{"provider": provider},
	}
}

func AccountMissing(accountID string) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    CodeAccountMissing,
		Message: fmt.Sprintf("account %q is not configured", accountID),
		Details: map[string]any{"account_id": accountID},
	}
}

// Credential errors

func CredentialMissing(path string) *Error {
	return &Error{
		Kind:    KindCredential,
		Code:    CodeCredentialMissing,
		Message: fmt.Sprintf("credential file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

func CredentialShape(path, missing string) *Error {
	return &Error{
		Kind:    KindCredential,
		Code:    CodeCredentialShape,
		Message: fmt.Sprintf("credential file %s is missing required key %q", path, missing),
		Details: map[string]any{"path": path, "key": missing},
	}
}

func CredentialParse(path string, err error) *Error {
	return &Error{
		Kind:    KindCredential,
		Code:    CodeCredentialParse,
		Message: fmt.Sprintf("credential file %s is not valid JSON", path),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// Authentication errors

func AuthRejected(provider string, err error) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Code:    CodeAuthRejected,
		Message: fmt.Sprintf("%s rejected the credentials", provider),
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func TokenExpired(provider string) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Code:    CodeTokenExpired,
		Message: fmt.Sprintf("%s token expired and could not be refreshed", provider),
		Details: map[string]any{"provider": provider},
	}
}

// Transport errors

func Timeout(operation string, err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Code:      CodeTimeout,
		Message:   fmt.Sprintf("operation timed out: %s", operation),
		Retryable: true,
		Err:       err,
	}
}

func Connection(target string, err error) *Error {
	return &Error{
		Kind:      KindTransport,
		Code:      CodeConnection,
		Message:   fmt.Sprintf("connection to %s failed", target),
		Retryable: true,
		Err:       err,
	}
}

func RateLimited(provider string) *Error {
	return &Error{
		Kind:      KindTransport,
		Code:      CodeRateLimited,
		Message:   fmt.Sprintf("%s rate limit exceeded", provider),
		Retryable: true,
	}
}

// Protocol / policy / inference

func Protocol(message string, err error) *Error {
	return &Error{Kind: KindProtocol, Code: CodeProtocol, Message: message, Err: err}
}

func PolicyDenied(message string, err error) *Error {
	return &Error{Kind: KindProviderPolicy, Code: CodePolicyDenied, Message: message, Err: err}
}

func Inference(message string, err error) *Error {
	return &Error{Kind: KindInference, Code: CodeInference, Message: message, Err: err}
}

func Invariant(message string) *Error {
	return &Error{Kind: KindInvariant, Code: CodeInvariant, Message: message}
}

func QueueTerminal(operation string, attempts int) *Error {
	return &Error{
		Kind:    KindQueueTerminal,
		Code:    CodeQueueTerminal,
		Message: fmt.Sprintf("pending %s exhausted its attempts", operation),
		Details: map[string]any{"attempts": attempts},
	}
}

// Store / generic

func NotFound(resource string) *Error {
	return &Error{Kind: KindInternal, Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func InvalidInput(field, reason string) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for %q: %s", field, reason),
		Details: map[string]any{"field": field},
	}
}

func DatabaseError(operation string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Err:     err,
	}
}

func Internal(message string, err error) *Error {
	if message == "" {
		message = "internal error"
	}
	return &Error{Kind: KindInternal, Code: CodeInternalError, Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "unauthorized"
	}
	return &Error{Kind: KindInternal, Code: CodeUnauthorized, Message: message}
}

// Helper functions

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("", err)
}

func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
