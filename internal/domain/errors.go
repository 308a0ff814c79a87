package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrAgentNotReady means no agent capability is bound. Every
	// agent-dependent route surfaces this as a uniform service-unavailable
	// condition; it is never degraded into a chat-shaped reply.
	ErrAgentNotReady = fmt.Errorf("agent not initialized")

	// ErrAgentFailure means the agent itself raised during processing.
	// Caught at the adapter boundary and reported inside a normal-shaped
	// reply whose metadata marks it as an error.
	ErrAgentFailure = fmt.Errorf("agent processing failed")

	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnknownMethod      = fmt.Errorf("method not found")
	ErrUnknownTool        = fmt.Errorf("tool not found")
	ErrUnknownResource    = fmt.Errorf("resource not found")
	ErrUnknownPrompt      = fmt.Errorf("prompt not found")
	ErrAdapterTypeUnknown = fmt.Errorf("unknown adapter type")
	ErrNotifyFailed       = fmt.Errorf("notification delivery failed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrContextOverflow    = fmt.Errorf("context window exceeded")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Registry.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and for
// marking error replies in protocol metadata.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeAgentNotReady   ErrorCode = "AGENT_NOT_READY"
	CodeAgentFailure    ErrorCode = "AGENT_FAILURE"
	CodeInvalidPayload  ErrorCode = "INVALID_PAYLOAD"
	CodeUnknownMethod   ErrorCode = "METHOD_NOT_FOUND"
	CodeUnknownTool     ErrorCode = "TOOL_NOT_FOUND"
	CodeUnknownResource ErrorCode = "RESOURCE_NOT_FOUND"
	CodeUnknownPrompt   ErrorCode = "PROMPT_NOT_FOUND"
	CodeAdapterType     ErrorCode = "ADAPTER_TYPE_UNKNOWN"
	CodeNotifyFailed    ErrorCode = "NOTIFY_FAILED"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
)

var errorCodeMap = map[error]ErrorCode{
	ErrAgentNotReady:      CodeAgentNotReady,
	ErrAgentFailure:       CodeAgentFailure,
	ErrInvalidPayload:     CodeInvalidPayload,
	ErrUnknownMethod:      CodeUnknownMethod,
	ErrUnknownTool:        CodeUnknownTool,
	ErrUnknownResource:    CodeUnknownResource,
	ErrUnknownPrompt:      CodeUnknownPrompt,
	ErrAdapterTypeUnknown: CodeAdapterType,
	ErrNotifyFailed:       CodeNotifyFailed,
	ErrConfigLoad:         CodeConfigLoad,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrContextOverflow:    CodeContextOverflow,
}

// ErrorCodeOf returns the machine-parseable code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
