package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use NewSubSystemError to tag one with the component
// that raised it so ErrorCodeOf can resolve a more specific code.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrUnavailable  = fmt.Errorf("unavailable")
)

// Sentinel errors for the routing and coordination layer.
var (
	ErrNoTarget            = fmt.Errorf("no target agent mentioned")
	ErrAgentNotFound       = fmt.Errorf("agent %w", ErrNotFound)
	ErrNoSuitableAgent     = fmt.Errorf("no suitable agent")
	ErrRemote              = fmt.Errorf("remote agent error")
	ErrRegistryUnavailable = fmt.Errorf("registry %w", ErrUnavailable)
	ErrProviderError       = fmt.Errorf("llm provider error")
	ErrProtocolFailed      = fmt.Errorf("protocol run failed")
	ErrAuditWrite          = fmt.Errorf("audit log write failed")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Router.Route")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "registry", "llm"); used for ErrorCode dispatch
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

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RemoteError is a non-success reply from a remote agent.
type RemoteError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote agent %s returned status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("remote agent %s returned status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrRemote) match every RemoteError.
func (e *RemoteError) Unwrap() error { return ErrRemote }

// RemoteStatus extracts the remote HTTP status from err, or 0 when err is not a RemoteError.
func RemoteStatus(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// ErrorCode is a machine-parseable error category for clients and monitoring.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNoTarget            ErrorCode = "NO_TARGET"
	CodeAgentNotFound       ErrorCode = "AGENT_NOT_FOUND"
	CodeNoSuitableAgent     ErrorCode = "NO_SUITABLE_AGENT"
	CodeNoAgentsAvailable   ErrorCode = "NO_AGENTS_AVAILABLE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeRemoteError         ErrorCode = "REMOTE_ERROR"
	CodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProtocolInvalid     ErrorCode = "PROTOCOL_INVALID"
	CodeProtocolFailed      ErrorCode = "PROTOCOL_FAILED"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	CodeAuditWrite          ErrorCode = "AUDIT_WRITE"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeUnavailable         ErrorCode = "UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their ErrorCode.
// Specific sentinels precede the categories they wrap in ErrorCodeOf's walk.
var errorCodeMap = map[error]ErrorCode{
	ErrNoTarget:            CodeNoTarget,
	ErrAgentNotFound:       CodeAgentNotFound,
	ErrNoSuitableAgent:     CodeNoSuitableAgent,
	ErrTimeout:             CodeTimeout,
	ErrRemote:              CodeRemoteError,
	ErrRegistryUnavailable: CodeRegistryUnavailable,
	ErrInvalidInput:        CodeInvalidInput,
	ErrProviderError:       CodeProviderError,
	ErrProtocolFailed:      CodeProtocolFailed,
	ErrAuditWrite:          CodeAuditWrite,
	ErrConfigLoad:          CodeConfigLoad,
	ErrNotFound:            CodeNotFound,
	ErrUnavailable:         CodeUnavailable,
}

// sentinelOrder fixes the errors.Is walk so specific sentinels win over the
// categories they wrap (ErrAgentNotFound before ErrNotFound).
var sentinelOrder = []error{
	ErrNoTarget,
	ErrAgentNotFound,
	ErrNoSuitableAgent,
	ErrTimeout,
	ErrRemote,
	ErrRegistryUnavailable,
	ErrInvalidInput,
	ErrProviderError,
	ErrProtocolFailed,
	ErrAuditWrite,
	ErrConfigLoad,
	ErrNotFound,
	ErrUnavailable,
}

// subSystemCodeMap resolves a category sentinel + subsystem to a specific code.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNoSuitableAgent: {
		"registry": CodeNoAgentsAvailable,
	},
	ErrInvalidInput: {
		"coordination": CodeProtocolInvalid,
	},
	ErrTimeout: {
		"llm": CodeProviderTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// For DomainErrors with a SubSystem, it also checks the subSystemCodeMap
// to resolve category sentinels to specific codes.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range sentinelOrder {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	for _, sentinel := range sentinelOrder {
		if errors.Is(e.Err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}
