package model

// ErrorKind taxonomizes abnormal exits per the runtime's error handling
// design: every one is surfaced as a monitor `error` event and, where
// relevant, propagated to chat()'s return value.
type ErrorKind string

const (
	ErrProviderError     ErrorKind = "provider_error"
	ErrToolValidation    ErrorKind = "tool_validation"
	ErrToolRuntime       ErrorKind = "tool_runtime"
	ErrToolTimeout       ErrorKind = "tool_timeout"
	ErrPermissionDenied  ErrorKind = "permission_denied"
	ErrHookError         ErrorKind = "hook_error"
	ErrSandboxViolation  ErrorKind = "sandbox_violation"
	ErrPersistenceError  ErrorKind = "persistence_error"
	ErrResumeCorruption  ErrorKind = "resume_corruption"
)
