package router

import "errors"

// ErrKind classifies router failures so callers can pattern-match to decide
// between prompting a model download, falling back to the platform engine,
// or surfacing a hard failure.
type ErrKind string

const (
	KindNotInitialized      ErrKind = "not_initialized"
	KindEngineNotAvailable  ErrKind = "engine_not_available"
	KindModelNotDownloaded  ErrKind = "model_not_downloaded"
	KindModelNotLoaded      ErrKind = "model_not_loaded"
	KindFeatureNotAvailable ErrKind = "feature_not_available"
	KindFeatureNotSupported ErrKind = "feature_not_supported"
	KindInsufficientMemory  ErrKind = "insufficient_memory"
	KindExecutionFailed     ErrKind = "execution_failed"
	KindExecutionTimeout    ErrKind = "execution_timeout"
	KindExecutionCancelled  ErrKind = "execution_cancelled"
	KindDeviceNotSupported  ErrKind = "device_not_supported"
)

// Error is the router's typed error. The router never retries on its own;
// retry policy belongs to the caller.
type Error struct {
	Kind  ErrKind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind ErrKind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// NewError builds a typed router error. Exposed for layers that sit on top of
// the router and want to speak the same taxonomy.
func NewError(kind ErrKind, msg string) error {
	return newErr(kind, msg)
}

func wrapErr(kind ErrKind, msg string, cause error) error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// KindOf returns the error's kind, or "" when err is not a router error.
func KindOf(err error) ErrKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func IsNotInitialized(err error) bool      { return KindOf(err) == KindNotInitialized }
func IsEngineNotAvailable(err error) bool  { return KindOf(err) == KindEngineNotAvailable }
func IsModelNotDownloaded(err error) bool  { return KindOf(err) == KindModelNotDownloaded }
func IsModelNotLoaded(err error) bool      { return KindOf(err) == KindModelNotLoaded }
func IsInsufficientMemory(err error) bool  { return KindOf(err) == KindInsufficientMemory }
func IsDeviceNotSupported(err error) bool  { return KindOf(err) == KindDeviceNotSupported }
func IsExecutionTimeout(err error) bool    { return KindOf(err) == KindExecutionTimeout }
func IsExecutionCancelled(err error) bool  { return KindOf(err) == KindExecutionCancelled }
func IsFeatureNotSupported(err error) bool { return KindOf(err) == KindFeatureNotSupported }
