// pkg/failure/failure.go - error taxonomy shared by the install and uninstall pipelines.

package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPathInvalid
	KindExtractionFailed
	KindDependencyInstallFailed
	KindAssetDownloadFailed
	KindRegistrationWarning
	KindApplicationRunning
	KindUserCancelled
	KindPartialRemovalFailure
)

func (k Kind) String() string {
	switch k {
	case KindPathInvalid:
		return "PathInvalid"
	case KindExtractionFailed:
		return "ExtractionFailed"
	case KindDependencyInstallFailed:
		return "DependencyInstallFailed"
	case KindAssetDownloadFailed:
		return "AssetDownloadFailed"
	case KindRegistrationWarning:
		return "RegistrationWarning"
	case KindApplicationRunning:
		return "ApplicationRunning"
	case KindUserCancelled:
		return "UserCancelled"
	case KindPartialRemovalFailure:
		return "PartialRemovalFailure"
	default:
		return "Unknown"
	}
}

// Fatal reports whether a failure of this kind aborts the pipeline.
func (k Kind) Fatal() bool {
	return k != KindRegistrationWarning
}

// Error is a classified pipeline failure. Cause is the human-readable
// sentence surfaced to the user; Err keeps the underlying error for logs.
type Error struct {
	Kind  Kind
	Stage string
	Cause string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Cause
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, failure.UserCancelled).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == "" && t.Stage == ""
}

// Sentinels for errors.Is comparisons.
var (
	PathInvalid             = &Error{Kind: KindPathInvalid}
	ExtractionFailed        = &Error{Kind: KindExtractionFailed}
	DependencyInstallFailed = &Error{Kind: KindDependencyInstallFailed}
	AssetDownloadFailed     = &Error{Kind: KindAssetDownloadFailed}
	RegistrationWarning     = &Error{Kind: KindRegistrationWarning}
	ApplicationRunning      = &Error{Kind: KindApplicationRunning}
	UserCancelled           = &Error{Kind: KindUserCancelled}
	PartialRemovalFailure   = &Error{Kind: KindPartialRemovalFailure}
)

// New builds a classified error.
func New(kind Kind, cause string, err error) *Error {
	return &Error{Kind: kind, Cause: cause, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: fmt.Sprintf(format, args...), Err: err}
}

// WithStage returns err annotated with the stage it surfaced from. Errors
// that are not *Error are wrapped as KindUnknown.
func WithStage(err error, stage string) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		if cp.Stage == "" {
			cp.Stage = stage
		}
		return &cp
	}
	return &Error{Kind: KindUnknown, Stage: stage, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// CauseOf returns the human-readable cause of err.
func CauseOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Cause != "" {
			return fe.Cause
		}
		if fe.Err != nil {
			return fe.Err.Error()
		}
		return fe.Kind.String()
	}
	return err.Error()
}
