package surface

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded rejects a surface replaced by a newer Open.
	ErrSuperseded = errors.New("surface superseded")

	// ErrDismissed rejects a surface dismissed without a reason.
	ErrDismissed = errors.New("surface dismissed")

	// ErrTemplateFetch wraps failures to fetch a surface template.
	ErrTemplateFetch = errors.New("template fetch failed")

	// ErrUnknownKind rejects an Open for a kind with no controller factory.
	ErrUnknownKind = errors.New("unknown surface kind")

	// ErrMount wraps failures to attach surface markup to the page.
	ErrMount = errors.New("mount surface")
)

// TemplateError reports a failed template fetch.
// It matches both ErrTemplateFetch and the underlying error.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrTemplateFetch, e.Template, e.Err)
}

// Unwrap exposes ErrTemplateFetch and the cause to errors.Is/As.
func (e *TemplateError) Unwrap() []error {
	return []error{ErrTemplateFetch, e.Err}
}

// DismissError carries a caller-supplied dismissal reason.
type DismissError struct {
	Reason any
}

func (e *DismissError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDismissed, e.Reason)
}

// Unwrap lets errors.Is match ErrDismissed.
func (e *DismissError) Unwrap() error {
	return ErrDismissed
}

// dismissReason converts a Dismiss argument into the rejection error.
func dismissReason(reason any) error {
	switch r := reason.(type) {
	case nil:
		return ErrDismissed
	case error:
		return r
	default:
		return &DismissError{Reason: r}
	}
}

// IsCancellation reports whether err is an intentional cancellation (a user
// dismissal or a superseded surface) rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, ErrDismissed)
}

// IsSuperseded reports whether err rejected a surface replaced by a newer one.
func IsSuperseded(err error) bool {
	return errors.Is(err, ErrSuperseded)
}
