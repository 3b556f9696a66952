package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error detected while processing an engine event.
//
// The loop logs runtime errors and keeps going; they are also journaled as
// "error" entries so a trace shows why an interaction ended early.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Session identifies the interaction cycle, if any.
	Session string

	// AnnotationID identifies the affected annotation, if any.
	AnnotationID int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownAnnotation indicates an id with no stored annotation or
	// registered highlight controller.
	ErrCodeUnknownAnnotation RuntimeErrorCode = "UNKNOWN_ANNOTATION"

	// ErrCodeSerializeFailed indicates a captured range could not be serialized.
	ErrCodeSerializeFailed RuntimeErrorCode = "SERIALIZE_FAILED"

	// ErrCodeDrawFailed indicates the highlighter could not paint an annotation.
	ErrCodeDrawFailed RuntimeErrorCode = "DRAW_FAILED"

	// ErrCodeTemplateFailed indicates a surface could not be constructed.
	ErrCodeTemplateFailed RuntimeErrorCode = "TEMPLATE_FAILED"

	// ErrCodeModelFailed indicates the bound model could not be read or written.
	ErrCodeModelFailed RuntimeErrorCode = "MODEL_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Session != "" && e.AnnotationID != 0:
		msg += fmt.Sprintf(" (session=%s, annotation=%d)", e.Session, e.AnnotationID)
	case e.Session != "":
		msg += fmt.Sprintf(" (session=%s)", e.Session)
	case e.AnnotationID != 0:
		msg += fmt.Sprintf(" (annotation=%d)", e.AnnotationID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnknownAnnotation reports whether err refers to an unknown annotation id.
func IsUnknownAnnotation(err error) bool {
	return HasCode(err, ErrCodeUnknownAnnotation)
}

// IsTemplateError reports whether err is a surface construction failure.
func IsTemplateError(err error) bool {
	return HasCode(err, ErrCodeTemplateFailed)
}

func newUnknownAnnotationError(session string, id int64) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeUnknownAnnotation,
		Message:      "no annotation registered under id",
		Session:      session,
		AnnotationID: id,
	}
}

func newRuntimeError(code RuntimeErrorCode, session string, id int64, msg string, err error) *RuntimeError {
	return &RuntimeError{
		Code:         code,
		Message:      msg,
		Session:      session,
		AnnotationID: id,
		Err:          err,
	}
}
