package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig    Kind = "config"
	KindDomain    Kind = "domain"
	KindTransport Kind = "transport"
	KindPlatform  Kind = "platform"
	KindBootstrap Kind = "bootstrap"
	KindStorage   Kind = "storage"

	// 请求处理链路上的四类错误，由 HTTP 层统一映射为状态码。
	KindValidation Kind = "validation"
	KindResource   Kind = "resource"
	KindProcessing Kind = "processing"
	KindCapacity   Kind = "capacity"

	KindUnknown Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches kind and operation to err. An error that is already typed is
// returned unchanged so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Mark builds a typed error whose chain contains both marker and cause, so
// callers can match the subtype with errors.Is and the class with IsKind.
// Unlike Wrap it never collapses into an inner typed error.
func Mark(kind Kind, op, message string, marker, cause error) *Error {
	var chained error
	switch {
	case marker != nil && cause != nil:
		chained = fmt.Errorf("%w: %w", marker, cause)
	case marker != nil:
		chained = marker
	default:
		chained = cause
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   chained,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the outermost typed error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}
