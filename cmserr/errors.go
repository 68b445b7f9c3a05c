// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package cmserr defines the closed set of error kinds surfaced by the
// gocms client runtime and a typed error carrying one of them.
package cmserr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the closed set of error categories an Error
// belongs to. Callers should switch on Kind (or use IsKind, or errors.Is
// against an *Error of the wanted Kind such as New(KindTimeout, "")) rather
// than parsing messages.
type Kind int

const (
	// KindIllegalState covers misuse: reuse of a closed entity, a missing
	// default destination, returning a Session with unacked work, etc.
	KindIllegalState Kind = iota
	KindIllegalArgument
	KindTimeout
	KindTransport
	KindProtocol
	KindBroker
	KindUnsupportedOperation
	KindNullReference
)

func (k Kind) String() string {
	switch k {
	case KindIllegalState:
		return "IllegalState"
	case KindIllegalArgument:
		return "IllegalArgument"
	case KindTimeout:
		return "Timeout"
	case KindTransport:
		return "Transport"
	case KindProtocol:
		return "Protocol"
	case KindBroker:
		return "Broker"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindNullReference:
		return "NullReference"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across package boundaries in
// gocms. It carries a Kind for programmatic handling, an origin marker set
// by the Template when it re-raises a callback error (§4.I), and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Origin  string
	Cause   error

	// BrokerClass carries the exception class name reported by the broker
	// in an ExceptionResponse. Only set when Kind == KindBroker.
	BrokerClass string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Origin != "" {
		msg = fmt.Sprintf("%s (origin: %s)", msg, e.Origin)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, cmserr.New(cmserr.KindTimeout, "")) style checks work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithOrigin returns a shallow copy of e with Origin set, used by the
// Template to mark where a re-raised error crossed a callback boundary.
func (e *Error) WithOrigin(origin string) *Error {
	cp := *e
	cp.Origin = origin
	return &cp
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func IllegalState(format string, args ...interface{}) *Error {
	return New(KindIllegalState, fmt.Sprintf(format, args...))
}

func IllegalArgument(format string, args ...interface{}) *Error {
	return New(KindIllegalArgument, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func TransportErr(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindTransport, fmt.Sprintf(format, args...), cause)
}

func Protocol(format string, args ...interface{}) *Error {
	return New(KindProtocol, fmt.Sprintf(format, args...))
}

func Broker(brokerClass, message string) *Error {
	return &Error{Kind: KindBroker, Message: message, BrokerClass: brokerClass}
}

func Unsupported(format string, args ...interface{}) *Error {
	return New(KindUnsupportedOperation, fmt.Sprintf(format, args...))
}

func NullReference(format string, args ...interface{}) *Error {
	return New(KindNullReference, fmt.Sprintf(format, args...))
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
