// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcgerr defines the error taxonomy shared across the token codec,
// ComPacket framer, session engine and method invoker. Every error surfaced
// by those layers can be classified into one of the Kind values below via
// errors.Is, while still carrying the original low-level cause.
package tcgerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindTokenInvalidEncoding
	KindTokenTruncated
	KindComPacketMalformed
	KindComPacketEmpty
	KindComPacketTooLarge
	KindPacketTooLarge
	KindSessionClosed
	KindSessionStartFailed
	KindSessionBusy
	KindMethodMalformed
	KindMethodResultShape
	KindMethodStatus
	KindTimeout
	KindFeatureUnsupported
	KindInvalidArgument
	KindFaultInjected
)

func (k Kind) String() string {
	switch k {
	case KindTokenInvalidEncoding:
		return "TokenInvalidEncoding"
	case KindTokenTruncated:
		return "TokenTruncated"
	case KindComPacketMalformed:
		return "ComPacketMalformed"
	case KindComPacketEmpty:
		return "ComPacketEmpty"
	case KindComPacketTooLarge:
		return "ComPacketTooLarge"
	case KindPacketTooLarge:
		return "PacketTooLarge"
	case KindSessionClosed:
		return "SessionClosed"
	case KindSessionStartFailed:
		return "SessionStartFailed"
	case KindSessionBusy:
		return "SessionBusy"
	case KindMethodMalformed:
		return "MethodMalformed"
	case KindMethodResultShape:
		return "MethodResultShape"
	case KindMethodStatus:
		return "MethodStatus"
	case KindTimeout:
		return "Timeout"
	case KindFeatureUnsupported:
		return "FeatureUnsupported"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindFaultInjected:
		return "FaultInjected"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a human-readable message and, optionally, the
// lower-level cause (a syscall error, a short read, ...).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same Kind, so that
// errors.Is(err, tcgerr.New(tcgerr.KindSessionClosed, "")) style checks work
// without requiring the message to match.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// Of reports the Kind of err if it (or something it wraps) is a *Error, and
// KindUnknown otherwise.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
