/*
Package pepcerr defines the error taxonomy shared by every pepc subsystem.

Low-level components (internal/msr, internal/tpmi, internal/cpufreq, ...)
return the narrowest kind listed here; internal/pstates is the only
caller that inspects kinds to decide whether to fall through to another
mechanism.
*/
package pepcerr

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the taxonomy bucket an error belongs to, independent of
// whatever lower-level cause it wraps.
type Kind int

const (
	// KindNotSupported means the feature/mechanism is missing on the
	// platform, or disabled (e.g. HWP off).
	KindNotSupported Kind = iota
	// KindNotFound means a file or directory is absent.
	KindNotFound
	// KindPermissionDenied means the kernel refused the operation, or a
	// write was attempted on a read-only register/engine.
	KindPermissionDenied
	// KindBadValue means a value is outside its declared range, an
	// enumerated symbol is unknown, or user input is malformed.
	KindBadValue
	// KindOutOfRange means a numeric value is outside platform limits.
	KindOutOfRange
	// KindBadOrder means requested min > current max, or vice versa.
	KindBadOrder
	// KindVerifyFailed means a write-then-read round trip did not match.
	KindVerifyFailed
	// KindTryAnotherMechanism is an internal signal PStates uses to
	// switch mechanisms; it never reaches an end user.
	KindTryAnotherMechanism
	// KindIoError means the underlying Executor failed.
	KindIoError
)

func (k Kind) String() string {
	switch k {
	case KindNotSupported:
		return "not supported"
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindBadValue:
		return "bad value"
	case KindOutOfRange:
		return "out of range"
	case KindBadOrder:
		return "bad order"
	case KindVerifyFailed:
		return "verify failed"
	case KindTryAnotherMechanism:
		return "try another mechanism"
	case KindIoError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type carrying a Kind plus an optional
// wrapped cause. The msr, featuredmsr, sysfsio, tpmi, tpmispec, cpufreq
// and pstates APIs return one of these (or nil) so callers can
// type-switch or use errors.As uniformly. The exceptions return plain
// github.com/pkg/errors values: internal/executor, internal/cpuinfo,
// msr.Bits.Validate, and MsrEngine.CommitTransaction called outside a
// transaction.
type Error struct {
	Kind Kind
	msg  string
	// HostMsg is appended by the Executor boundary so a user knows
	// whether a failure was local, remote, or emulated. Empty until an
	// Executor annotates it.
	HostMsg string
	cause   error
}

func (e *Error) Error() string {
	msg := e.msg
	if e.HostMsg != "" {
		msg += e.HostMsg
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.cause.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, pepcerr.NotSupported) work without needing an
// exact *Error identity match.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind, wrapping cause, with a
// formatted message prefix. If cause is nil, Wrap returns nil.
func Wrap(cause error, kind Kind, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// WithHostMsg returns a copy of err annotated with hostmsg, as the
// Executor boundary does for every error that crosses it.
func WithHostMsg(err error, hostmsg string) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		cp := *pe
		cp.HostMsg = hostmsg
		return &cp
	}
	return Wrap(err, KindIoError, "").withHostMsg(hostmsg)
}

func (e *Error) withHostMsg(hostmsg string) *Error {
	e.HostMsg = hostmsg
	return e
}

// Is reports whether err's kind matches kind, unwrapping cause chains.
func Is(err error, kind Kind) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}

// sentinels usable directly with errors.Is for the zero-argument cases.
var (
	NotSupported        = &Error{Kind: KindNotSupported, msg: "not supported"}
	NotFound            = &Error{Kind: KindNotFound, msg: "not found"}
	PermissionDenied    = &Error{Kind: KindPermissionDenied, msg: "permission denied"}
	BadValue            = &Error{Kind: KindBadValue, msg: "bad value"}
	OutOfRange          = &Error{Kind: KindOutOfRange, msg: "out of range"}
	BadOrder            = &Error{Kind: KindBadOrder, msg: "bad order"}
	VerifyFailed        = &Error{Kind: KindVerifyFailed, msg: "verify failed"}
	TryAnotherMechanism = &Error{Kind: KindTryAnotherMechanism, msg: "try another mechanism"}
	IoError             = &Error{Kind: KindIoError, msg: "I/O error"}
)

// VerifyFailedError carries the extra fields a verification mismatch
// needs to be actionable: cpu, expected, actual, and optionally a
// register name or path.
type VerifyFailedError struct {
	err      *Error
	CPU      int
	Expected uint64
	Actual   uint64
	RegName  string
	Path     string
}

func (e *VerifyFailedError) Error() string { return e.err.Error() }

// Unwrap returns the underlying KindVerifyFailed *Error, so Is and
// errors.As see the kind through a VerifyFailedError.
func (e *VerifyFailedError) Unwrap() error { return e.err }

// NewVerifyFailed builds a VerifyFailedError.
func NewVerifyFailed(cpu int, expected, actual uint64, format string, args ...any) *VerifyFailedError {
	return &VerifyFailedError{
		err:      New(KindVerifyFailed, format, args...),
		CPU:      cpu,
		Expected: expected,
		Actual:   actual,
	}
}
