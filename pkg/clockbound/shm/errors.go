package shm

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind discriminates the failure classes surfaced by the segment
// protocol. Callers branch on the kind to decide whether to retry
// immediately (SegmentBusy), retry later (SegmentNotInitialized,
// CausalityBreach) or give up on this segment (SegmentMalformed,
// VersionNotSupported).
type ErrorKind int

const (
	// None reports the absence of an error.
	None ErrorKind = iota

	// Syscall reports a failed system call. The Error carries the errno
	// and the name of the failing operation.
	Syscall

	// SegmentNotInitialized reports that the segment does not exist, or
	// exists but has not been published by the writer yet. The daemon may
	// simply not have started; opening again later can succeed.
	SegmentNotInitialized

	// SegmentMalformed reports a segment that exists but cannot be
	// trusted: bad magic, undersized, or carrying impossible values.
	SegmentMalformed

	// CausalityBreach reports clock and segment timestamps observed in an
	// impossible order. The interval that would have been computed is
	// unsound and is withheld.
	CausalityBreach

	// VersionNotSupported reports a segment layout version newer than this
	// reader understands. Guessing at a later layout could silently return
	// a too-narrow interval, so the reader refuses to interpret it.
	VersionNotSupported

	// SegmentBusy reports that the writer was observed mid-update for the
	// whole snapshot retry budget. Safe to retry immediately.
	SegmentBusy
)

func (k ErrorKind) String() string {
	switch k {
	case None:
		return "none"
	case Syscall:
		return "syscall error"
	case SegmentNotInitialized:
		return "segment not initialized"
	case SegmentMalformed:
		return "segment malformed"
	case CausalityBreach:
		return "causality breach"
	case VersionNotSupported:
		return "segment version not supported"
	case SegmentBusy:
		return "segment busy"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Error is the value returned by all segment protocol operations. It carries
// no ownership and is safe to copy.
type Error struct {
	Kind  ErrorKind
	Errno syscall.Errno // set when Kind is Syscall
	Op    string        // name of the failing syscall, when Kind is Syscall
}

func (e *Error) Error() string {
	if e.Kind == Syscall {
		return fmt.Sprintf("clockbound: %s: %s", e.Op, e.Errno.Error())
	}
	return "clockbound: " + e.Kind.String()
}

// Unwrap exposes the errno so callers can match syscall failures with
// errors.Is.
func (e *Error) Unwrap() error {
	if e.Kind == Syscall && e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Kind extracts the ErrorKind from err. Returns None if err is nil or is not
// a segment protocol error.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return None
}

func errKind(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

func errSyscall(op string, err error) *Error {
	e := &Error{Kind: Syscall, Op: op}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}
