package shm

import (
	"time"

	"golang.org/x/sys/unix"
)

// ClockStatus classifies how the system clock is currently maintained, as
// reported by the synchronization daemon.
type ClockStatus uint32

const (
	// ClockStatusUnknown: no guarantee on the clock; the bound cannot be
	// trusted.
	ClockStatusUnknown ClockStatus = 0

	// ClockStatusSynchronized: the clock is actively disciplined against a
	// reference.
	ClockStatusSynchronized ClockStatus = 1

	// ClockStatusFreeRunning: discipline has been lost, but the bound
	// remains valid and keeps growing at the drift rate.
	ClockStatusFreeRunning ClockStatus = 2

	// ClockStatusDisrupted: the underlying clock hardware was disrupted
	// (e.g. a live migration); the bound cannot be trusted until the clock
	// is re-synchronized.
	ClockStatusDisrupted ClockStatus = 3
)

func (s ClockStatus) String() string {
	switch s {
	case ClockStatusUnknown:
		return "unknown"
	case ClockStatusSynchronized:
		return "synchronized"
	case ClockStatusFreeRunning:
		return "free running"
	case ClockStatusDisrupted:
		return "disrupted"
	default:
		return "unknown"
	}
}

// decodeClockStatus maps a raw segment value to a ClockStatus. A value this
// reader does not recognize, written by a newer daemon, decodes to Unknown,
// the most conservative status.
func decodeClockStatus(v uint32) ClockStatus {
	switch s := ClockStatus(v); s {
	case ClockStatusUnknown, ClockStatusSynchronized, ClockStatusFreeRunning, ClockStatusDisrupted:
		return s
	default:
		return ClockStatusUnknown
	}
}

// ClockErrorBound is the mutable payload of the segment: the bound on clock
// error anchored at a reference instant, plus the rate at which it grows
// until the writer updates it again.
type ClockErrorBound struct {
	// AsOf is the coarse monotonic timestamp at which BoundNsec was
	// computed by the writer.
	AsOf unix.Timespec

	// VoidAfter is the coarse monotonic timestamp beyond which the bound
	// must no longer be trusted. It signals a dead or wedged writer, and
	// also caps the exposure to a generation counter rollover collision.
	VoidAfter unix.Timespec

	// BoundNsec is the absolute bound on the error of the realtime clock
	// at the instant AsOf, in nanoseconds.
	BoundNsec int64

	// MaxDriftPPB is the worst-case drift rate of the clock between writer
	// updates, in parts per billion. The effective bound at a later
	// instant t is BoundNsec + MaxDriftPPB * (t - AsOf).
	MaxDriftPPB uint32

	// Reserved is unused in layout versions up to shmVersionMax.
	Reserved uint32

	// Status is the clock status reported by the writer.
	Status ClockStatus
}

// NowResult is the outcome of a successful query: the interval within which
// true time is guaranteed to lie, and the clock status qualifying it. The
// status must be checked before the interval is trusted.
type NowResult struct {
	Earliest time.Time
	Latest   time.Time
	Status   ClockStatus
}

const (
	nanosPerSec = int64(time.Second)

	// restartGracePeriod lets the writer restart without the reported
	// status being downgraded right away.
	restartGracePeriod = 5 * time.Second

	// causalityMargin absorbs the resolution of the coarse monotonic
	// clock: asOf may legitimately appear up to one kernel tick ahead of
	// the reader's own reading.
	causalityMargin = time.Millisecond

	// maxDriftSanityPPB caps the drift rate a segment may claim. A clock
	// drifting a full second per second is a corrupt segment, not a
	// pessimistic one.
	maxDriftSanityPPB = 1_000_000_000
)

// decodePayload decodes a torn-free payload copy. buf must hold payloadSize
// bytes.
func decodePayload(buf []byte) ClockErrorBound {
	return ClockErrorBound{
		AsOf: unix.Timespec{
			Sec:  int64(native.Uint64(buf[offAsOfSec:])),
			Nsec: int64(native.Uint64(buf[offAsOfNsec:])),
		},
		VoidAfter: unix.Timespec{
			Sec:  int64(native.Uint64(buf[offVoidAfterSec:])),
			Nsec: int64(native.Uint64(buf[offVoidAfterNsec:])),
		},
		BoundNsec:   int64(native.Uint64(buf[offBoundNsec:])),
		MaxDriftPPB: native.Uint32(buf[offDriftPPB:]),
		Reserved:    native.Uint32(buf[offReserved:]),
		Status:      decodeClockStatus(native.Uint32(buf[offStatus:])),
	}
}

// encodePayload writes ceb into buf at the payload field offsets. buf must
// hold payloadSize bytes.
func encodePayload(buf []byte, ceb ClockErrorBound) {
	native.PutUint64(buf[offAsOfSec:], uint64(ceb.AsOf.Sec))
	native.PutUint64(buf[offAsOfNsec:], uint64(ceb.AsOf.Nsec))
	native.PutUint64(buf[offVoidAfterSec:], uint64(ceb.VoidAfter.Sec))
	native.PutUint64(buf[offVoidAfterNsec:], uint64(ceb.VoidAfter.Nsec))
	native.PutUint64(buf[offBoundNsec:], uint64(ceb.BoundNsec))
	native.PutUint32(buf[offDriftPPB:], ceb.MaxDriftPPB)
	native.PutUint32(buf[offReserved:], ceb.Reserved)
	native.PutUint32(buf[offStatus:], uint32(ceb.Status))
}

// boundAt extrapolates the bound to the instant described by the (real,
// mono) clock reading pair and builds the [earliest, latest] interval.
//
// All arithmetic stays in the integer nanosecond domain: the interval is a
// safety bound and must not be subject to floating point rounding. The
// extrapolated bound never comes out below BoundNsec, so uncertainty is
// non-decreasing in elapsed time.
func (ceb ClockErrorBound) boundAt(real, mono unix.Timespec) (NowResult, *Error) {
	if ceb.MaxDriftPPB >= maxDriftSanityPPB {
		return NowResult{}, errKind(SegmentMalformed)
	}

	monoNsec := mono.Nano()
	asOfNsec := ceb.AsOf.Nano()
	voidNsec := ceb.VoidAfter.Nano()

	// Elapsed time since the writer anchored the bound. The reader and
	// writer read the same clock family but not atomically, so asOf may
	// sit a tick in the future; within the margin this clamps to zero,
	// beyond it causality is breached and no interval is returned.
	var elapsed int64
	switch {
	case monoNsec >= asOfNsec:
		elapsed = monoNsec - asOfNsec
	case monoNsec >= asOfNsec-int64(causalityMargin):
		elapsed = 0
	default:
		return NowResult{}, errKind(CausalityBreach)
	}

	status := ceb.Status
	switch status {
	case ClockStatusSynchronized, ClockStatusFreeRunning:
		switch {
		case monoNsec < asOfNsec+int64(restartGracePeriod):
			// Within the grace period the published status holds, even
			// across a writer restart.
		case monoNsec < voidNsec:
			// Stale but not expired: the clock is effectively free
			// running on the last known bound.
			status = ClockStatusFreeRunning
		default:
			status = ClockStatusUnknown
		}
	case ClockStatusDisrupted:
		if monoNsec >= voidNsec {
			status = ClockStatusUnknown
		}
	default:
		status = ClockStatusUnknown
	}

	// Inflate the bound by the worst-case drift accrued over elapsed.
	// Split the product to stay within int64 for any realistic uptime.
	drift := int64(ceb.MaxDriftPPB)
	grown := (elapsed/nanosPerSec)*drift + (elapsed%nanosPerSec)*drift/nanosPerSec
	bound := ceb.BoundNsec + grown
	if bound < ceb.BoundNsec {
		// int64 overflow; only possible with absurd segment values.
		return NowResult{}, errKind(SegmentMalformed)
	}
	if bound < 0 {
		bound = 0
	}

	return NowResult{
		Earliest: time.Unix(real.Sec, real.Nsec-bound),
		Latest:   time.Unix(real.Sec, real.Nsec+bound),
		Status:   status,
	}, nil
}
