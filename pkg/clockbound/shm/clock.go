package shm

import "golang.org/x/sys/unix"

// Clock identifiers used by the reader protocol. The monotonic family must
// match the one the writer stamps asOf and voidAfter with: the coarse
// monotonic clock shares its epoch with CLOCK_MONOTONIC, advances on kernel
// ticks, and is immune to the clock being set, smeared or leap-adjusted.
const (
	clockRealtime  = unix.CLOCK_REALTIME
	clockMonotonic = unix.CLOCK_MONOTONIC_COARSE
)

// clockGettime wraps clock_gettime(2) for one of the clock ids above.
func clockGettime(clockID int32) (unix.Timespec, *Error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockID, &ts); err != nil {
		return unix.Timespec{}, errSyscall("clock_gettime", err)
	}
	return ts, nil
}
