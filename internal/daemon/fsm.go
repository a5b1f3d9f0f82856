package daemon

import "github.com/aws/clock-bound/pkg/clockbound/shm"

// clockState tracks the daemon's view of the clock across polls and decides
// the status written to the segment. A disruption always wins; a successful
// synchronized poll always recovers; losing the reference degrades to
// FreeRunning rather than Unknown while the last bound is still
// extrapolable.
type clockState struct {
	status shm.ClockStatus
}

func newClockState() *clockState {
	return &clockState{status: shm.ClockStatusUnknown}
}

// step feeds one poll outcome into the state machine and returns the status
// to publish.
func (s *clockState) step(synced, disrupted bool) shm.ClockStatus {
	switch {
	case disrupted:
		s.status = shm.ClockStatusDisrupted
	case synced:
		s.status = shm.ClockStatusSynchronized
	default:
		switch s.status {
		case shm.ClockStatusSynchronized, shm.ClockStatusFreeRunning:
			s.status = shm.ClockStatusFreeRunning
		case shm.ClockStatusDisrupted:
			// A disruption only clears on a fresh synchronized poll.
		default:
			s.status = shm.ClockStatusUnknown
		}
	}
	return s.status
}
