package daemon

import (
	"testing"

	"github.com/aws/clock-bound/pkg/clockbound/shm"
)

// TestClockStateTransitions feeds a sequence of poll outcomes through the
// state machine and checks the published status at each step.
func TestClockStateTransitions(t *testing.T) {
	steps := []struct {
		name      string
		synced    bool
		disrupted bool
		want      shm.ClockStatus
	}{
		{"boot with no reference", false, false, shm.ClockStatusUnknown},
		{"first synchronized poll", true, false, shm.ClockStatusSynchronized},
		{"reference lost", false, false, shm.ClockStatusFreeRunning},
		{"reference still lost", false, false, shm.ClockStatusFreeRunning},
		{"reference recovered", true, false, shm.ClockStatusSynchronized},
		{"clock disrupted", false, true, shm.ClockStatusDisrupted},
		{"disruption sticks without sync", false, false, shm.ClockStatusDisrupted},
		{"disruption clears on sync", true, false, shm.ClockStatusSynchronized},
	}

	s := newClockState()
	for _, step := range steps {
		if got := s.step(step.synced, step.disrupted); got != step.want {
			t.Errorf("%s: status = %v, want %v", step.name, got, step.want)
		}
	}
}

// TestClockStateDisruptionWins verifies that a disruption overrides a
// simultaneously synchronized poll.
func TestClockStateDisruptionWins(t *testing.T) {
	s := newClockState()
	if got := s.step(true, true); got != shm.ClockStatusDisrupted {
		t.Errorf("status = %v, want disrupted", got)
	}
}
