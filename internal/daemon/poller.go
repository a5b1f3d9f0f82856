package daemon

import (
	"time"

	"github.com/beevik/ntp"
)

// Sample is one reference clock measurement, reduced to what a segment
// update needs.
type Sample struct {
	// Offset is the estimated difference between the reference time and
	// the system clock.
	Offset time.Duration

	// Bound is the clock error bound at the time of the measurement.
	Bound time.Duration

	// RTT is the round trip to the reference, kept for metrics.
	RTT time.Duration

	// Synchronized reports whether the reference answered with a sane,
	// in-sync response.
	Synchronized bool
}

// Poller measures the system clock against a reference.
type Poller interface {
	Poll() (Sample, error)
}

// NTPPoller measures the system clock against an NTP server.
type NTPPoller struct {
	Server string
}

// NewNTPPoller returns a poller for the given server, falling back to
// DefaultNTPServer when empty.
func NewNTPPoller(server string) *NTPPoller {
	if server == "" {
		server = DefaultNTPServer
	}
	return &NTPPoller{Server: server}
}

// Poll queries the server once.
func (p *NTPPoller) Poll() (Sample, error) {
	resp, err := ntp.Query(p.Server)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Offset:       resp.ClockOffset,
		Bound:        errorBound(resp),
		RTT:          resp.RTT,
		Synchronized: resp.Validate() == nil && resp.Leap != ntp.LeapNotInSync,
	}, nil
}

// errorBound computes the clock error bound from an NTP response:
//
//	|system time offset| + root dispersion + root delay / 2
//
// The offset term covers the distance between the local clock and the
// reference; the dispersion and delay terms cover how wrong the reference's
// own answer can be across each stratum.
func errorBound(resp *ntp.Response) time.Duration {
	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	return offset + resp.RootDispersion + resp.RootDelay/2
}
