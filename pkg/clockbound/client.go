// Package clockbound provides a client for the ClockBound daemon: bounded
// wall clock readings [Earliest, Latest] guaranteed to contain true time,
// computed from the clock error bound data the daemon publishes over a
// shared memory segment.
//
// Queries are cheap. They read the segment lock-free and take three clock
// readings; there is no network round trip and no blocking syscall, which
// makes Now safe to call from latency-critical hot paths.
package clockbound

import (
	"time"

	"github.com/aws/clock-bound/pkg/clockbound/shm"
)

// DefaultShmPath is the segment path used by a conventional daemon install.
const DefaultShmPath = shm.DefaultPath

// ClockStatus classifies how trustworthy the returned interval is. See the
// shm package constants for the individual values.
type ClockStatus = shm.ClockStatus

const (
	StatusUnknown      = shm.ClockStatusUnknown
	StatusSynchronized = shm.ClockStatusSynchronized
	StatusFreeRunning  = shm.ClockStatusFreeRunning
	StatusDisrupted    = shm.ClockStatusDisrupted
)

// NowResult is the value returned by every successful query.
type NowResult = shm.NowResult

// Client queries the daemon's shared memory segment for bounded wall clock
// readings.
//
// A Client is not safe for concurrent use: queries keep a small amount of
// cross-call scratch used to cross-check successive readings. Each goroutine
// must open its own Client.
type Client struct {
	reader *shm.Reader

	// Cross-call causality scratch: the earliest bound reported by the
	// last successful Now, valid when haveLast is set.
	lastEarliest time.Time
	haveLast     bool
}

// Open maps the daemon segment at path and validates it. On failure no
// Client is constructed and nothing is left mapped.
func Open(path string) (*Client, error) {
	reader, err := shm.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{reader: reader}, nil
}

// OpenDefault opens the segment at DefaultShmPath.
func OpenDefault() (*Client, error) {
	return Open(DefaultShmPath)
}

// Now returns the interval within which true time lies, plus the clock
// status. The status must be checked before the interval is trusted.
func (c *Client) Now() (NowResult, error) {
	res, err := c.reader.Now()
	if err != nil {
		return NowResult{}, err
	}

	// A sound reading can never place latest before an interval this
	// client already reported: true time was at or after lastEarliest
	// then, and only moves forward.
	if c.haveLast && res.Latest.Before(c.lastEarliest) {
		return NowResult{}, &shm.Error{Kind: shm.CausalityBreach}
	}
	c.lastEarliest = res.Earliest
	c.haveLast = true
	return res, nil
}

// Close releases the mapping. The Client must not be used afterwards.
func (c *Client) Close() error {
	return c.reader.Close()
}
