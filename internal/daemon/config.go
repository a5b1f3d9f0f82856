package daemon

import (
	"time"

	"go.uber.org/zap"

	"github.com/aws/clock-bound/pkg/clockbound/shm"
)

// Defaults for a conventional install.
const (
	DefaultNTPServer    = "time.aws.com"
	DefaultPollInterval = time.Second

	// DefaultMaxDriftPPB assumes a 50 PPM oscillator, a conservative
	// budget for commodity hardware between one-second updates.
	DefaultMaxDriftPPB = 50_000

	// DefaultVoidAfter is how long published data stays trustworthy
	// without a further update.
	DefaultVoidAfter = 30 * time.Second
)

// Config carries the daemon's tunables.
type Config struct {
	// ShmPath is where the segment is published.
	ShmPath string

	// NTPServer is the reference queried for offset and dispersion data.
	NTPServer string

	// PollInterval is the period between reference clock polls.
	PollInterval time.Duration

	// MaxDriftPPB is the assumed worst-case clock drift between updates,
	// in parts per billion.
	MaxDriftPPB uint32

	// VoidAfter is the horizon after which readers must stop trusting an
	// update that has not been refreshed.
	VoidAfter time.Duration

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ShmPath == "" {
		c.ShmPath = shm.DefaultPath
	}
	if c.NTPServer == "" {
		c.NTPServer = DefaultNTPServer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxDriftPPB == 0 {
		c.MaxDriftPPB = DefaultMaxDriftPPB
	}
	if c.VoidAfter <= 0 {
		c.VoidAfter = DefaultVoidAfter
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
