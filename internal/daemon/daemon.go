// Package daemon implements the ClockBound synchronization daemon: it
// periodically measures the system clock against a reference, derives a
// clock error bound, and publishes it to the shared memory segment that
// client readers consume.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/aws/clock-bound/pkg/clockbound/shm"
)

// Daemon drives the poll and publish loop. It owns the segment writer for
// its lifetime.
type Daemon struct {
	cfg     Config
	writer  *shm.Writer
	poller  Poller
	state   *clockState
	metrics *Metrics
	log     *zap.Logger

	last          shm.ClockErrorBound
	havePublished bool
}

// New creates the daemon and takes ownership of the segment at cfg.ShmPath.
func New(cfg Config, poller Poller, metrics *Metrics) (*Daemon, error) {
	cfg = cfg.withDefaults()
	writer, err := shm.CreateWriter(cfg.ShmPath)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:     cfg,
		writer:  writer,
		poller:  poller,
		state:   newClockState(),
		metrics: metrics,
		log:     cfg.Logger,
	}, nil
}

// Run polls and publishes until ctx is cancelled, then releases the
// segment. The backing file stays in place so readers keep extrapolating
// from the last update until it expires.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// Publish immediately so readers do not wait a full interval after
	// boot.
	d.tick()
	for {
		select {
		case <-ctx.Done():
			return d.writer.Close()
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick runs one poll and publishes the outcome.
func (d *Daemon) tick() {
	var now unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_COARSE, &now); err != nil {
		d.log.Error("clock_gettime failed", zap.Error(err))
		return
	}

	sample, err := d.poller.Poll()
	if err != nil {
		d.metrics.PollErrors.Inc()
		d.log.Warn("reference clock poll failed", zap.Error(err))
		// Republish with the last bound grown to now, the same linear
		// model readers apply, so the degraded status still ships.
		d.publish(now, d.grownBound(now), d.state.step(false, false))
		return
	}
	d.metrics.PollRTT.Observe(sample.RTT.Seconds())
	d.publish(now, sample.Bound, d.state.step(sample.Synchronized, false))
}

// grownBound extrapolates the last published bound to now. With nothing
// published yet the bound is zero and the Unknown status tells readers not
// to trust it.
func (d *Daemon) grownBound(now unix.Timespec) time.Duration {
	if !d.havePublished {
		return 0
	}
	elapsed := now.Nano() - d.last.AsOf.Nano()
	if elapsed < 0 {
		elapsed = 0
	}
	drift := int64(d.cfg.MaxDriftPPB)
	sec := int64(time.Second)
	grown := (elapsed/sec)*drift + (elapsed%sec)*drift/sec
	return time.Duration(d.last.BoundNsec + grown)
}

func (d *Daemon) publish(now unix.Timespec, bound time.Duration, status shm.ClockStatus) {
	ceb := shm.ClockErrorBound{
		AsOf:        now,
		VoidAfter:   unix.NsecToTimespec(now.Nano() + int64(d.cfg.VoidAfter)),
		BoundNsec:   int64(bound),
		MaxDriftPPB: d.cfg.MaxDriftPPB,
		Status:      status,
	}
	if err := d.writer.Update(ceb); err != nil {
		d.log.Error("segment update failed", zap.Error(err))
		return
	}
	d.last = ceb
	d.havePublished = true

	d.metrics.Updates.Inc()
	d.metrics.BoundNsec.Set(float64(ceb.BoundNsec))
	d.metrics.Status.Set(float64(status))
	d.log.Debug("published clock error bound",
		zap.Int64("bound_nsec", ceb.BoundNsec),
		zap.Stringer("status", status))
}
