// Package simulation provides a load harness measuring query latency
// against a live ClockBound segment.
package simulation

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aws/clock-bound/pkg/clockbound"
	"github.com/aws/clock-bound/pkg/clockbound/shm"
)

// --------------------------------------------------------------------------------------
// Stats & CSV Helpers
// --------------------------------------------------------------------------------------

// Stats holds latency measurements for a set of operations
type Stats struct {
	latencies []time.Duration
}

// NewStats creates a Stats object
func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 1000),
	}
}

// Record adds one measurement (the latency) to the stats
func (s *Stats) Record(d time.Duration) {
	s.latencies = append(s.latencies, d)
}

// Len returns how many measurements we have
func (s *Stats) Len() int {
	return len(s.latencies)
}

// Compute calculates p50, p95, p99, plus overall ops/sec if you provide totalOps & totalTime.
func (s *Stats) Compute(totalOps int, totalTime time.Duration) (p50, p95, p99 time.Duration, opsSec float64) {
	n := len(s.latencies)
	if n == 0 {
		return 0, 0, 0, 0
	}

	sort.Slice(s.latencies, func(i, j int) bool {
		return s.latencies[i] < s.latencies[j]
	})

	percentileIndex := func(p float64) int {
		if p <= 0 {
			return 0
		}
		idx := int(float64(n)*p) - 1
		if idx < 0 {
			return 0
		}
		if idx >= n {
			return n - 1
		}
		return idx
	}

	p50 = s.latencies[percentileIndex(0.50)]
	p95 = s.latencies[percentileIndex(0.95)]
	p99 = s.latencies[percentileIndex(0.99)]

	opsSec = float64(totalOps) / totalTime.Seconds()
	return p50, p95, p99, opsSec
}

// ResultRecord holds the stats we want to log for each worker.
type ResultRecord struct {
	Worker    int
	OpsCount  int
	BusyCount int
	OpsSec    float64
	P50Us     float64 // p50 in microseconds
	P95Us     float64 // p95 in microseconds
	P99Us     float64 // p99 in microseconds
	TotalTime time.Duration
}

// WriteCSV writes a list of ResultRecords to a CSV file.
func WriteCSV(filename string, records []ResultRecord) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"worker", "ops_count", "busy_count", "ops_sec",
		"p50_us", "p95_us", "p99_us", "total_time_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Worker),
			strconv.Itoa(rec.OpsCount),
			strconv.Itoa(rec.BusyCount),
			fmt.Sprintf("%.2f", rec.OpsSec),
			fmt.Sprintf("%.2f", rec.P50Us),
			fmt.Sprintf("%.2f", rec.P95Us),
			fmt.Sprintf("%.2f", rec.P99Us),
			fmt.Sprintf("%d", rec.TotalTime.Milliseconds()),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------------------
// Query load
// --------------------------------------------------------------------------------------

// Run hammers Now() from `workers` goroutines for `dur` and logs latency
// percentiles per worker. Each worker opens its own client: a Client is not
// safe to share across goroutines. Returns the per-worker records for CSV
// export.
func Run(log *zap.Logger, path string, workers int, dur time.Duration) ([]ResultRecord, error) {
	if workers <= 0 {
		workers = 1
	}

	records := make([]ResultRecord, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			client, err := clockbound.Open(path)
			if err != nil {
				errs[worker] = err
				return
			}
			defer client.Close()

			stats := NewStats()
			ops, busy := 0, 0
			start := time.Now()
			deadline := start.Add(dur)
			for time.Now().Before(deadline) {
				opStart := time.Now()
				_, err := client.Now()
				if err != nil {
					if shm.Kind(err) == shm.SegmentBusy {
						busy++
						continue
					}
					errs[worker] = err
					return
				}
				stats.Record(time.Since(opStart))
				ops++
			}
			total := time.Since(start)

			p50, p95, p99, opsSec := stats.Compute(ops, total)
			records[worker] = ResultRecord{
				Worker:    worker,
				OpsCount:  ops,
				BusyCount: busy,
				OpsSec:    opsSec,
				P50Us:     float64(p50.Microseconds()),
				P95Us:     float64(p95.Microseconds()),
				P99Us:     float64(p99.Microseconds()),
				TotalTime: total,
			}
			log.Info("worker finished",
				zap.Int("worker", worker),
				zap.Int("ops", ops),
				zap.Int("busy_retries", busy),
				zap.Float64("ops_sec", opsSec),
				zap.Duration("p50", p50),
				zap.Duration("p95", p95),
				zap.Duration("p99", p99))
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}
