package shm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// rawSegment assembles a complete segment image with the given header fields
// and payload, padded or truncated to fileSize bytes.
func rawSegment(segsize uint32, version, generation uint16, ceb ClockErrorBound, fileSize int) []byte {
	buf := make([]byte, segmentMinSize)
	native.PutUint32(buf[offMagic0:], shmMagic0)
	native.PutUint32(buf[offMagic1:], shmMagic1)
	native.PutUint32(buf[offSegsize:], segsize)
	native.PutUint16(buf[offVersion:], version)
	native.PutUint16(buf[offGeneration:], generation)
	encodePayload(buf[headerSize:], ceb)

	out := make([]byte, fileSize)
	copy(out, buf)
	return out
}

// writeSegmentFile writes a raw segment image under dir and returns its path.
func writeSegmentFile(t *testing.T, dir string, img []byte) string {
	t.Helper()
	path := filepath.Join(dir, "shm")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("writing segment file: %v", err)
	}
	return path
}

func liveBound(t *testing.T) ClockErrorBound {
	t.Helper()
	now, err := clockGettime(clockMonotonic)
	if err != nil {
		t.Fatalf("clock_gettime: %v", err)
	}
	return ClockErrorBound{
		AsOf:        now,
		VoidAfter:   unix.NsecToTimespec(now.Nano() + 30*int64(time.Second)),
		BoundNsec:   int64(time.Millisecond),
		MaxDriftPPB: 1000,
		Status:      ClockStatusSynchronized,
	}
}

// TestOpenMissingSegment verifies that a missing segment reads as not
// initialized: the daemon simply has not started yet.
func TestOpenMissingSegment(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	if Kind(err) != SegmentNotInitialized {
		t.Fatalf("Open = %v, want SegmentNotInitialized", err)
	}
}

// TestOpenBadMagic verifies that a file that is not a ClockBound segment is
// rejected as malformed.
func TestOpenBadMagic(t *testing.T) {
	img := rawSegment(segmentMinSize, 2, 4, ClockErrorBound{}, segmentMinSize)
	native.PutUint32(img[offMagic0:], 0xdeadbeef)
	path := writeSegmentFile(t, t.TempDir(), img)

	if _, err := Open(path); Kind(err) != SegmentMalformed {
		t.Fatalf("Open = %v, want SegmentMalformed", err)
	}
}

// TestOpenVersionTooNew verifies that a segment from a future daemon is
// rejected at open time instead of misread.
func TestOpenVersionTooNew(t *testing.T) {
	img := rawSegment(segmentMinSize, shmVersionMax+1, 4, ClockErrorBound{}, segmentMinSize)
	path := writeSegmentFile(t, t.TempDir(), img)

	if _, err := Open(path); Kind(err) != VersionNotSupported {
		t.Fatalf("Open = %v, want VersionNotSupported", err)
	}
}

// TestOpenWipedSegment verifies that a wiped segment (version and generation
// zero) reads as not initialized.
func TestOpenWipedSegment(t *testing.T) {
	img := rawSegment(segmentMinSize, 0, 0, ClockErrorBound{}, segmentMinSize)
	path := writeSegmentFile(t, t.TempDir(), img)

	if _, err := Open(path); Kind(err) != SegmentNotInitialized {
		t.Fatalf("Open = %v, want SegmentNotInitialized", err)
	}
}

// TestOpenTruncatedFile verifies that a file shorter than its declared
// segment size is rejected: mapping it would trade an error for a SIGBUS.
func TestOpenTruncatedFile(t *testing.T) {
	img := rawSegment(segmentMinSize, 2, 4, ClockErrorBound{}, segmentMinSize-16)
	path := writeSegmentFile(t, t.TempDir(), img)

	if _, err := Open(path); Kind(err) != SegmentMalformed {
		t.Fatalf("Open = %v, want SegmentMalformed", err)
	}
}

// TestOpenLargerSegment verifies forward compatibility within a supported
// version: a segment declaring extra trailing fields opens fine and the known
// payload decodes unchanged.
func TestOpenLargerSegment(t *testing.T) {
	want := ClockErrorBound{
		AsOf:        ts(100, 200),
		VoidAfter:   ts(300, 400),
		BoundNsec:   5000,
		MaxDriftPPB: 600,
		Status:      ClockStatusSynchronized,
	}
	img := rawSegment(128, 2, 4, want, 128)
	path := writeSegmentFile(t, t.TempDir(), img)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if r.Version() != 2 {
		t.Errorf("Version = %d, want 2", r.Version())
	}
	if r.SegmentSize() != 128 {
		t.Errorf("SegmentSize = %d, want 128", r.SegmentSize())
	}
	got, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}
}

// TestSnapshotIdempotent verifies that with no writer activity repeated
// snapshots return identical payloads.
func TestSnapshotIdempotent(t *testing.T) {
	ceb := ClockErrorBound{
		AsOf:        ts(1, 2),
		VoidAfter:   ts(3, 4),
		BoundNsec:   123,
		MaxDriftPPB: 5,
		Status:      ClockStatusFreeRunning,
	}
	path := writeSegmentFile(t, t.TempDir(), rawSegment(segmentMinSize, 2, 10, ceb, segmentMinSize))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	first, err := r.Snapshot()
	if err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}
	second, err := r.Snapshot()
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}
	if first != second || first != ceb {
		t.Errorf("snapshots diverged: %+v vs %+v (want %+v)", first, second, ceb)
	}
}

// TestSnapshotBusyOnStuckWriter verifies that a generation stuck odd (a
// writer that died mid-update) reports SegmentBusy instead of spinning
// forever.
func TestSnapshotBusyOnStuckWriter(t *testing.T) {
	path := writeSegmentFile(t, t.TempDir(), rawSegment(segmentMinSize, 2, 11, ClockErrorBound{}, segmentMinSize))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Snapshot(); Kind(err) != SegmentBusy {
		t.Fatalf("Snapshot = %v, want SegmentBusy", err)
	}
}

// TestReaderClose verifies that Close is idempotent and that a closed reader
// fails queries cleanly instead of faulting on the unmapped segment.
func TestReaderClose(t *testing.T) {
	path := writeSegmentFile(t, t.TempDir(), rawSegment(segmentMinSize, 2, 4, ClockErrorBound{}, segmentMinSize))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := r.Snapshot(); Kind(err) != SegmentNotInitialized {
		t.Errorf("Snapshot after Close = %v, want SegmentNotInitialized", err)
	}
	if _, err := r.Now(); Kind(err) != SegmentNotInitialized {
		t.Errorf("Now after Close = %v, want SegmentNotInitialized", err)
	}
}

// TestNowFromLiveSegment runs the full query pipeline against a freshly
// published segment and checks the interval shape.
func TestNowFromLiveSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shm")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter failed: %v", err)
	}
	defer w.Close()
	if err := w.Update(liveBound(t)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	res, err := r.Now()
	if err != nil {
		t.Fatalf("Now failed: %v", err)
	}
	if !res.Earliest.Before(res.Latest) {
		t.Errorf("interval empty: [%v, %v]", res.Earliest, res.Latest)
	}
	width := res.Latest.Sub(res.Earliest)
	if width < 2*time.Millisecond {
		t.Errorf("width = %v, below twice the published bound", width)
	}
	if width > 2*time.Millisecond+time.Second {
		t.Errorf("width = %v, grew absurdly for a fresh bound", width)
	}
	if res.Status != ClockStatusSynchronized {
		t.Errorf("Status = %v, want synchronized", res.Status)
	}
}

// TestNowCausalityBreach verifies that an anchor far in the monotonic future
// makes the query fail rather than report an interval.
func TestNowCausalityBreach(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shm")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter failed: %v", err)
	}
	defer w.Close()

	ceb := liveBound(t)
	ceb.AsOf = unix.NsecToTimespec(ceb.AsOf.Nano() + int64(time.Hour))
	if err := w.Update(ceb); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Now(); Kind(err) != CausalityBreach {
		t.Fatalf("Now = %v, want CausalityBreach", err)
	}
}
