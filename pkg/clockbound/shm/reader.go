// Package shm implements the ClockBound shared memory segment protocol. A
// single external writer (the ClockBound daemon) publishes clock error bound
// data to a small segment; arbitrarily many readers map it read-only and
// take lock-free consistent snapshots, synchronized only through a seqlock
// generation counter.
package shm

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultPath is the conventional location of the segment published by the
// ClockBound daemon.
const DefaultPath = "/var/run/clockbound/shm"

// maxSnapshotRetries bounds the seqlock retry loop. A writer update is a
// sub-microsecond copy, so tens of consecutive failed generation checks mean
// the writer died mid-update or this reader is being badly starved;
// reporting SegmentBusy then beats spinning unboundedly on a hot path. This
// is a tuning value, not a correctness one.
const maxSnapshotRetries = 64

// Reader maps a ClockBound segment and takes consistent snapshots of its
// payload. The header is validated once at open time; each query only
// re-runs the snapshot and extrapolation steps, with no syscall beyond the
// three clock readings.
//
// A Reader is not safe for concurrent use. Every goroutine must open its
// own.
type Reader struct {
	data []byte // read-only mapping; nil once closed
	hdr  header // validated once at open time
}

// Open maps the segment at path read-only and validates its header.
//
// A missing segment reports SegmentNotInitialized: the daemon has not
// started or has not published yet, and the caller may retry later. Format
// failures (SegmentMalformed, VersionNotSupported) are permanent for this
// segment.
func Open(path string) (*Reader, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, errKind(SegmentNotInitialized)
		}
		return nil, errSyscall("open", err)
	}
	defer unix.Close(fd)

	// Read the header through the descriptor first: it carries the
	// declared segment size, which decides how much to map.
	var buf [headerSize]byte
	n, err := unix.Pread(fd, buf[:], 0)
	if err != nil {
		return nil, errSyscall("pread", err)
	}
	if n < headerSize {
		return nil, errKind(SegmentNotInitialized)
	}
	hdr, herr := parseHeader(buf[:])
	if herr != nil {
		return nil, herr
	}

	// The declared size must be backed by the file, or a fault in the
	// mapping would surface as SIGBUS on first access instead of an error.
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errSyscall("fstat", err)
	}
	if st.Size < int64(hdr.Segsize) {
		return nil, errKind(SegmentMalformed)
	}

	// Read-only at the platform level: no reader bug can corrupt the
	// segment for the writer or for other readers.
	data, err := unix.Mmap(fd, 0, int(hdr.Segsize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errSyscall("mmap", err)
	}

	return &Reader{data: data, hdr: hdr}, nil
}

// Version reports the segment layout version validated at open time.
func (r *Reader) Version() uint16 {
	return r.hdr.Version
}

// SegmentSize reports the segment size declared by the writer at open time.
func (r *Reader) SegmentSize() uint32 {
	return r.hdr.Segsize
}

// Close unmaps the segment. The Reader must not be used afterwards; calling
// Close more than once is a no-op.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if err := unix.Munmap(data); err != nil {
		return errSyscall("munmap", err)
	}
	return nil
}

// loadVersionGeneration atomically loads the word holding the version and
// generation counters. A 32-bit load is the narrowest atomic available; the
// mapping is page aligned, so the word at offVersion satisfies the required
// 4-byte alignment. Go atomics order at least as strongly as the
// acquire/release discipline the protocol needs.
func (r *Reader) loadVersionGeneration() (version, generation uint16) {
	word := atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[offVersion])))
	var buf [4]byte
	native.PutUint32(buf[:], word)
	return native.Uint16(buf[0:2]), native.Uint16(buf[2:4])
}

// Snapshot returns a consistent copy of the segment payload.
//
// This is the seqlock read: the generation counter is odd while the writer
// is mid-update, and changes across the copy if an update raced it; in both
// cases the copy is discarded and retried, so a torn payload is never
// returned. The loop is pure spin with no syscall, no allocation and no
// yield, and gives up with SegmentBusy after maxSnapshotRetries attempts.
func (r *Reader) Snapshot() (ClockErrorBound, error) {
	if r.data == nil {
		return ClockErrorBound{}, errKind(SegmentNotInitialized)
	}

	var payload [payloadSize]byte
	for attempt := 0; attempt < maxSnapshotRetries; attempt++ {
		version, gen := r.loadVersionGeneration()
		if version == 0 || gen == 0 {
			// The writer wiped the segment for a layout change and has
			// not republished yet.
			return ClockErrorBound{}, errKind(SegmentNotInitialized)
		}
		if gen&1 == 1 {
			// Writer mid-update.
			continue
		}
		copy(payload[:], r.data[headerSize:segmentMinSize])
		if _, again := r.loadVersionGeneration(); again == gen {
			return decodePayload(payload[:]), nil
		}
	}
	return ClockErrorBound{}, errKind(SegmentBusy)
}

// Now runs one full query: bracket the snapshot with coarse monotonic
// readings, read the wall clock, and extrapolate the snapshot's bound to
// the current instant.
func (r *Reader) Now() (NowResult, error) {
	before, cerr := clockGettime(clockMonotonic)
	if cerr != nil {
		return NowResult{}, cerr
	}

	ceb, err := r.Snapshot()
	if err != nil {
		return NowResult{}, err
	}

	// Realtime first: it anchors the reported interval and should sit as
	// close as possible to the caller's instant. Being preempted before
	// the monotonic read only inflates the bound, which stays correct.
	real, cerr := clockGettime(clockRealtime)
	if cerr != nil {
		return NowResult{}, cerr
	}
	after, cerr := clockGettime(clockMonotonic)
	if cerr != nil {
		return NowResult{}, cerr
	}

	if after.Nano() < before.Nano() {
		// The monotonic clock ran backwards across the snapshot.
		return NowResult{}, errKind(CausalityBreach)
	}

	res, berr := ceb.boundAt(real, after)
	if berr != nil {
		return NowResult{}, berr
	}
	return res, nil
}
