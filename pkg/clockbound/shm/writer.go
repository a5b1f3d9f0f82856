package shm

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shmVersion is the layout version stamped on segments this writer
// publishes.
const shmVersion = shmVersionMax

// Writer publishes clock error bound updates to a segment. There must be at
// most one Writer per path on the system: readers synchronize against it
// through the generation counter alone, which only works with a single
// mutator.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	data []byte
	gen  uint16 // last published generation, always even
}

// CreateWriter opens the segment at path for writing.
//
// If the path already holds a valid segment, it is adopted as is and updates
// continue under the existing generation sequence, so readers that mapped it
// before a daemon restart never notice. Otherwise the file is created or
// wiped: version and generation stay 0, and readers treat the segment as not
// initialized until the first Update.
func CreateWriter(path string) (*Writer, error) {
	var gen uint16
	if r, err := Open(path); err == nil {
		gen = r.hdr.Generation
		if gen&1 == 1 {
			// A previous writer died mid-update. The payload cannot be
			// trusted; start over.
			gen = 0
		}
		if cerr := r.Close(); cerr != nil {
			return nil, cerr
		}
	}
	if gen == 0 {
		if err := wipeSegment(path); err != nil {
			return nil, err
		}
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errSyscall("open", err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, segmentMinSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errSyscall("mmap", err)
	}

	w := &Writer{data: data, gen: gen}

	// Stamp the layout version. On a wiped segment this defines the layout
	// while the generation of 0 keeps it unusable until the first Update;
	// on an adopted segment it rewrites the same value.
	w.storeVersionGeneration(shmVersion, gen)
	return w, nil
}

// wipeSegment initializes the backing file: magic and declared size are
// written so readers can identify the segment, version and generation stay 0
// so they do not trust it yet.
func wipeSegment(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errSyscall("mkdir", err)
		}
	}
	buf := make([]byte, segmentMinSize)
	native.PutUint32(buf[offMagic0:], shmMagic0)
	native.PutUint32(buf[offMagic1:], shmMagic1)
	native.PutUint32(buf[offSegsize:], segmentMinSize)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errSyscall("write", err)
	}
	return nil
}

// Generation reports the last published generation number.
func (w *Writer) Generation() uint16 {
	return w.gen
}

func (w *Writer) storeVersionGeneration(version, gen uint16) {
	var buf [4]byte
	native.PutUint16(buf[0:2], version)
	native.PutUint16(buf[2:4], gen)
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&w.data[offVersion])), native.Uint32(buf[:]))
}

// Update publishes ceb under the seqlock discipline: the generation goes odd
// before the payload is touched and even once the write completes, so a
// concurrent reader observes either the previous payload or this one, never
// a mix of both.
func (w *Writer) Update(ceb ClockErrorBound) error {
	if w.data == nil {
		return errKind(SegmentNotInitialized)
	}

	odd := w.gen + 1 // gen is even, so this is odd and never 0
	w.storeVersionGeneration(shmVersion, odd)
	encodePayload(w.data[headerSize:segmentMinSize], ceb)
	next := odd + 1
	if next == 0 {
		// The counter must never revisit 0 once the segment is published:
		// 0 means "not initialized" to readers.
		next = 2
	}
	w.storeVersionGeneration(shmVersion, next)
	w.gen = next
	return nil
}

// Close unmaps the segment. The backing file is left in place so readers
// keep extrapolating from the last published data until it expires.
func (w *Writer) Close() error {
	if w.data == nil {
		return nil
	}
	data := w.data
	w.data = nil
	if err := unix.Munmap(data); err != nil {
		return errSyscall("munmap", err)
	}
	return nil
}
