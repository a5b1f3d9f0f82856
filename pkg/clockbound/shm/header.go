package shm

import "encoding/binary"

// Segment layout, fixed byte offsets. The segment is produced by an
// independently built writer process, so every field is decoded at an
// explicit offset in native byte order, never by casting the mapping onto a
// Go struct.
const (
	offMagic0     = 0  // uint32
	offMagic1     = 4  // uint32
	offSegsize    = 8  // uint32
	offVersion    = 12 // uint16
	offGeneration = 14 // uint16

	headerSize     = 16
	payloadSize    = 56
	segmentMinSize = headerSize + payloadSize
)

// Payload field offsets, relative to the start of the payload.
const (
	offAsOfSec       = 0  // int64
	offAsOfNsec      = 8  // int64
	offVoidAfterSec  = 16 // int64
	offVoidAfterNsec = 24 // int64
	offBoundNsec     = 32 // int64
	offDriftPPB      = 40 // uint32
	offReserved      = 44 // uint32
	offStatus        = 48 // uint32
	// 52..56 is padding, kept so the payload stays 8-byte aligned.
)

// Magic number pair identifying a ClockBound segment.
const (
	shmMagic0 = 0x414D5A4E
	shmMagic1 = 0x43420200
)

// shmVersionMax is the newest layout version this implementation
// understands. Versions 1 and 2 share the payload layout decoded here; a
// segment declaring a later version is rejected at open time rather than
// misread.
const shmVersionMax = 2

var native = binary.NativeEndian

// header holds the fields validated once at open time and cached on the
// Reader for the lifetime of the mapping.
type header struct {
	Segsize    uint32
	Version    uint16
	Generation uint16
}

// parseHeader decodes and validates the fixed-size segment header.
//
// A short buffer or an unpublished segment (version or generation still 0)
// reports SegmentNotInitialized: the writer exists but has not produced
// usable data. A wrong magic or an undersized declared segment reports
// SegmentMalformed and is permanent for this segment.
func parseHeader(buf []byte) (header, *Error) {
	if len(buf) < headerSize {
		return header{}, errKind(SegmentNotInitialized)
	}
	if native.Uint32(buf[offMagic0:]) != shmMagic0 || native.Uint32(buf[offMagic1:]) != shmMagic1 {
		return header{}, errKind(SegmentMalformed)
	}
	h := header{
		Segsize:    native.Uint32(buf[offSegsize:]),
		Version:    native.Uint16(buf[offVersion:]),
		Generation: native.Uint16(buf[offGeneration:]),
	}
	if h.Segsize < segmentMinSize {
		return header{}, errKind(SegmentMalformed)
	}
	if h.Version > shmVersionMax {
		return header{}, errKind(VersionNotSupported)
	}
	if h.Version == 0 || h.Generation == 0 {
		// The writer wiped the segment but has not published yet.
		return header{}, errKind(SegmentNotInitialized)
	}
	return h, nil
}
