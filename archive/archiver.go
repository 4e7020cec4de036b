package archive

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/redolog"
	"github.com/hupe1980/redolog/internal/hash"
)

// ObjectPrefix is the shared name prefix of archived segment objects.
const ObjectPrefix = "ib_logarchive."

// ObjectName returns the object name for the segment starting at lsn.
// Names sort in LSN order.
func ObjectName(lsn redolog.LSN) string {
	return fmt.Sprintf("%s%016x", ObjectPrefix, uint64(lsn))
}

// Segment object layout: a fixed 32-byte header followed by the
// zstd-compressed log bytes. The checksum covers the uncompressed payload.
const (
	segMagic    = "RLA1"
	segVersion  = 1
	hdrMagic    = 0
	hdrVersion  = 4
	hdrStartLSN = 8
	hdrEndLSN   = 16
	hdrChecksum = 24
	segHdrSize  = 32
)

// SegmentReader is the slice of the redo log the archiver consumes.
type SegmentReader interface {
	ReadSegment(start *redolog.LSN, end redolog.LSN, buf []byte) (bool, error)
}

// Archiver copies closed LSN ranges out of the circular log file into a
// Store. An archived range can be restored later, e.g. for point-in-time
// recovery after the circular file has wrapped past it.
type Archiver struct {
	log   SegmentReader
	store Store
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewArchiver creates an Archiver reading from log and writing to store.
func NewArchiver(log SegmentReader, store Store) (*Archiver, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("archive: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("archive: create decoder: %w", err)
	}
	return &Archiver{log: log, store: store, enc: enc, dec: dec}, nil
}

// Close releases the compressor state.
func (a *Archiver) Close() error {
	a.dec.Close()
	return a.enc.Close()
}

// Archive copies the LSN range [start, end) into the store and returns
// the object name. start must be block-aligned. When a block in the range
// fails its checksum, the valid prefix is archived instead and the
// returned end LSN reflects the truncation; archiving nothing is an
// error.
func (a *Archiver) Archive(ctx context.Context, start, end redolog.LSN) (string, redolog.LSN, error) {
	if end <= start {
		return "", 0, fmt.Errorf("archive: empty range [%d, %d)", uint64(start), uint64(end))
	}

	buf := make([]byte, end-start)
	pos := start
	ok, err := a.log.ReadSegment(&pos, end, buf)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		if pos == start {
			return "", 0, fmt.Errorf("archive: no valid log at %d", uint64(start))
		}
		end = pos
		buf = buf[:end-start]
	}

	obj := make([]byte, segHdrSize, segHdrSize+len(buf)/2)
	copy(obj[hdrMagic:], segMagic)
	binary.BigEndian.PutUint32(obj[hdrVersion:], segVersion)
	binary.BigEndian.PutUint64(obj[hdrStartLSN:], uint64(start))
	binary.BigEndian.PutUint64(obj[hdrEndLSN:], uint64(end))
	binary.BigEndian.PutUint32(obj[hdrChecksum:], hash.CRC32C(buf))
	obj = a.enc.EncodeAll(buf, obj)

	name := ObjectName(start)
	if err := a.store.Put(ctx, name, obj); err != nil {
		return "", 0, err
	}
	return name, end, nil
}

// Restore reads an archived segment back, returning its LSN range and the
// uncompressed log bytes after checksum verification.
func (a *Archiver) Restore(ctx context.Context, name string) (start, end redolog.LSN, data []byte, err error) {
	blob, err := a.store.Open(ctx, name)
	if err != nil {
		return 0, 0, nil, err
	}
	defer func() { _ = blob.Close() }()

	obj, err := readAll(ctx, blob)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(obj) < segHdrSize || string(obj[hdrMagic:hdrMagic+4]) != segMagic {
		return 0, 0, nil, fmt.Errorf("archive: %s is not a segment object", name)
	}
	if v := binary.BigEndian.Uint32(obj[hdrVersion:]); v != segVersion {
		return 0, 0, nil, fmt.Errorf("archive: %s has unsupported version %d", name, v)
	}
	start = redolog.LSN(binary.BigEndian.Uint64(obj[hdrStartLSN:]))
	end = redolog.LSN(binary.BigEndian.Uint64(obj[hdrEndLSN:]))
	want := binary.BigEndian.Uint32(obj[hdrChecksum:])

	data, err = a.dec.DecodeAll(obj[segHdrSize:], nil)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("archive: decompress %s: %w", name, err)
	}
	if got := hash.CRC32C(data); got != want {
		return 0, 0, nil, fmt.Errorf("archive: %s payload checksum mismatch: expected 0x%08x, got 0x%08x", name, want, got)
	}
	return start, end, data, nil
}

// ListSegments returns the names of all archived segments, in LSN order.
func (a *Archiver) ListSegments(ctx context.Context) ([]string, error) {
	return a.store.List(ctx, ObjectPrefix)
}
