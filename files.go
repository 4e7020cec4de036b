package redolog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/redolog/internal/fileio"
	"github.com/hupe1980/redolog/internal/fs"
	"github.com/hupe1980/redolog/internal/hash"
)

// fileGroup owns the main log file and the optional overflow data file and
// maps logical LSNs to physical byte offsets in the circular body.
//
// The anchor pair (lsn, lsnOffset) and fileSize are protected by the main
// log mutex. The direct-append cursor fdOffset has its own mutex so bulk
// writers do not contend with buffer appenders.
type fileGroup struct {
	format     uint32
	keyVersion uint32
	creator    string

	// fileSize is the size of the circular body in bytes.
	fileSize uint64

	// anchor fixing LSN coordinates within the circular body
	lsn       LSN
	lsnOffset uint64

	main *fileio.LogFile

	// direct append path, independent of the main log mutex
	fdMu     sync.Mutex
	fdOffset uint64

	data    *fileio.LogFile
	hasData bool
}

func newIO(opts *Options) fileio.IO {
	if opts.UseMmap {
		return fileio.NewMmapIO(opts.DurableWrites)
	}
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}
	return fileio.NewPlainIO(fsys, opts.DurableWrites)
}

// openFiles opens the log files, creating and formatting them when absent.
// It returns whether the main file was newly created.
func (g *fileGroup) openFiles(opts *Options) (bool, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.MkdirAll(opts.Path, 0o750); err != nil {
		return false, fmt.Errorf("redolog: create log directory: %w", err)
	}

	mainPath := filepath.Join(opts.Path, MainFileName)
	_, statErr := fsys.Stat(mainPath)
	created := os.IsNotExist(statErr)
	if statErr != nil && !created {
		return false, fmt.Errorf("redolog: stat %q: %w", mainPath, statErr)
	}

	if created {
		// Size the file up front; the mmap backend maps the whole file.
		if err := preallocate(fsys, mainPath, int64(HeaderSize+opts.FileSize)); err != nil {
			return false, err
		}
	}

	g.main = fileio.NewLogFile(mainPath, newIO(opts))
	if err := g.main.Open(false); err != nil {
		return false, err
	}

	if created {
		g.format = opts.Format
		g.keyVersion = opts.KeyVersion
		g.creator = opts.Creator
		g.fileSize = opts.FileSize
		if err := g.writeHeader(); err != nil {
			_ = g.main.Close()
			return false, err
		}
	} else {
		if err := g.readHeader(); err != nil {
			_ = g.main.Close()
			return false, err
		}
	}

	if opts.DataFileSize > 0 {
		if err := g.createDataFile(opts, opts.DataFileSize); err != nil {
			_ = g.main.Close()
			return false, err
		}
	}

	return created, nil
}

func preallocate(fsys fs.FileSystem, path string, size int64) error {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("redolog: create %q: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("redolog: size %q to %d: %w", path, size, err)
	}
	return f.Close()
}

// writeHeader formats a fresh main file: header block plus zeroed
// checkpoint slots, written through the direct-append path so the group's
// write cursor ends up just past the header area.
func (g *fileGroup) writeHeader() error {
	hdr := FileHeader{
		Format:     g.format,
		KeyVersion: g.keyVersion,
		FileSize:   g.fileSize,
		Creator:    g.creator,
	}
	block, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if err := g.appendToMainLog(block); err != nil {
		return err
	}
	// Zero the checkpoint slot blocks so neither slot verifies until a
	// checkpoint has actually been written.
	if err := g.appendToMainLog(make([]byte, HeaderSize-BlockSize)); err != nil {
		return err
	}
	return g.main.Flush()
}

func (g *fileGroup) readHeader() error {
	block := make([]byte, BlockSize)
	if err := g.main.Read(0, block); err != nil {
		return err
	}
	var hdr FileHeader
	if err := hdr.UnmarshalBinary(block); err != nil {
		return err
	}
	g.format = hdr.Format
	g.keyVersion = hdr.KeyVersion
	g.creator = hdr.Creator
	g.fileSize = hdr.FileSize

	g.fdMu.Lock()
	g.fdOffset = HeaderSize
	g.fdMu.Unlock()
	return nil
}

// createDataFile creates the overflow data file with the given size.
func (g *fileGroup) createDataFile(opts *Options, size uint64) error {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.Default
	}
	dataPath := filepath.Join(opts.Path, DataFileName)
	if _, err := fsys.Stat(dataPath); os.IsNotExist(err) {
		if err := preallocate(fsys, dataPath, int64(size)); err != nil {
			return err
		}
	}
	g.data = fileio.NewLogFile(dataPath, newIO(opts))
	if err := g.data.Open(false); err != nil {
		return err
	}
	g.hasData = true
	return nil
}

func (g *fileGroup) closeFiles() error {
	var err error
	if g.main != nil {
		err = g.main.Close()
	}
	if g.hasData {
		if dataErr := g.data.Close(); dataErr != nil && err == nil {
			err = dataErr
		}
		g.hasData = false
	}
	return err
}

// isPhysical reports whether the log is in the physical format.
func (g *fileGroup) isPhysical() bool { return g.format == FormatPhysical }

// setAnchor pins the mapping so lsn corresponds to the given body offset.
// Used once when a file is created or recovered.
func (g *fileGroup) setAnchor(lsn LSN, offset uint64) {
	g.lsn = lsn
	g.lsnOffset = offset
}

// calcLSNOffset returns the byte offset of lsn within the circular body,
// in [0, fileSize). LSNs both before and after the anchor are defined: a
// negative delta is folded into the modulus before the anchor offset is
// applied.
func (g *fileGroup) calcLSNOffset(lsn LSN) uint64 {
	size := g.fileSize
	var l uint64
	if lsn >= g.lsn {
		l = uint64(lsn-g.lsn) % size
	} else {
		l = uint64(g.lsn-lsn) % size
		l = size - l
	}
	l += g.lsnOffset
	l %= size
	return l
}

// bodyWrite writes buf into the circular body starting at the offset of
// startLSN, splitting the write at the wraparound point when needed.
func (g *fileGroup) bodyWrite(startLSN LSN, buf []byte) error {
	offset := g.calcLSNOffset(startLSN)
	for len(buf) > 0 {
		n := uint64(len(buf))
		if offset+n > g.fileSize {
			n = g.fileSize - offset
		}
		if err := g.main.Write(int64(HeaderSize+offset), buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		offset = (offset + n) % g.fileSize
	}
	return nil
}

// readSegment reads the LSN range [*start, end) into buf, validating the
// CRC32C trailer of every 512-byte block. *start must be block-aligned.
//
// On return *start has been advanced past the last verified block, even on
// failure, so callers may use the valid prefix. The boolean result is true
// iff every block in the range verified.
func (g *fileGroup) readSegment(start *LSN, end LSN, buf []byte) (bool, error) {
	if *start%BlockSize != 0 {
		return false, fmt.Errorf("redolog: unaligned segment start %d", uint64(*start))
	}
	if end < *start {
		return false, fmt.Errorf("redolog: segment end %d before start %d", uint64(end), uint64(*start))
	}

	block := make([]byte, BlockSize)
	for *start < end {
		offset := g.calcLSNOffset(*start)
		if err := g.main.Read(int64(HeaderSize+offset), block); err != nil {
			return false, err
		}
		want := binary.BigEndian.Uint32(block[BlockDataSize:])
		if got := hash.CRC32C(block[:BlockDataSize]); got != want {
			return false, nil
		}
		n := copy(buf, block[:min(len(block), int(end-*start))])
		buf = buf[n:]
		if end-*start < BlockSize {
			*start = end
		} else {
			*start += BlockSize
		}
	}
	return true, nil
}

// mainRead reads from the main file at a raw byte offset.
func (g *fileGroup) mainRead(offset int64, buf []byte) error {
	return g.main.Read(offset, buf)
}

// mainWriteDurable writes to the main file at a raw byte offset and makes
// the write durable before returning.
func (g *fileGroup) mainWriteDurable(offset int64, buf []byte) error {
	if err := g.main.Write(offset, buf); err != nil {
		return err
	}
	if g.main.WritesAreDurable() {
		return nil
	}
	return g.main.Flush()
}

// appendToMainLog appends buf to the main file at the group's write
// cursor, bypassing the log buffer. The cursor has its own lock so direct
// writers make progress without holding the main log mutex.
func (g *fileGroup) appendToMainLog(buf []byte) error {
	g.fdMu.Lock()
	defer g.fdMu.Unlock()

	if err := g.main.Write(int64(g.fdOffset), buf); err != nil {
		return err
	}
	g.fdOffset += uint64(len(buf))
	return nil
}

// mainFileSize returns the direct-append write cursor.
func (g *fileGroup) mainFileSize() uint64 {
	g.fdMu.Lock()
	defer g.fdMu.Unlock()
	return g.fdOffset
}

// dataRead reads from the overflow data file.
func (g *fileGroup) dataRead(offset int64, buf []byte) error {
	if !g.hasData {
		return ErrNoDataFile
	}
	return g.data.Read(offset, buf)
}

// dataWrite writes to the overflow data file.
func (g *fileGroup) dataWrite(offset int64, buf []byte) error {
	if !g.hasData {
		return ErrNoDataFile
	}
	return g.data.Write(offset, buf)
}

// dataWritesAreDurable reports whether data file writes need no flush.
func (g *fileGroup) dataWritesAreDurable() bool {
	return g.hasData && g.data.WritesAreDurable()
}

// dataFlush flushes the OS cache (data only) for the data file.
func (g *fileGroup) dataFlush() error {
	if !g.hasData {
		return ErrNoDataFile
	}
	return g.data.Flush()
}
