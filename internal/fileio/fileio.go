// Package fileio provides the file access layer of the redo log.
//
// IO is a closed interface with exactly two implementations, selected once
// when a file is opened and never changed for the lifetime of the handle:
//
//   - PlainIO issues pread/pwrite style calls on a file descriptor and
//     requires an explicit Flush to establish durability.
//   - MmapIO maps the file into memory; writes are memcpys and Flush is an
//     msync. On storage with inherently durable writes (NVDIMM, some NVMe
//     configurations) Flush can be skipped, which WritesAreDurable reports.
//
// LogFile binds a path to one IO implementation so the rest of the log
// never cares which backend is underneath.
package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/redolog/internal/fs"
	"github.com/hupe1980/redolog/internal/mmap"
)

// ErrNotOpen is returned when operating on a file that has not been opened.
var ErrNotOpen = errors.New("fileio: file is not open")

// IO abstracts reading, writing and flushing file cache to disk.
// Each instance is exclusively owned by its LogFile; no implicit sharing.
type IO interface {
	Open(path string, readOnly bool) error
	Rename(oldPath, newPath string) error
	Close() error
	ReadAt(offset int64, buf []byte) error
	WriteAt(path string, offset int64, buf []byte) error
	// Flush writes the file data (not metadata) back to the device.
	Flush() error
	// WritesAreDurable reports whether writes survive a crash without Flush.
	WritesAreDurable() bool
}

// PlainIO implements IO over a plain file handle.
type PlainIO struct {
	fsys          fs.FileSystem
	f             fs.File
	durableWrites bool
}

// NewPlainIO creates a plain-handle IO backed by fsys (fs.Default if nil).
// durableWrites should only be true when the handle was opened in a mode
// where completed writes are persistent (e.g. O_DSYNC semantics provided
// by the platform).
func NewPlainIO(fsys fs.FileSystem, durableWrites bool) *PlainIO {
	if fsys == nil {
		fsys = fs.Default
	}
	return &PlainIO{fsys: fsys, durableWrites: durableWrites}
}

func (p *PlainIO) Open(path string, readOnly bool) error {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := p.fsys.OpenFile(path, flag, 0o600)
	if err != nil {
		return fmt.Errorf("fileio: open %q: %w", path, err)
	}
	p.f = f
	return nil
}

func (p *PlainIO) Rename(oldPath, newPath string) error {
	if err := p.fsys.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("fileio: rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

func (p *PlainIO) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

func (p *PlainIO) ReadAt(offset int64, buf []byte) error {
	if p.f == nil {
		return ErrNotOpen
	}
	if _, err := p.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return fmt.Errorf("fileio: read at %d: %w", offset, err)
	}
	return nil
}

func (p *PlainIO) WriteAt(path string, offset int64, buf []byte) error {
	if p.f == nil {
		return ErrNotOpen
	}
	if _, err := p.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("fileio: write %q at %d: %w", path, offset, err)
	}
	return nil
}

func (p *PlainIO) Flush() error {
	if p.f == nil {
		return ErrNotOpen
	}
	return p.f.Sync()
}

func (p *PlainIO) WritesAreDurable() bool { return p.durableWrites }

// MmapIO implements IO over a memory-mapped file.
type MmapIO struct {
	m             *mmap.Mapping
	durableWrites bool
}

// NewMmapIO creates a memory-mapped IO. durableWrites should only be true
// when the mapping is backed by persistent memory.
func NewMmapIO(durableWrites bool) *MmapIO {
	return &MmapIO{durableWrites: durableWrites}
}

func (m *MmapIO) Open(path string, readOnly bool) error {
	if readOnly {
		mp, err := mmap.Open(path)
		if err != nil {
			return fmt.Errorf("fileio: mmap %q: %w", path, err)
		}
		m.m = mp
		return nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("fileio: stat %q: %w", path, err)
	}
	mp, err := mmap.OpenFile(path, fi.Size())
	if err != nil {
		return fmt.Errorf("fileio: mmap %q: %w", path, err)
	}
	m.m = mp
	return nil
}

func (m *MmapIO) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("fileio: rename %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

func (m *MmapIO) Close() error {
	if m.m == nil {
		return nil
	}
	err := m.m.Close()
	m.m = nil
	return err
}

func (m *MmapIO) ReadAt(offset int64, buf []byte) error {
	if m.m == nil {
		return ErrNotOpen
	}
	if _, err := m.m.ReadAt(buf, offset); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (m *MmapIO) WriteAt(path string, offset int64, buf []byte) error {
	if m.m == nil {
		return ErrNotOpen
	}
	if _, err := m.m.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("fileio: write %q at %d: %w", path, offset, err)
	}
	return nil
}

func (m *MmapIO) Flush() error {
	if m.m == nil {
		return ErrNotOpen
	}
	return m.m.Sync()
}

func (m *MmapIO) WritesAreDurable() bool { return m.durableWrites }
