package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping represents a memory-mapped file.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data     []byte
	size     int
	writable bool
	closed   atomic.Bool
	f        *os.File
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
	// flush is the platform-specific function to write dirty pages back.
	flush func([]byte) error
}

// Open maps the file at path into memory as read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size < 0 {
		f.Close()
		return nil, ErrInvalidSize
	}
	if size == 0 {
		f.Close()
		return &Mapping{data: nil, size: 0}, nil
	}

	data, unmapFunc, flushFunc, err := osMap(f, int(size), false)
	if err != nil {
		f.Close()
		return nil, err
	}
	// The mapping keeps the pages alive; the descriptor is not needed
	// for read-only access.
	f.Close()

	return &Mapping{data: data, size: int(size), unmap: unmapFunc, flush: flushFunc}, nil
}

// OpenFile maps the file at path into memory for reading and writing,
// growing it to size bytes first if needed. The mapping length is exactly
// size bytes.
func OpenFile(path string, size int64) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}

	data, unmapFunc, flushFunc, err := osMap(f, int(size), true)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Mapping{
		data:     data,
		size:     int(size),
		writable: true,
		f:        f,
		unmap:    unmapFunc,
		flush:    flushFunc,
	}, nil
}

// Close flushes a writable mapping, unmaps the memory and closes the
// underlying file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // already closed
	}
	var err error
	if m.writable && m.flush != nil && m.data != nil {
		err = m.flush(m.data)
	}
	if m.unmap != nil && m.data != nil {
		if unmapErr := m.unmap(m.data); unmapErr != nil && err == nil {
			err = unmapErr
		}
	}
	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}

// Bytes returns the underlying byte slice.
// Warning: the slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Writable reports whether the mapping was opened for writing.
func (m *Mapping) Writable() bool {
	return m.writable
}

// Sync writes dirty pages of a writable mapping back to the file,
// blocking until the data (not metadata) has reached the device.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable {
		return nil
	}
	if m.flush == nil || m.data == nil {
		return nil
	}
	return m.flush(m.data)
}

// Advise provides hints to the kernel about how the memory will be accessed.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil {
		return nil
	}
	return osAdvise(m.data, pattern)
}

// ReadAt implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt on a writable mapping.
func (m *Mapping) WriteAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if !m.writable {
		return 0, ErrReadOnly
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfBounds
	}
	return copy(m.data[off:], p), nil
}
