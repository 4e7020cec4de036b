package redolog

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operating on a closed log.
	ErrClosed = errors.New("redolog: log is closed")
	// ErrNoDataFile is returned when the overflow data file is accessed
	// but was never created.
	ErrNoDataFile = errors.New("redolog: no data file")
)

// FormatError indicates an unrecognized log format tag.
type FormatError struct {
	Format uint32
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("redolog: unsupported log format %#x", e.Format)
}

// ChecksumError indicates a block or checkpoint slot whose stored checksum
// does not match its contents.
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("redolog: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// CapacityError is returned by SetCapacity when the configured redo size
// cannot give every concurrent writer its required free-space margin.
// It is a pre-flight validation failure: the previous capacity settings are
// left untouched and startup should be aborted.
type CapacityError struct {
	FileSize uint64
	Threads  int
	Required uint64
	Usable   uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("redolog: log file size %d cannot accommodate %d concurrent threads: %d bytes of free margin required, %d usable",
		e.FileSize, e.Threads, e.Required, e.Usable)
}
