package redolog

import (
	"time"

	"github.com/hupe1980/redolog/internal/fs"
)

// Options contains configuration for the redo log.
type Options struct {
	// Path is the directory where the log files are stored.
	Path string

	// BufferSize is the size of one log buffer half in bytes. Twice this
	// amount is allocated so that appends can continue in one half while
	// the other is being written out.
	BufferSize int

	// FileSize is the size of the circular redo body in bytes, excluding
	// the header area. Must be a multiple of 512.
	FileSize uint64

	// DataFileSize, when nonzero, creates the overflow data file with the
	// given initial size.
	DataFileSize uint64

	// PageSize is the data page size the margin formulas are based on.
	PageSize int

	// ThreadConcurrency is the expected number of concurrently appending
	// threads. Each needs a reserved free-space margin in the log so a
	// query step can always complete.
	ThreadConcurrency int

	// Format is the log format tag written into new files.
	Format uint32

	// KeyVersion is the redo encryption key version, 0 if not encrypted.
	// Key management itself lives outside this package.
	KeyVersion uint32

	// Creator is the NUL-terminated creator string, at most 31 bytes.
	Creator string

	// UseMmap selects the memory-mapped file backend instead of plain
	// file handles. The choice is made once at open time.
	UseMmap bool

	// DurableWrites marks the backend's writes as inherently durable
	// (e.g. persistent memory), skipping explicit flushes.
	DurableWrites bool

	// WarnInterval rate-limits the crash-unsafe checkpoint-age warning.
	WarnInterval time.Duration

	// DirtyPages is the buffer-pool collaborator. Nil means no dirty
	// pages are ever reported.
	DirtyPages DirtyPages

	// Logger receives structured log output. Nil uses a default text
	// logger.
	Logger *Logger

	// FS is the file system seam, for tests. Nil uses the local one.
	FS fs.FileSystem
}

// DefaultOptions returns default redo log options.
var DefaultOptions = Options{
	Path:              ".",
	BufferSize:        2 * 1024 * 1024,  // 2 MiB per half
	FileSize:          96 * 1024 * 1024, // 96 MiB circular body
	PageSize:          16 * 1024,
	ThreadConcurrency: 8,
	Format:            FormatPhysical,
	Creator:           CreatorCurrent,
	WarnInterval:      10 * time.Second,
}
