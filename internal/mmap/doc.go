// Package mmap provides memory-mapped file access for the redo log.
//
// Two flavors exist: read-only mappings (Open) used when scanning or
// archiving log files, and read-write mappings (OpenFile) that back the
// mmap variant of the log's file I/O. Writable mappings expose Sync, which
// performs a synchronous msync (FlushViewOfFile + FlushFileBuffers on
// Windows) so callers can establish a durability point without going
// through the page cache twice.
//
// A mapped write is not durable until Sync returns, unless the mapping is
// backed by storage with durable writes (e.g. NVDIMM), which the caller
// must know out of band.
package mmap
