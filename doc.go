// Package redolog implements the write-ahead log core of a transactional
// storage engine: an in-memory log buffer with a reserve/append/finish
// pipeline, a fixed-size circular log file addressed by log sequence
// numbers, a flush coordinator driving the appended -> written -> flushed
// durability stages, an alternating-slot checkpoint controller, and the
// margin checker that throttles writers before the log tail could overrun
// un-checkpointed log.
//
// Record encoding and decoding, dirty-page tracking and crash-recovery
// replay live outside this package; the buffer pool is consumed only
// through the DirtyPages collaborator.
package redolog
