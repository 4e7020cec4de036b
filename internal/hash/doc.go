// Package hash provides the checksum primitives used by the redo log.
//
// The circular log body and the checkpoint slots are protected by
// CRC32-Castagnoli, the same polynomial used by iSCSI, ext4 and most modern
// storage formats. It is hardware accelerated on amd64 and arm64, which
// matters because every flushed 512-byte block is stamped with a checksum.
package hash
