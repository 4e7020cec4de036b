package redolog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/redolog/internal/hash"
)

// On-disk layout of the main log file:
//
//	block 0:  file header (format, key version, circular size, creator, crypt info)
//	block 1:  checkpoint slot 1
//	block 2:  unused
//	block 3:  checkpoint slot 2
//	block 4+: circular redo body
//
// Multi-byte header fields are big-endian.

const (
	// BlockSize is the unit of log file I/O and checksum coverage.
	BlockSize = 512
	// BlockDataSize is the number of payload bytes per block; the
	// remaining 4 bytes hold the block's CRC32C trailer.
	BlockDataSize = BlockSize - 4
	// HeaderSize is the size of the header area preceding the circular body.
	HeaderSize = 4 * BlockSize

	// CheckpointSlot1 and CheckpointSlot2 are the byte offsets of the two
	// alternating checkpoint slots. Only the first log file carries them.
	CheckpointSlot1 = BlockSize
	CheckpointSlot2 = 3 * BlockSize
)

// Log format tags. The values are part of the on-disk format and must not
// change.
const (
	// Format323 is the original, not version-tagged log format.
	Format323 uint32 = 0
	// Format102 is the first versioned log format.
	Format102 uint32 = 1
	// Format103 is a later versioned log format.
	Format103 uint32 = 103
	// Format104 is the last versioned, non-physical log format.
	Format104 uint32 = 104
	// FormatEncrypted is OR-ed into a non-physical format tag when the
	// log is encrypted.
	FormatEncrypted uint32 = 1 << 31
	// FormatEnc104 is Format104 with encryption.
	FormatEnc104 uint32 = Format104 | FormatEncrypted
	// FormatPhysical is the physical log format. A physical log is
	// encrypted iff its key version is nonzero.
	FormatPhysical uint32 = 0x50485953
)

// File names within the log directory.
const (
	// MainFileName is the first (and usually only) redo log file.
	MainFileName = "ib_logfile0"
	// FileNamePrefix is shared by all rotated redo log files.
	FileNamePrefix = "ib_logfile"
	// DataFileName is the optional header-less overflow data file.
	DataFileName = "ib_logdata"
)

// Header field offsets within block 0.
const (
	hdrFormat     = 0  // 4 bytes, big-endian format tag
	hdrKeyVersion = 4  // 4 bytes, 0 = not encrypted
	hdrFileSize   = 8  // 8 bytes, big-endian circular file size; low 9 bits must be 0
	hdrCreator    = 16 // 32 bytes, NUL-terminated creator string
	hdrCreatorEnd = hdrCreator + creatorSize

	// Crypt fields, present only for the non-physical encrypted formats.
	cryptBlockSize = 16
	hdrCryptMsg    = hdrCreatorEnd
	hdrCryptKey    = hdrCryptMsg + cryptBlockSize
	hdrCryptNonce  = hdrCryptKey + cryptBlockSize

	creatorSize = 32
)

// CreatorCurrent is the creator string written into new log files.
const CreatorCurrent = "redolog 1.0"

// fileSizeFlagMask covers the low bits of the size field that are reserved
// for future flags and must currently be zero.
const fileSizeFlagMask = (1 << 9) - 1

// FileHeader is the decoded form of the main log file header block.
type FileHeader struct {
	// Format selects how the rest of the file is interpreted.
	Format uint32
	// KeyVersion is the redo encryption key version; 0 means not encrypted.
	KeyVersion uint32
	// FileSize is the size of the circular redo body in bytes.
	FileSize uint64
	// Creator identifies the program that created the file.
	Creator string
	// CryptMsg, CryptKey and CryptNonce are meaningful only for the
	// non-physical encrypted formats.
	CryptMsg   [cryptBlockSize]byte
	CryptKey   [cryptBlockSize]byte
	CryptNonce [cryptBlockSize]byte
}

// IsPhysical reports whether the header describes a physical-format log.
func (h *FileHeader) IsPhysical() bool { return h.Format == FormatPhysical }

// IsEncrypted reports whether the log described by the header is encrypted.
// For the physical format that is a nonzero key version; for older formats
// it is the encryption flag bit.
func (h *FileHeader) IsEncrypted() bool {
	if h.IsPhysical() {
		return h.KeyVersion != 0
	}
	return h.Format&FormatEncrypted != 0
}

// MarshalBinary encodes the header into a BlockSize-byte block.
func (h *FileHeader) MarshalBinary() ([]byte, error) {
	if h.FileSize&fileSizeFlagMask != 0 {
		return nil, fmt.Errorf("redolog: circular file size %d is not %d-byte aligned", h.FileSize, fileSizeFlagMask+1)
	}
	if len(h.Creator) >= creatorSize {
		return nil, fmt.Errorf("redolog: creator string %q exceeds %d bytes", h.Creator, creatorSize-1)
	}

	buf := make([]byte, BlockSize)
	binary.BigEndian.PutUint32(buf[hdrFormat:], h.Format)
	binary.BigEndian.PutUint32(buf[hdrKeyVersion:], h.KeyVersion)
	binary.BigEndian.PutUint64(buf[hdrFileSize:], h.FileSize)
	copy(buf[hdrCreator:hdrCreatorEnd], h.Creator) // NUL-terminated by the zeroed block

	if !h.IsPhysical() && h.Format&FormatEncrypted != 0 {
		copy(buf[hdrCryptMsg:], h.CryptMsg[:])
		copy(buf[hdrCryptKey:], h.CryptKey[:])
		copy(buf[hdrCryptNonce:], h.CryptNonce[:])
	}

	return buf, nil
}

// UnmarshalBinary decodes a header block.
func (h *FileHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < BlockSize {
		return fmt.Errorf("redolog: header block truncated: %d bytes", len(buf))
	}

	h.Format = binary.BigEndian.Uint32(buf[hdrFormat:])
	switch h.Format &^ FormatEncrypted {
	case Format323, Format102, Format103, Format104:
	default:
		if h.Format != FormatPhysical {
			return &FormatError{Format: h.Format}
		}
	}

	h.KeyVersion = binary.BigEndian.Uint32(buf[hdrKeyVersion:])
	h.FileSize = binary.BigEndian.Uint64(buf[hdrFileSize:])
	if h.FileSize&fileSizeFlagMask != 0 {
		return fmt.Errorf("redolog: reserved size bits set in header: %#x", h.FileSize)
	}

	creator := buf[hdrCreator:hdrCreatorEnd]
	if i := bytes.IndexByte(creator, 0); i >= 0 {
		creator = creator[:i]
	}
	h.Creator = string(creator)

	if !h.IsPhysical() && h.Format&FormatEncrypted != 0 {
		copy(h.CryptMsg[:], buf[hdrCryptMsg:])
		copy(h.CryptKey[:], buf[hdrCryptKey:])
		copy(h.CryptNonce[:], buf[hdrCryptNonce:])
	}

	return nil
}

// CheckpointRecord is the payload of a checkpoint slot.
type CheckpointRecord struct {
	// Number is the checkpoint sequence number; its parity selects the slot.
	Number uint64
	// LSN is the checkpoint log sequence number: everything below it is
	// reflected in the data files.
	LSN LSN
}

const (
	ckptNumber   = 0
	ckptLSN      = 8
	ckptChecksum = 16
	ckptSize     = 20
)

// MarshalBinary encodes the record into a BlockSize-byte slot.
func (c *CheckpointRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BlockSize)
	binary.BigEndian.PutUint64(buf[ckptNumber:], c.Number)
	binary.BigEndian.PutUint64(buf[ckptLSN:], uint64(c.LSN))
	binary.BigEndian.PutUint32(buf[ckptChecksum:], hash.CRC32C(buf[:ckptChecksum]))
	return buf, nil
}

// UnmarshalBinary decodes a checkpoint slot, verifying its checksum.
// A slot that never held a complete write fails verification, which is how
// recovery picks the surviving slot after a crash mid-checkpoint.
func (c *CheckpointRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) < ckptSize {
		return fmt.Errorf("redolog: checkpoint slot truncated: %d bytes", len(buf))
	}
	want := binary.BigEndian.Uint32(buf[ckptChecksum:])
	if got := hash.CRC32C(buf[:ckptChecksum]); got != want {
		return &ChecksumError{Expected: want, Actual: got}
	}
	c.Number = binary.BigEndian.Uint64(buf[ckptNumber:])
	c.LSN = LSN(binary.BigEndian.Uint64(buf[ckptLSN:]))
	return nil
}
