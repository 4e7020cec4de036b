package redolog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	hdr := FileHeader{
		Format:     FormatPhysical,
		KeyVersion: 7,
		FileSize:   96 * 1024 * 1024,
		Creator:    CreatorCurrent,
	}

	block, err := hdr.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, block, BlockSize)

	var got FileHeader
	require.NoError(t, got.UnmarshalBinary(block))
	assert.Equal(t, hdr, got)
	assert.True(t, got.IsPhysical())
	assert.True(t, got.IsEncrypted())
}

func TestFileHeaderLayout(t *testing.T) {
	hdr := FileHeader{
		Format:     Format104,
		KeyVersion: 3,
		FileSize:   1 << 20,
		Creator:    "test",
	}

	block, err := hdr.MarshalBinary()
	require.NoError(t, err)

	// Fixed big-endian offsets shared with every other reader of the
	// file: format at 0, key version at 4, size at 8, creator at 16.
	assert.Equal(t, uint32(Format104), binary.BigEndian.Uint32(block[0:]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(block[4:]))
	assert.Equal(t, uint64(1<<20), binary.BigEndian.Uint64(block[8:]))
	assert.Equal(t, byte('t'), block[16])
	assert.Equal(t, byte(0), block[16+4]) // NUL terminated
}

func TestFileHeaderFormatTags(t *testing.T) {
	// Bit-exact tag values shared with the on-disk format.
	assert.Equal(t, uint32(0), uint32(Format323))
	assert.Equal(t, uint32(1), uint32(Format102))
	assert.Equal(t, uint32(103), uint32(Format103))
	assert.Equal(t, uint32(104), uint32(Format104))
	assert.Equal(t, uint32(104)|uint32(1)<<31, uint32(FormatEnc104))
	assert.Equal(t, uint32(0x50485953), uint32(FormatPhysical))
}

func TestFileHeaderRejectsUnalignedSize(t *testing.T) {
	hdr := FileHeader{Format: FormatPhysical, FileSize: 1<<20 + 100}
	_, err := hdr.MarshalBinary()
	assert.Error(t, err)
}

func TestFileHeaderEncryptedPredicate(t *testing.T) {
	cases := []struct {
		format     uint32
		keyVersion uint32
		want       bool
	}{
		{FormatPhysical, 0, false},
		{FormatPhysical, 1, true},
		{Format104, 0, false},
		{FormatEnc104, 0, true},
	}
	for _, tc := range cases {
		hdr := FileHeader{Format: tc.format, KeyVersion: tc.keyVersion}
		assert.Equal(t, tc.want, hdr.IsEncrypted(), "format %#x key %d", tc.format, tc.keyVersion)
	}
}

func TestCheckpointRecordRoundTrip(t *testing.T) {
	rec := CheckpointRecord{Number: 42, LSN: 123456789}

	block, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, block, BlockSize)

	var got CheckpointRecord
	require.NoError(t, got.UnmarshalBinary(block))
	assert.Equal(t, rec, got)
}

func TestCheckpointRecordDetectsTornWrite(t *testing.T) {
	rec := CheckpointRecord{Number: 9, LSN: 8192}
	block, err := rec.MarshalBinary()
	require.NoError(t, err)

	block[3] ^= 0xff

	var got CheckpointRecord
	err = got.UnmarshalBinary(block)
	require.Error(t, err)

	var ce *ChecksumError
	assert.ErrorAs(t, err, &ce)
}

func TestCheckpointRecordZeroSlotInvalid(t *testing.T) {
	// A freshly formatted slot is all zeroes and must not verify.
	var got CheckpointRecord
	assert.Error(t, got.UnmarshalBinary(make([]byte, BlockSize)))
}
