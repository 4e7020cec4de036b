package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known Castagnoli value for "123456789".
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))
	assert.NotEqual(t, CRC32C([]byte("a")), CRC32C([]byte("b")))
}

func TestNewCRC32CMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox")

	h := NewCRC32C()
	_, _ = h.Write(data[:5])
	_, _ = h.Write(data[5:])
	assert.Equal(t, CRC32C(data), h.Sum32())
}
