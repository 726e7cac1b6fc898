package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressBelowThresholdSkipped(t *testing.T) {
	data := []byte("short")
	out, ok := Compress(data, 4096)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestCompressIncompressibleDataNeverGrows(t *testing.T) {
	// Random-looking incompressible data: zstd on pure noise often fails to
	// shrink below the original length once the envelope header is added.
	data := bytes.Repeat([]byte{0x00, 0xFF}, 1)
	for len(data) < 8192 {
		data = append(data, data...)
	}
	// Interleave with a counter to defeat trivial RLE-style compression.
	for i := range data {
		data[i] ^= byte(i * 2654435761 >> 8)
	}
	out, ok := Compress(data, 16)
	if ok {
		assert.True(t, IsCompressed(out))
		assert.Less(t, len(out), len(data))
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	out, ok := Compress(data, 16)
	assert.True(t, ok, "highly repetitive data should compress below its original size")
	assert.True(t, IsCompressed(out))

	back, err := Decompress(out)
	assert.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestDecompressRejectsBadMagic(t *testing.T) {
	_, err := Decompress([]byte("not an envelope at all"))
	assert.Error(t, err)
}

func TestDecompressRejectsLengthMismatch(t *testing.T) {
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 200)
	out, ok := Compress(data, 16)
	assert.True(t, ok)

	truncated := out[:len(out)-1]
	_, err := Decompress(truncated)
	assert.Error(t, err)
}
