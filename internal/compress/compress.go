// Package compress implements the transparent compression envelope of
// spec.md §4.5 on top of github.com/klauspost/compress/zstd, the same
// compression family the teacher pack reaches for in pkg/gcparchive.
package compress

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/vorteil/nfs/internal/fserrors"
)

// Magic identifies an envelope header, matching spec.md's "RZCP".
var Magic = [4]byte{'R', 'Z', 'C', 'P'}

const headerSize = 4 + 4 + 4 // magic + original size + compressed size

// Envelope is the on-disk header preceding a compressed payload.
type Envelope struct {
	OriginalSize   uint32
	CompressedSize uint32
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Compress returns an envelope-wrapped payload, or (nil, false) if data is
// shorter than threshold or the whole envelope, header included, would not
// be shorter than the original data.
func Compress(data []byte, threshold int) ([]byte, bool) {
	if len(data) < threshold {
		return nil, false
	}

	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if headerSize+len(compressed) >= len(data) {
		return nil, false
	}

	buf := new(bytes.Buffer)
	buf.Write(Magic[:])
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	binary.Write(buf, binary.LittleEndian, uint32(len(compressed)))
	buf.Write(compressed)
	return buf.Bytes(), true
}

// IsCompressed reports whether buf begins with the envelope magic.
func IsCompressed(buf []byte) bool {
	return len(buf) >= 4 && bytes.Equal(buf[:4], Magic[:])
}

// Decompress reverses Compress, validating the envelope header before
// decoding.
func Decompress(envelope []byte) ([]byte, error) {
	if len(envelope) < headerSize || !IsCompressed(envelope) {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "bad compression envelope magic")
	}
	originalSize := binary.LittleEndian.Uint32(envelope[4:8])
	compressedSize := binary.LittleEndian.Uint32(envelope[8:12])
	payload := envelope[headerSize:]
	if uint32(len(payload)) != compressedSize {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "compression envelope length mismatch: header says %d, have %d", compressedSize, len(payload))
	}

	out, err := decoder.DecodeAll(payload, make([]byte, 0, originalSize))
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "zstd decode failed: %v", err)
	}
	if uint32(len(out)) != originalSize {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "decompressed size mismatch: header says %d, got %d", originalSize, len(out))
	}
	return out, nil
}
