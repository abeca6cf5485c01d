package observerproto

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	EncodingPAL8     = "PAL8"
	EncodingPAL8Zstd = "PAL8_ZSTD"
	EncodingPAL8RLE  = "PAL8_RLE"
)

// maxDecodedTiles bounds what DecodeTiles will inflate.
const maxDecodedTiles = 1 << 24

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedTiles))
)

func Encodings() []string { return []string{EncodingPAL8, EncodingPAL8Zstd, EncodingPAL8RLE} }

func KnownEncoding(enc string) bool {
	switch enc {
	case EncodingPAL8, EncodingPAL8Zstd, EncodingPAL8RLE:
		return true
	}
	return false
}

// EncodeTiles renders packed tile bytes for a CHUNK message.
func EncodeTiles(enc string, packed []byte) (string, error) {
	switch enc {
	case EncodingPAL8:
		return base64.StdEncoding.EncodeToString(packed), nil
	case EncodingPAL8Zstd:
		return base64.StdEncoding.EncodeToString(zenc.EncodeAll(packed, nil)), nil
	case EncodingPAL8RLE:
		return base64.StdEncoding.EncodeToString(encodeRLE(packed)), nil
	default:
		return "", fmt.Errorf("unknown tile encoding %q", enc)
	}
}

func DecodeTiles(enc, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("tile data: %w", err)
	}
	switch enc {
	case EncodingPAL8:
		return raw, nil
	case EncodingPAL8Zstd:
		out, err := zdec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("tile data: %w", err)
		}
		return out, nil
	case EncodingPAL8RLE:
		out, err := decodeRLE(raw)
		if err != nil {
			return nil, fmt.Errorf("tile data: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown tile encoding %q", enc)
	}
}
