package observerproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeRLE packs tile bytes as (tile, run_len) pairs: the tile byte followed
// by a uvarint run length.
func encodeRLE(packed []byte) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(packed) {
		b := packed[i]
		run := 1
		for j := i + 1; j < len(packed) && packed[j] == b; j++ {
			run++
		}

		buf.WriteByte(b)
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}
	return buf.Bytes()
}

func decodeRLE(raw []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(raw); {
		b := raw[i]
		i++
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad run length at %d", i)
		}
		i += n
		if run == 0 {
			return nil, fmt.Errorf("empty run at %d", i)
		}
		if uint64(len(out))+run > maxDecodedTiles {
			return nil, fmt.Errorf("run overflows %d tiles", maxDecodedTiles)
		}
		out = append(out, bytes.Repeat([]byte{b}, int(run))...)
	}
	return out, nil
}
