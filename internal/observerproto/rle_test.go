package observerproto

import (
	"bytes"
	"testing"
)

func TestRLERoundTrip(t *testing.T) {
	in := []byte{1, 1, 1, 2, 2, 3}
	in = append(in, bytes.Repeat([]byte{0x12}, 300)...)
	in = append(in, 9, 4, 4, 4)

	enc := encodeRLE(in)
	// 300 needs a two-byte uvarint.
	if want := 2 + 2 + 2 + 3 + 2 + 2; len(enc) != want {
		t.Fatalf("encoded len: got %d want %d", len(enc), want)
	}
	out, err := decodeRLE(enc)
	if err != nil {
		t.Fatalf("decodeRLE: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("tiles changed: got %v", out)
	}
}

func TestRLERejectsMalformed(t *testing.T) {
	if _, err := decodeRLE([]byte{3}); err == nil {
		t.Fatalf("expected error for missing run length")
	}
	if _, err := decodeRLE([]byte{3, 0}); err == nil {
		t.Fatalf("expected error for empty run")
	}
	if _, err := decodeRLE([]byte{3, 0xff, 0xff, 0xff, 0xff, 0x0f}); err == nil {
		t.Fatalf("expected error for oversized run")
	}
	if out, err := decodeRLE(nil); err != nil || len(out) != 0 {
		t.Fatalf("empty input: %v %v", out, err)
	}
}
