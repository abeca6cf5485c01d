package observerproto

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrBadRequest,
		ErrOutOfWorld,
		ErrRateLimit,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"DRAG","protocol_version":"0.1","dx":3}`))
	if err != nil || m.Type != TypeDrag || m.ProtocolVersion != Version {
		t.Fatalf("DecodeBase=%+v,%v", m, err)
	}
	if _, err := DecodeBase([]byte(`nope`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
