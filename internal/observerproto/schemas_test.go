package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chunkmap.dev/internal/observerproto"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON round-trips v through encoding/json so the validator sees what goes
// on the wire.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(asJSON(t, v)); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	params := observerproto.WorldParams{
		WorldSizePx: 8192, ChunkSizePx: 1024, TileSizePx: 32,
		ChunksPerEdge: 8, TilesPerChunkEdge: 32, ViewRadius: 1,
		Seed: "default", SeedNum: 15012, Quality: 128, Noise: "simplex",
	}

	validate(compile(t, "subscribe.schema.json"), observerproto.SubscribeMsg{
		Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version,
		Encoding: observerproto.EncodingPAL8Zstd, ChunkRadius: 2, ViewportW: 800, ViewportH: 600,
	})

	input := compile(t, "input.schema.json")
	validate(input, observerproto.ViewpointMsg{Type: observerproto.TypeViewpoint, ProtocolVersion: observerproto.Version, X: 10, Y: 20.5})
	validate(input, observerproto.DragMsg{Type: observerproto.TypeDrag, ProtocolVersion: observerproto.Version, DX: -3, DY: 4})
	validate(input, observerproto.PickMsg{Type: observerproto.TypePick, ProtocolVersion: observerproto.Version, X: 1, Y: 1})

	validate(compile(t, "welcome.schema.json"), observerproto.WelcomeMsg{
		Type: observerproto.TypeWelcome, ProtocolVersion: observerproto.Version,
		SessionID: "3f1c", WorldParams: params, TerrainPalette: []string{"water", "stone", "sand", "grass", "dirt"},
		Encoding: observerproto.EncodingPAL8, ViewRadius: 1,
	})

	validate(compile(t, "view.schema.json"), observerproto.ViewMsg{
		Type: observerproto.TypeView, ProtocolVersion: observerproto.Version, Seq: 1,
		Center:  observerproto.ChunkRef{CX: 0, CY: 0},
		Created: []observerproto.ChunkRef{{CX: 0, CY: 0}, {CX: 1, CY: 0}},
	})

	data, err := observerproto.EncodeTiles(observerproto.EncodingPAL8, make([]byte, 4))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	chunk := compile(t, "chunk.schema.json")
	validate(chunk, observerproto.ChunkMsg{
		Type: observerproto.TypeChunk, ProtocolVersion: observerproto.Version,
		CX: 1, CY: 2, Rect: observerproto.Rect{X: 1024, Y: 2048, W: 1024, H: 1024}, Edge: 2,
		Encoding: observerproto.EncodingPAL8, Data: data, Digest: strings.Repeat("ab", 32),
	})
	validate(chunk, observerproto.UnloadMsg{Type: observerproto.TypeUnload, ProtocolVersion: observerproto.Version, CX: 1, CY: 2})

	validate(compile(t, "pick_result.schema.json"), observerproto.PickResultMsg{
		Type: observerproto.TypePickResult, ProtocolVersion: observerproto.Version,
		X: 40, Y: 40, Chunk: observerproto.ChunkRef{}, Tile: observerproto.TileRef{TX: 1, TY: 1},
		Resident: true, Terrain: "grass", Subtype: "tree",
	})

	validate(compile(t, "error.schema.json"), observerproto.NewError(observerproto.ErrOutOfWorld, "pick outside world"))
}

func TestSchemas_RejectMalformed(t *testing.T) {
	s := compile(t, "error.schema.json")
	var v any
	_ = json.Unmarshal([]byte(`{"type":"ERROR","protocol_version":"0.1","code":"oops","message":""}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected lowercase code to be rejected")
	}

	sub := compile(t, "subscribe.schema.json")
	_ = json.Unmarshal([]byte(`{"type":"SUBSCRIBE","protocol_version":"0.1","encoding":"RLE"}`), &v)
	if err := sub.Validate(v); err == nil {
		t.Fatalf("expected unknown encoding to be rejected")
	}
}
