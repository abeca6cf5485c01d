package observerproto

import "encoding/json"

// Version is the renderer protocol version.
const Version = "0.1"

// Message types.
const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeViewpoint  = "VIEWPOINT"
	TypeDrag       = "DRAG"
	TypePick       = "PICK"
	TypeWelcome    = "WELCOME"
	TypeView       = "VIEW"
	TypeChunk      = "CHUNK"
	TypeUnload     = "UNLOAD"
	TypePickResult = "PICK_RESULT"
	TypeError      = "ERROR"
)

// BaseMessage lets the server route client messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Encoding        string `json:"encoding,omitempty"`

	// ChunkRadius overrides the server's view radius for this session; 0 keeps it.
	ChunkRadius int `json:"chunk_radius,omitempty"`

	// Viewport in pixels; it bounds the camera. 0 keeps the server default.
	ViewportW int `json:"viewport_w,omitempty"`
	ViewportH int `json:"viewport_h,omitempty"`
}

// Client -> Server. Moves the camera's top-left corner to an absolute position.
type ViewpointMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

// Client -> Server. A pointer drag; the camera moves against it.
type DragMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	DX              float64 `json:"dx"`
	DY              float64 `json:"dy"`
}

// Client -> Server. Resolves a world pixel to its chunk and tile.
type PickMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldParams     WorldParams `json:"world_params"`
	TerrainPalette  []string    `json:"terrain_palette"`
	Encodings       []string    `json:"encodings"`
}

type WorldParams struct {
	WorldSizePx       int     `json:"world_size_px"`
	ChunkSizePx       int     `json:"chunk_size_px"`
	TileSizePx        int     `json:"tile_size_px"`
	ChunksPerEdge     int     `json:"chunks_per_edge"`
	TilesPerChunkEdge int     `json:"tiles_per_chunk_edge"`
	ViewRadius        int     `json:"view_radius"`
	Seed              string  `json:"seed"`
	SeedNum           int64   `json:"seed_num"`
	Quality           float64 `json:"quality"`
	Noise             string  `json:"noise"`
}

// Server -> Client. Reply to SUBSCRIBE.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
	TerrainPalette  []string    `json:"terrain_palette"`
	Encoding        string      `json:"encoding"`
	ViewRadius      int         `json:"view_radius"`
}

type ChunkRef struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

type TileRef struct {
	TX int `json:"tx"`
	TY int `json:"ty"`
}

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Server -> Client. Summarises one reconciliation; the CHUNK and UNLOAD
// messages it lists follow it.
type ViewMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Seq             uint64     `json:"seq"`
	Camera          [2]float64 `json:"camera"`
	Center          ChunkRef   `json:"center"`
	Created         []ChunkRef `json:"created"`
	Destroyed       []ChunkRef `json:"destroyed"`
}

// Server -> Client. Full tile grid for a newly resident chunk.
// Data holds one byte per tile in row-major order (tx fastest): the terrain
// texture index, with 0x10 set for trees. Encoding "PAL8" is base64 of those
// bytes; "PAL8_ZSTD" compresses them with zstd first; "PAL8_RLE" run-length
// encodes them as (tile byte, uvarint run) pairs.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
	Rect            Rect   `json:"rect"`
	Edge            int    `json:"edge"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
	Digest          string `json:"digest"`
}

// Server -> Client. Evict a chunk from the client cache.
type UnloadMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
}

type PickResultMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Chunk           ChunkRef `json:"chunk"`
	Tile            TileRef  `json:"tile"`
	Resident        bool     `json:"resident"`
	Terrain         string   `json:"terrain,omitempty"`
	Subtype         string   `json:"subtype,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
