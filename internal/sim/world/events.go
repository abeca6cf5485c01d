package world

type ChunkEventKind string

const (
	ChunkCreated   ChunkEventKind = "CREATE"
	ChunkDestroyed ChunkEventKind = "DESTROY"
)

// ChunkEvent records one chunk lifecycle transition. Digest and Histogram are
// only set on creation.
type ChunkEvent struct {
	Session string         `json:"session,omitempty"`
	Seq     uint64         `json:"seq"`
	Update  uint64         `json:"update"`
	Kind    ChunkEventKind `json:"kind"`

	CX  int   `json:"cx"`
	CY  int   `json:"cy"`
	Key int64 `json:"key"`

	Digest    string         `json:"digest,omitempty"`
	Histogram map[string]int `json:"histogram,omitempty"`
}

type EventLogger interface {
	WriteChunkEvent(ev ChunkEvent) error
}
