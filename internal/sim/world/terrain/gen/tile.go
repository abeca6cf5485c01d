package gen

import "fmt"

// Terrain values double as the renderer's texture index.
type Terrain uint8

const (
	Water Terrain = iota
	Stone
	Sand
	Grass
	Dirt
)

var terrainNames = [...]string{
	Water: "water",
	Stone: "stone",
	Sand:  "sand",
	Grass: "grass",
	Dirt:  "dirt",
}

// Palette lists terrain names indexed by texture index.
func Palette() []string {
	out := make([]string, len(terrainNames))
	copy(out, terrainNames[:])
	return out
}

func ParseTerrain(s string) (Terrain, error) {
	for i, n := range terrainNames {
		if n == s {
			return Terrain(i), nil
		}
	}
	return 0, fmt.Errorf("unknown terrain %q", s)
}

func (t Terrain) Valid() bool { return int(t) < len(terrainNames) }

func (t Terrain) String() string {
	if !t.Valid() {
		return fmt.Sprintf("terrain(%d)", uint8(t))
	}
	return terrainNames[t]
}

// TextureIndex maps a terrain to its tileset index.
func TextureIndex(t Terrain) int { return int(t) }

func (t Terrain) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown terrain %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Terrain) UnmarshalText(b []byte) error {
	v, err := ParseTerrain(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type Subtype string

const (
	NoSubtype Subtype = ""
	Tree      Subtype = "tree"
)

// Tile is a classified terrain cell. It is a value and never changes after
// classification.
type Tile struct {
	Terrain Terrain `json:"terrain"`
	Subtype Subtype `json:"subtype,omitempty"`
}

func (t Tile) String() string {
	if t.Subtype == NoSubtype {
		return t.Terrain.String()
	}
	return t.Terrain.String() + "/" + string(t.Subtype)
}
