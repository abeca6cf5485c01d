// Package noise provides the seeded continuous noise fields that drive terrain
// classification.
package noise

import (
	"fmt"
	"strings"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"
)

type Kind string

const (
	Simplex Kind = "simplex"
	Perlin  Kind = "perlin"
)

// Field samples a deterministic noise value in [-1, 1]. The layer axis selects
// an independent field without a new instance.
type Field interface {
	Sample(x, y, layer float64) float64
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", Simplex:
		return Simplex, nil
	case Perlin:
		return Perlin, nil
	default:
		return "", fmt.Errorf("unknown noise kind %q", s)
	}
}

func New(kind Kind, seed int64) (Field, error) {
	switch kind {
	case Simplex, "":
		return simplexField{n: opensimplex.New(seed)}, nil
	case Perlin:
		return perlinField{p: perlin.NewPerlin(2, 2, 3, seed)}, nil
	default:
		return nil, fmt.Errorf("unknown noise kind %q", kind)
	}
}

type simplexField struct {
	n opensimplex.Noise
}

func (f simplexField) Sample(x, y, layer float64) float64 {
	return clampUnit(f.n.Eval3(x, y, layer))
}

type perlinField struct {
	p *perlin.Perlin
}

func (f perlinField) Sample(x, y, layer float64) float64 {
	return clampUnit(f.p.Noise3D(x, y, layer))
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
