// Package seed turns user supplied seeds into the numeric state used by the
// terrain generator.
package seed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"

	"gopkg.in/yaml.v3"
)

// Default is the seed used when none is configured.
const Default = "default"

// Seed is either text or an already-numeric value.
type Seed struct {
	text    string
	num     int64
	numeric bool
}

func Text(s string) Seed { return Seed{text: s} }

func Number(n int64) Seed { return Seed{num: n, numeric: true} }

func (s Seed) IsNumeric() bool { return s.numeric }

func (s Seed) String() string {
	if s.numeric {
		return strconv.FormatInt(s.num, 10)
	}
	return s.text
}

// Create derives the numeric seed. Numbers pass through unchanged; text is
// folded over its UTF-16 code units as |sum(c_i * (31 XOR (i-1)))| with i
// counting from 0, so "default" maps to 15012.
func Create(s Seed) int64 {
	if s.numeric {
		return s.num
	}
	var sum int64
	for i, c := range utf16.Encode([]rune(s.text)) {
		sum += int64(c) * int64(31^(i-1))
	}
	if sum < 0 {
		return -sum
	}
	return sum
}

// Frac reads the decimal digits of |num| as a fraction: 15012 -> 0.15012.
func Frac(num int64) float64 {
	u := uint64(num)
	if num < 0 {
		u = uint64(-(num + 1)) + 1
	}
	f, err := strconv.ParseFloat("0."+strconv.FormatUint(u, 10), 64)
	if err != nil {
		return 0
	}
	return f
}

// Parse reads a command-line seed: integers are numeric, anything else text.
func Parse(s string) Seed {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Number(v)
	}
	return Text(s)
}

// UnmarshalYAML accepts integer scalars as numeric seeds and anything else as text.
func (s *Seed) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("seed: expected scalar, got %v at line %d", n.Tag, n.Line)
	}
	if n.Tag == "!!int" {
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		*s = Number(v)
		return nil
	}
	*s = Text(n.Value)
	return nil
}

func (s Seed) MarshalYAML() (any, error) {
	if s.numeric {
		return s.num, nil
	}
	return s.text, nil
}

func (s Seed) MarshalJSON() ([]byte, error) {
	if s.numeric {
		return []byte(strconv.FormatInt(s.num, 10)), nil
	}
	return json.Marshal(s.text)
}
