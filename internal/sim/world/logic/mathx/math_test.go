package mathx

import (
	"math"
	"testing"
)

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{7, 32, 0, 7},
		{32, 32, 1, 0},
		{-1, 32, -1, 31},
		{-32, 32, -1, 0},
		{-33, 32, -2, 31},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestFloorToInt(t *testing.T) {
	if got := FloorToInt(-0.5); got != -1 {
		t.Fatalf("got %d", got)
	}
	if got := FloorToInt(1023.99); got != 1023 {
		t.Fatalf("got %d", got)
	}
	if got := FloorToInt(math.NaN()); got != 0 {
		t.Fatalf("NaN: got %d", got)
	}
	if got := FloorToInt(math.Inf(1)); got != math.MaxInt {
		t.Fatalf("+Inf: got %d", got)
	}
	if got := FloorToInt(math.Inf(-1)); got != math.MinInt {
		t.Fatalf("-Inf: got %d", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-3, 0, 10) != 0 || Clamp(12, 0, 10) != 10 || Clamp(4, 0, 10) != 4 {
		t.Fatalf("Clamp out of range")
	}
	if ClampMin(-1, 0) != 0 || ClampMin(2, 0) != 2 {
		t.Fatalf("ClampMin out of range")
	}
	if AbsInt(-4) != 4 || AbsInt(4) != 4 {
		t.Fatalf("AbsInt")
	}
}
