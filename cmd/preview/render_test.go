package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chunkmap.dev/internal/sim/world"
	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
)

func openMap(t *testing.T) *world.Map {
	t.Helper()
	m, err := world.Open(grid.DefaultConfig(), genpkg.DefaultParams())
	require.NoError(t, err)
	return m
}

func TestRenderASCIIAtOrigin(t *testing.T) {
	m := openMap(t)
	m.Update(0, 0)

	out := renderASCII(m, 4)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 16)
	for _, l := range lines {
		require.Len(t, l, 16)
	}

	// Row 9 is chunk row 1, tile row 4; column 10 is chunk 1, tile 8.
	tile, err := m.Tile(1, 1, 8, 4)
	require.NoError(t, err)
	require.Equal(t, glyph(tile), lines[9][10])
}

func TestRenderASCIILeavesMissingChunksBlank(t *testing.T) {
	m := openMap(t)
	m.Update(0, 0)
	require.True(t, m.DestroyChunk(1, 1))

	lines := strings.Split(strings.TrimSuffix(renderASCII(m, 8), "\n"), "\n")
	require.Len(t, lines, 8)
	require.Equal(t, "    ", lines[7][4:])
	require.NotContains(t, lines[0], " ")
}

func TestRenderASCIIEmptyMap(t *testing.T) {
	require.Equal(t, "", renderASCII(openMap(t), 4))
}

func TestGlyph(t *testing.T) {
	require.Equal(t, byte('^'), glyph(genpkg.Tile{Terrain: genpkg.Grass, Subtype: genpkg.Tree}))
	require.Equal(t, byte('~'), glyph(genpkg.Tile{Terrain: genpkg.Water}))
	require.Equal(t, byte('#'), glyph(genpkg.Tile{Terrain: genpkg.Stone}))
	require.Equal(t, byte('?'), glyph(genpkg.Tile{Terrain: genpkg.Terrain(200)}))
	for _, name := range genpkg.Palette() {
		tr, err := genpkg.ParseTerrain(name)
		require.NoError(t, err)
		require.Contains(t, legend(), string(glyph(genpkg.Tile{Terrain: tr})))
	}
}
