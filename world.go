package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// WorldGenVersion identifies the generator algorithm and weight tables.
// Clients regenerate maps locally, so any change here must bump it.
const WorldGenVersion = 1

// EmptyTile marks an obstacle-layer cell with no decoration.
const EmptyTile = -1

// Border tile indices of the ground layer.
const (
	tileBorderTop         = 39
	tileBorderBottom      = 1
	tileBorderLeft        = 21
	tileBorderRight       = 19
	tileCornerTopLeft     = 3
	tileCornerTopRight    = 4
	tileCornerBottomLeft  = 22
	tileCornerBottomRight = 23
)

// TileWeight is one entry of a weighted tile table. Weights are the
// fractional design weights scaled by 100.
type TileWeight struct {
	Index  int
	Weight uint32
}

var groundWeights = []TileWeight{
	{Index: 6, Weight: 400},
	{Index: 7, Weight: 100},
	{Index: 8, Weight: 100},
	{Index: 26, Weight: 100},
}

var obstacleWeights = []TileWeight{
	{Index: EmptyTile, Weight: 5000},
	{Index: 13, Weight: 300},
	{Index: 32, Weight: 200},
	{Index: 127, Weight: 100},
	{Index: 108, Weight: 100},
	{Index: 109, Weight: 200},
	{Index: 110, Weight: 200},
	{Index: 166, Weight: 25},
	{Index: 167, Weight: 25},
}

// impassableTiles are obstacle-layer indices players cannot walk through.
var impassableTiles = map[int]bool{
	13: true, 32: true, 127: true, 108: true,
	109: true, 110: true, 166: true, 167: true,
}

// Cell is a grid coordinate
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// WorldGrid is the generated map of one session. It is immutable once built.
type WorldGrid struct {
	Seed      uint32
	Width     int
	Height    int
	Ground    []int // row-major, Width*Height
	Obstacles []int // row-major, Width*Height, EmptyTile when bare
	blocked   []bool
}

// mulberry32 is the map PRNG. It is small enough to be ported verbatim to
// every client that rebuilds the map from the seed.
type mulberry32 struct {
	state uint32
}

func (m *mulberry32) next() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t = (t + (t^(t>>7))*(t|61)) ^ t
	return t ^ (t >> 14)
}

func (m *mulberry32) pick(table []TileWeight) int {
	var total uint32
	for _, w := range table {
		total += w.Weight
	}
	r := m.next() % total
	for _, w := range table {
		if r < w.Weight {
			return w.Index
		}
		r -= w.Weight
	}
	return table[len(table)-1].Index
}

// GenerateWorld builds the tile grid for seed. The result depends only on
// (seed, width, height).
func GenerateWorld(seed uint32, width, height int) (*WorldGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("generate %dx%d world: %w", width, height, ErrInvalidWorldSize)
	}

	w := &WorldGrid{
		Seed:      seed,
		Width:     width,
		Height:    height,
		Ground:    make([]int, width*height),
		Obstacles: make([]int, width*height),
		blocked:   make([]bool, width*height),
	}
	for i := range w.Obstacles {
		w.Obstacles[i] = EmptyTile
	}

	// Border ring, later writes win at the corners
	for x := 0; x < width; x++ {
		w.Ground[w.index(x, 0)] = tileBorderTop
		w.Ground[w.index(x, height-1)] = tileBorderBottom
	}
	for y := 0; y < height; y++ {
		w.Ground[w.index(0, y)] = tileBorderLeft
		w.Ground[w.index(width-1, y)] = tileBorderRight
	}
	w.Ground[w.index(0, 0)] = tileCornerTopLeft
	w.Ground[w.index(width-1, 0)] = tileCornerTopRight
	w.Ground[w.index(0, height-1)] = tileCornerBottomLeft
	w.Ground[w.index(width-1, height-1)] = tileCornerBottomRight

	rng := &mulberry32{state: seed}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			w.Ground[w.index(x, y)] = rng.pick(groundWeights)
		}
	}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			w.Obstacles[w.index(x, y)] = rng.pick(obstacleWeights)
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := w.index(x, y)
			w.blocked[i] = w.isBorder(x, y) || impassableTiles[w.Obstacles[i]]
		}
	}
	return w, nil
}

func (w *WorldGrid) index(x, y int) int {
	return y*w.Width + x
}

func (w *WorldGrid) isBorder(x, y int) bool {
	return x == 0 || y == 0 || x == w.Width-1 || y == w.Height-1
}

// InBounds reports whether (x, y) is a cell of the grid
func (w *WorldGrid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.Width && y < w.Height
}

// Blocked reports whether a cell is impassable. Cells outside the grid are.
func (w *WorldGrid) Blocked(x, y int) bool {
	if !w.InBounds(x, y) {
		return true
	}
	return w.blocked[w.index(x, y)]
}

// BlockedCells returns every impassable cell in row-major order
func (w *WorldGrid) BlockedCells() []Cell {
	var cells []Cell
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			if w.blocked[w.index(x, y)] {
				cells = append(cells, Cell{X: x, Y: y})
			}
		}
	}
	return cells
}

// FreeInteriorCells returns the walkable cells inside the border ring
func (w *WorldGrid) FreeInteriorCells() []Cell {
	var cells []Cell
	for y := 1; y < w.Height-1; y++ {
		for x := 1; x < w.Width-1; x++ {
			if !w.blocked[w.index(x, y)] {
				cells = append(cells, Cell{X: x, Y: y})
			}
		}
	}
	return cells
}

// CellAt maps world coordinates to the cell containing them
func (w *WorldGrid) CellAt(x, y, tileSize float64) Cell {
	return Cell{X: floorDiv(x, tileSize), Y: floorDiv(y, tileSize)}
}

// CellCenter returns the world coordinates of the middle of c
func (w *WorldGrid) CellCenter(c Cell, tileSize float64) (float64, float64) {
	return (float64(c.X) + 0.5) * tileSize, (float64(c.Y) + 0.5) * tileSize
}

// Fingerprint hashes both layers so clients can confirm they rebuilt the
// same map from the seed.
func (w *WorldGrid) Fingerprint() string {
	buf := make([]byte, 0, 8*len(w.Ground))
	for _, layer := range [][]int{w.Ground, w.Obstacles} {
		for _, t := range layer {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(t)))
		}
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:16])
}
