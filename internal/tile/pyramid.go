package tile

import (
	"fmt"
	"math"

	"tilestream/internal/scene"
)

// Pyramid describes the regular tile grid of a multi-resolution image.
// Level 0 is native resolution; each level up halves both dimensions,
// so the highest level fits the whole image in a single tile.
type Pyramid struct {
	Width, Height int
	TileSize      int

	rows, cols []int
	offsets    []int
	total      int
}

func NewPyramid(width, height, tileSize int) (*Pyramid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if tileSize <= 0 {
		return nil, fmt.Errorf("invalid tile size %d", tileSize)
	}

	maxDim := math.Max(float64(width), float64(height))
	maxLevel := int(math.Ceil(math.Log2(maxDim / float64(tileSize))))
	if maxLevel < 0 {
		maxLevel = 0
	}

	p := &Pyramid{Width: width, Height: height, TileSize: tileSize}
	for level := 0; level <= maxLevel; level++ {
		// Image pixels per tile pixel at this level.
		s := float64(int(1) << level)
		lw := math.Ceil(float64(width) / s)
		lh := math.Ceil(float64(height) / s)
		p.cols = append(p.cols, int(math.Ceil(lw/float64(tileSize))))
		p.rows = append(p.rows, int(math.Ceil(lh/float64(tileSize))))
		p.offsets = append(p.offsets, p.total)
		p.total += p.rows[level] * p.cols[level]
	}
	return p, nil
}

// Levels returns the number of pyramid levels.
func (p *Pyramid) Levels() int { return len(p.rows) }

// MaxLevel is the coarsest level (single-tile overview).
func (p *Pyramid) MaxLevel() int { return len(p.rows) - 1 }

func (p *Pyramid) Rows(level int) int { return p.rows[level] }
func (p *Pyramid) Cols(level int) int { return p.cols[level] }

// NumTiles is the total tile count over every level.
func (p *Pyramid) NumTiles() int { return p.total }

// Index maps pyramid coordinates to the flat identifier.
func (p *Pyramid) Index(level, row, col int) int {
	return p.offsets[level] + row*p.cols[level] + col
}

// At inverts Index back to pyramid coordinates.
func (p *Pyramid) At(index int) (level, row, col int) {
	level = len(p.offsets) - 1
	for level > 0 && p.offsets[level] > index {
		level--
	}
	rel := index - p.offsets[level]
	return level, rel / p.cols[level], rel % p.cols[level]
}

// Scale returns image pixels per tile pixel at a level.
func (p *Pyramid) Scale(level int) float64 {
	return float64(int(1) << level)
}

// Bounds returns the tile footprint in native image coordinates,
// clamped at the image edges so border tiles may be smaller.
func (p *Pyramid) Bounds(level, row, col int) scene.Box {
	side := float64(p.TileSize) * p.Scale(level)
	b := scene.Box{
		X0: float64(col) * side,
		Y0: float64(row) * side,
		X1: float64(col)*side + side,
		Y1: float64(row)*side + side,
	}
	b.X1 = math.Min(b.X1, float64(p.Width))
	b.Y1 = math.Min(b.Y1, float64(p.Height))
	return b
}

// LevelForScale picks the level whose resolution best matches the given
// screen-pixels-per-image-pixel ratio.
func (p *Pyramid) LevelForScale(viewScale float64) int {
	if viewScale <= 0 {
		return p.MaxLevel()
	}
	level := int(math.Round(math.Log2(1 / viewScale)))
	if level < 0 {
		return 0
	}
	if level > p.MaxLevel() {
		return p.MaxLevel()
	}
	return level
}
