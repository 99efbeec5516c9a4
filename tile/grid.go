package tile

import (
	"github.com/pkg/errors"
)

// Grid partitions a frame into square tiles of a fixed size. Tiles on the right and bottom edges
// are clipped to the frame, so every pixel belongs to exactly one tile.
type Grid struct {
	Width, Height int
	TileSize      int
	Cols, Rows    int
}

// NewGrid returns the grid for a frame of the given size. A frame with no pixels has no tiles.
func NewGrid(width, height, tileSize int) (Grid, error) {
	if width < 0 || height < 0 {
		return Grid{}, errors.Errorf("invalid frame size %dx%d", width, height)
	} else if tileSize <= 0 {
		return Grid{}, errors.Errorf("invalid tile size %d", tileSize)
	}

	g := Grid{Width: width, Height: height, TileSize: tileSize}
	if width > 0 && height > 0 {
		g.Cols = (width + tileSize - 1) / tileSize
		g.Rows = (height + tileSize - 1) / tileSize
	}
	return g, nil
}

// Len returns the number of tiles in the grid
func (g Grid) Len() int {
	return g.Cols * g.Rows
}

// Region returns the pixels covered by the tile with the given index
func (g Grid) Region(index int) Rect {
	if index < 0 || index >= g.Len() {
		panic(errors.Errorf("tile index %d out of range [0, %d)", index, g.Len()))
	}

	col, row := index%g.Cols, index/g.Cols
	r := Rect{X: col * g.TileSize, Y: row * g.TileSize, W: g.TileSize, H: g.TileSize}
	if r.X+r.W > g.Width {
		r.W = g.Width - r.X
	}
	if r.Y+r.H > g.Height {
		r.H = g.Height - r.Y
	}
	return r
}

// Tile allocates the tile with the given index
func (g Grid) Tile(index int) *Tile {
	return New(index, g.Region(index))
}
