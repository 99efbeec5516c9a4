package tile

import (
	"fmt"

	"github.com/pkg/errors"
)

// Channels is the number of float32 values per pixel (RGBA)
const Channels = 4

// Rect is a half-open pixel rectangle: it covers columns [X, X+W) and rows [Y, Y+H)
type Rect struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
	W int `msgpack:"w"`
	H int `msgpack:"h"`
}

// Area returns the number of pixels in the rectangle
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle contains no pixels
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Contains reports whether the pixel (x, y) is inside the rectangle
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// In reports whether r lies entirely within a frame of the given size
func (r Rect) In(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= width && r.Y+r.H <= height
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// Tile is one rectangular piece of a frame
type Tile struct {
	Region Rect `msgpack:"region"`
	// Index is the tile's position in its Grid, in row-major order
	Index int `msgpack:"index"`
	// Pixels holds Channels values per pixel, row-major within Region
	Pixels  []float32 `msgpack:"pixels"`
	Samples int       `msgpack:"samples"`
}

// New allocates a zeroed tile covering region
func New(index int, region Rect) *Tile {
	return &Tile{
		Region: region,
		Index:  index,
		Pixels: make([]float32, region.Area()*Channels),
	}
}

// Name returns a stable identifier for the tile, unique within its grid
func (t *Tile) Name() string {
	return Name(t.Index)
}

// Name returns the name of the tile with the given index
func Name(index int) string {
	return fmt.Sprintf("tile-%d", index)
}

// Validate checks that the region has a non-negative size and the pixel data matches it
func (t *Tile) Validate() error {
	if t.Region.W < 0 || t.Region.H < 0 {
		return errors.Errorf("tile %d has negative size %v", t.Index, t.Region)
	}
	if want := t.Region.Area() * Channels; len(t.Pixels) != want {
		return errors.Errorf("tile %d (%v): have %d pixel values, want %d", t.Index, t.Region, len(t.Pixels), want)
	}
	return nil
}

// Set stores the color of the pixel at (x, y), given relative to the tile's origin
func (t *Tile) Set(x, y int, c [Channels]float32) {
	off := (y*t.Region.W + x) * Channels
	copy(t.Pixels[off:off+Channels], c[:])
}

// At returns the color of the pixel at (x, y), given relative to the tile's origin
func (t *Tile) At(x, y int) (c [Channels]float32) {
	off := (y*t.Region.W + x) * Channels
	copy(c[:], t.Pixels[off:off+Channels])
	return
}

// Renderer fills in tiles. RenderTile may be called from many goroutines at once.
type Renderer interface {
	RenderTile(t *Tile) error
}

// RenderFunc adapts an ordinary function to a Renderer
type RenderFunc func(t *Tile) error

func (f RenderFunc) RenderTile(t *Tile) error {
	return f(t)
}

// FrameBuffer is the destination of a rendered frame. SetTile may be called from many goroutines
// at once.
type FrameBuffer interface {
	Size() (width, height int)
	SetTile(t *Tile) error
}
