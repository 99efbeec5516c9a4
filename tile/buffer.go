package tile

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
)

// Buffer is an in-memory FrameBuffer of float RGBA pixels
type Buffer struct {
	mu     sync.Mutex
	width  int
	height int
	pixels []float32
	tiles  int
}

var _ FrameBuffer = (*Buffer)(nil)

// NewBuffer allocates a zeroed frame buffer
func NewBuffer(width, height int) *Buffer {
	return &Buffer{
		width:  width,
		height: height,
		pixels: make([]float32, width*height*Channels),
	}
}

func (b *Buffer) Size() (width, height int) {
	return b.width, b.height
}

// SetTile copies the tile's pixels into the frame
func (b *Buffer) SetTile(t *Tile) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !t.Region.In(b.width, b.height) {
		return errors.Errorf("tile %d region %v outside %dx%d frame", t.Index, t.Region, b.width, b.height)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rowLen := t.Region.W * Channels
	for y := 0; y < t.Region.H; y += 1 {
		src := t.Pixels[y*rowLen : (y+1)*rowLen]
		dst := ((t.Region.Y+y)*b.width + t.Region.X) * Channels
		copy(b.pixels[dst:dst+rowLen], src)
	}
	b.tiles += 1
	return nil
}

// At returns the color of the pixel at (x, y)
func (b *Buffer) At(x, y int) (c [Channels]float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := (y*b.width + x) * Channels
	copy(c[:], b.pixels[off:off+Channels])
	return
}

// TilesSet returns the number of successful SetTile calls since the last Clear
func (b *Buffer) TilesSet() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tiles
}

// Clear zeroes the frame
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.pixels {
		b.pixels[i] = 0
	}
	b.tiles = 0
}

// Image converts the frame to 8-bit RGBA, clamping every channel to [0, 1]
func (b *Buffer) Image() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for y := 0; y < b.height; y += 1 {
		for x := 0; x < b.width; x += 1 {
			off := (y*b.width + x) * Channels
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(b.pixels[off]),
				G: toByte(b.pixels[off+1]),
				B: toByte(b.pixels[off+2]),
				A: toByte(b.pixels[off+3]),
			})
		}
	}
	return img
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
