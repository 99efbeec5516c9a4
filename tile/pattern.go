package tile

// Pattern is a Renderer that shades each pixel with a function of its frame coordinates. It is
// the stand-in for a real renderer in tests and in the command-line driver.
type Pattern struct {
	Shade func(x, y int) [Channels]float32
	// Samples is recorded on every tile rendered
	Samples int
}

var _ Renderer = Pattern{}

// Constant returns a Pattern that fills every pixel with c
func Constant(c [Channels]float32) Pattern {
	return Pattern{
		Shade:   func(int, int) [Channels]float32 { return c },
		Samples: 1,
	}
}

// Checker returns a Pattern of squares of the given size alternating between a and b
func Checker(size int, a, b [Channels]float32) Pattern {
	if size <= 0 {
		size = 1
	}
	return Pattern{
		Shade: func(x, y int) [Channels]float32 {
			if (x/size+y/size)%2 == 0 {
				return a
			}
			return b
		},
		Samples: 1,
	}
}

func (p Pattern) RenderTile(t *Tile) error {
	for y := 0; y < t.Region.H; y += 1 {
		for x := 0; x < t.Region.W; x += 1 {
			t.Set(x, y, p.Shade(t.Region.X+x, t.Region.Y+y))
		}
	}
	t.Samples = p.Samples
	return nil
}
