package main

import (
	"github.com/sharnoff/tilecast/config"
	"github.com/sharnoff/tilecast/tile"
)

const checkerSize = 16

// newRenderer builds the test-pattern renderer standing in for a real one: a checkerboard of the
// background color and its inverse, tagged with the configured sample count
func newRenderer(cfg config.Renderer) tile.Renderer {
	params := cfg.Params()

	bg := [tile.Channels]float32{0, 0, 0, 1}
	if c, ok := params["bgColor"].([3]float32); ok {
		bg = [tile.Channels]float32{c[0], c[1], c[2], 1}
	}
	inv := [tile.Channels]float32{1 - bg[0], 1 - bg[1], 1 - bg[2], 1}

	p := tile.Checker(checkerSize, bg, inv)
	if spp, ok := params["spp"].(int); ok {
		p.Samples = spp
	}
	return p
}
