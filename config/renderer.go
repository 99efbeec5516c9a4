package config

import (
	"strings"

	"github.com/pkg/errors"
)

// DefaultRendererType is used when no renderer type is configured
const DefaultRendererType = "scivis"

// Renderer holds the renderer settings
type Renderer struct {
	Type       string     `yaml:"type"`
	SPP        int        `yaml:"spp"` // samples per pixel
	Shadows    bool       `yaml:"shadows"`
	AOSamples  int        `yaml:"ao_samples"`
	AODistance float64    `yaml:"ao_distance"`
	MaxDepth   int        `yaml:"max_depth"`
	BGColor    [3]float32 `yaml:"bg_color"`
}

// Params are the finalized parameters handed to a renderer, keyed by parameter name
type Params map[string]any

// Validate checks the renderer settings
func (r Renderer) Validate() error {
	if r.SPP < 1 {
		return errors.Errorf("renderer spp must be at least 1, got %d", r.SPP)
	} else if r.MaxDepth < 0 {
		return errors.Errorf("renderer max_depth must not be negative, got %d", r.MaxDepth)
	} else if r.AOSamples < 0 {
		return errors.Errorf("renderer ao_samples must not be negative, got %d", r.AOSamples)
	}
	return nil
}

// TypeName returns the renderer type, or DefaultRendererType if none is set
func (r Renderer) TypeName() string {
	if r.Type == "" {
		return DefaultRendererType
	}
	return r.Type
}

// Params returns the parameters to set on the renderer. Ambient-occlusion renderers (type "ao",
// "ao4", ...) have their own defaults, so the shading parameters are only set for other types.
// Sample count and ray depth are always set.
func (r Renderer) Params() Params {
	p := Params{
		"spp":      r.SPP,
		"maxDepth": r.MaxDepth,
	}

	if !strings.HasPrefix(r.TypeName(), "ao") {
		shadows := 0
		if r.Shadows {
			shadows = 1
		}
		p["aoSamples"] = r.AOSamples
		p["aoDistance"] = r.AODistance
		p["shadowsEnabled"] = shadows
		p["aoTransparencyEnabled"] = 1
		p["bgColor"] = r.BGColor
	}
	return p
}
