// Package config holds the settings of a tilecast process, read from a YAML file and overridden
// by command-line flags.
package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StrategyLocal       = "local"
	StrategyDistributed = "distributed"
)

// Config is the complete configuration of a tilecast process
type Config struct {
	Frame    Frame    `yaml:"frame"`
	Renderer Renderer `yaml:"renderer"`
	Balancer Balancer `yaml:"balancer"`
	Group    Group    `yaml:"group"`
	Output   Output   `yaml:"output"`
	Log      Log      `yaml:"log"`
}

// Frame describes the frames to render
type Frame struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Count  int `yaml:"count"` // number of frames to render
}

// Balancer selects and tunes the load-balancing strategy
type Balancer struct {
	Strategy string `yaml:"strategy"` // local or distributed
	TileSize int    `yaml:"tile_size"`
	Workers  int    `yaml:"workers"` // scheduler goroutines, 0 for GOMAXPROCS
}

// Group describes the ranks taking part in a distributed render. Either Peers is set, one TCP
// address per rank, or LocalRanks runs that many ranks inside this process.
type Group struct {
	Rank        int           `yaml:"rank"`
	Peers       []string      `yaml:"peers"`
	LocalRanks  int           `yaml:"local_ranks"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Output is where the final frame is written. An empty path writes nothing.
type Output struct {
	Path string `yaml:"path"` // PNG file, written by rank 0 only
}

// Log configures the process logger
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used for anything a file or flag doesn't set
func Default() Config {
	return Config{
		Frame: Frame{Width: 256, Height: 256, Count: 1},
		Renderer: Renderer{
			Type:       DefaultRendererType,
			SPP:        1,
			Shadows:    true,
			AOSamples:  1,
			AODistance: 1e20,
			MaxDepth:   5,
			BGColor:    [3]float32{1, 1, 1},
		},
		Balancer: Balancer{Strategy: StrategyLocal, TileSize: 64},
		Group:    Group{DialTimeout: 30 * time.Second},
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of Default and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Validate checks the configuration for values no component can work with
func (c *Config) Validate() error {
	if c.Frame.Width < 0 || c.Frame.Height < 0 {
		return errors.Errorf("frame size %dx%d is negative", c.Frame.Width, c.Frame.Height)
	}
	if c.Frame.Count < 1 {
		return errors.Errorf("frame count must be at least 1, got %d", c.Frame.Count)
	}
	if c.Balancer.TileSize <= 0 {
		return errors.Errorf("tile size must be positive, got %d", c.Balancer.TileSize)
	}
	if c.Balancer.Workers < 0 {
		return errors.Errorf("worker count must not be negative, got %d", c.Balancer.Workers)
	}
	if err := c.Renderer.Validate(); err != nil {
		return err
	}

	switch c.Balancer.Strategy {
	case StrategyLocal:
	case StrategyDistributed:
		if len(c.Group.Peers) > 0 && c.Group.LocalRanks > 0 {
			return errors.New("group peers and local_ranks are mutually exclusive")
		}
		if len(c.Group.Peers) == 0 && c.Group.LocalRanks < 1 {
			return errors.New("distributed strategy needs group peers or local_ranks")
		}
		if len(c.Group.Peers) > 0 && (c.Group.Rank < 0 || c.Group.Rank >= len(c.Group.Peers)) {
			return errors.Errorf("rank %d out of range for %d peers", c.Group.Rank, len(c.Group.Peers))
		}
	default:
		return errors.Errorf("unknown balancer strategy %q", c.Balancer.Strategy)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses Level
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, errors.Wrapf(err, "log level %q", l.Level)
	}
	return level, nil
}

// Logger builds the process logger writing to w
func (l Log) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
