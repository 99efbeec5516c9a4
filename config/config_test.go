package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharnoff/tilecast/config"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	assert(cfg.Balancer.Strategy == config.StrategyLocal)
	assert(cfg.Balancer.TileSize == 64)
	assert(cfg.Renderer.TypeName() == "scivis")
}

func TestParseOverlaysDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(`
frame:
  width: 640
renderer:
  type: pathtracer
  bg_color: [0.1, 0.2, 0.3]
balancer:
  strategy: distributed
  tile_size: 32
group:
  rank: 1
  peers: ["10.0.0.1:7000", "10.0.0.2:7000"]
  dial_timeout: 5s
log:
  level: debug
`))
	if err != nil {
		t.Fatal(err)
	}

	assert(cfg.Frame.Width == 640)
	assert(cfg.Frame.Height == 256)
	assert(cfg.Frame.Count == 1)
	assert(cfg.Renderer.Type == "pathtracer")
	assert(cfg.Renderer.SPP == 1)
	assert(cfg.Renderer.BGColor == [3]float32{0.1, 0.2, 0.3})
	assert(cfg.Balancer.TileSize == 32)
	assert(cfg.Group.Rank == 1 && len(cfg.Group.Peers) == 2)
	assert(cfg.Group.DialTimeout == 5*time.Second)

	level, err := cfg.Log.SlogLevel()
	assert(err == nil && level == slog.LevelDebug)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(c *config.Config){
		"negative width":       func(c *config.Config) { c.Frame.Width = -1 },
		"zero frames":          func(c *config.Config) { c.Frame.Count = 0 },
		"zero tile size":       func(c *config.Config) { c.Balancer.TileSize = 0 },
		"negative workers":     func(c *config.Config) { c.Balancer.Workers = -2 },
		"zero spp":             func(c *config.Config) { c.Renderer.SPP = 0 },
		"unknown strategy":     func(c *config.Config) { c.Balancer.Strategy = "round-robin" },
		"distributed no group": func(c *config.Config) { c.Balancer.Strategy = config.StrategyDistributed },
		"rank out of range": func(c *config.Config) {
			c.Balancer.Strategy = config.StrategyDistributed
			c.Group.Peers = []string{"a:1", "b:1"}
			c.Group.Rank = 2
		},
		"peers and local ranks": func(c *config.Config) {
			c.Balancer.Strategy = config.StrategyDistributed
			c.Group.Peers = []string{"a:1"}
			c.Group.LocalRanks = 2
		},
		"bad log level":  func(c *config.Config) { c.Log.Level = "loud" },
		"bad log format": func(c *config.Config) { c.Log.Format = "xml" },
	}

	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if cfg.Validate() == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRendererParams(t *testing.T) {
	t.Parallel()

	r := config.Default().Renderer
	p := r.Params()
	assert(p["spp"] == 1)
	assert(p["maxDepth"] == 5)
	assert(p["shadowsEnabled"] == 1)
	assert(p["aoTransparencyEnabled"] == 1)
	assert(p["bgColor"] == [3]float32{1, 1, 1})

	r.Shadows = false
	assert(r.Params()["shadowsEnabled"] == 0)

	// ambient occlusion renderers only get the sample count and depth
	for _, typ := range []string{"ao", "ao4", "ao16"} {
		r.Type = typ
		p := r.Params()
		assert(len(p) == 2)
		_, hasBG := p["bgColor"]
		assert(!hasBG)
	}

	r.Type = ""
	assert(r.TypeName() == config.DefaultRendererType)
	assert(len(r.Params()) == 7)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tilecast.yaml")
	assert(os.WriteFile(path, []byte("frame: {width: 8, height: 4}\n"), 0o644) == nil)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	assert(cfg.Frame.Width == 8 && cfg.Frame.Height == 4)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert(err != nil)

	assert(os.WriteFile(path, []byte("frame: [not, a, map]\n"), 0o644) == nil)
	_, err = config.Load(path)
	assert(err != nil)
}

func TestFromArgs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tilecast.yaml")
	assert(os.WriteFile(path, []byte("frame: {width: 8, height: 4}\nbalancer: {tile_size: 2}\n"), 0o644) == nil)

	var out bytes.Buffer
	cfg, err := config.FromArgs("tilecast", []string{
		"-config", path,
		"-height", "16",
		"-strategy", "distributed",
		"-peers", "127.0.0.1:7000, 127.0.0.1:7001",
		"-rank", "1",
		"-noshadows",
	}, &out)
	if err != nil {
		t.Fatal(err)
	}

	// file values survive unless a flag was given
	assert(cfg.Frame.Width == 8)
	assert(cfg.Frame.Height == 16)
	assert(cfg.Balancer.TileSize == 2)
	assert(cfg.Balancer.Strategy == config.StrategyDistributed)
	assert(len(cfg.Group.Peers) == 2 && cfg.Group.Peers[1] == "127.0.0.1:7001")
	assert(cfg.Group.Rank == 1)
	assert(!cfg.Renderer.Shadows)

	_, err = config.FromArgs("tilecast", []string{"-tile-size", "0"}, &out)
	assert(err != nil)
	_, err = config.FromArgs("tilecast", []string{"extra"}, &out)
	assert(err != nil)
}

func TestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := config.Log{Level: "warn", Format: "json"}.Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")
	assert(!bytes.Contains(buf.Bytes(), []byte("hidden")))
	assert(bytes.Contains(buf.Bytes(), []byte(`"msg":"shown"`)))
}
