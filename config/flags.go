package config

import (
	"flag"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// FromArgs builds the configuration for a command line: the file named by -config (if any) on top
// of Default, then every flag that was explicitly given. Output from the flag package, including
// usage, goes to out.
func FromArgs(name string, args []string, out io.Writer) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)

	def := Default()
	path := fs.String("config", "", "YAML configuration file")
	width := fs.Int("width", def.Frame.Width, "frame width in pixels")
	height := fs.Int("height", def.Frame.Height, "frame height in pixels")
	frames := fs.Int("frames", def.Frame.Count, "number of frames to render")
	rendererType := fs.String("renderer", def.Renderer.Type, "renderer type")
	spp := fs.Int("spp", def.Renderer.SPP, "samples per pixel")
	noShadows := fs.Bool("noshadows", false, "disable shadows")
	strategy := fs.String("strategy", def.Balancer.Strategy, "load balancer: local or distributed")
	tileSize := fs.Int("tile-size", def.Balancer.TileSize, "tile edge length in pixels")
	workers := fs.Int("workers", def.Balancer.Workers, "scheduler goroutines, 0 for GOMAXPROCS")
	rank := fs.Int("rank", def.Group.Rank, "this process's rank among -peers")
	peers := fs.String("peers", "", "comma-separated TCP address of every rank, in rank order")
	localRanks := fs.Int("local-ranks", def.Group.LocalRanks, "run this many ranks in-process")
	dialTimeout := fs.Duration("dial-timeout", def.Group.DialTimeout, "how long to wait for every peer")
	output := fs.String("o", def.Output.Path, "PNG file to write the last frame to")
	logLevel := fs.String("log-level", def.Log.Level, "debug, info, warn or error")
	logFormat := fs.String("log-format", def.Log.Format, "text or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, errors.Errorf("unexpected arguments: %q", fs.Args())
	}

	cfg := &def
	if *path != "" {
		var err error
		if cfg, err = Load(*path); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "width":
			cfg.Frame.Width = *width
		case "height":
			cfg.Frame.Height = *height
		case "frames":
			cfg.Frame.Count = *frames
		case "renderer":
			cfg.Renderer.Type = *rendererType
		case "spp":
			cfg.Renderer.SPP = *spp
		case "noshadows":
			cfg.Renderer.Shadows = !*noShadows
		case "strategy":
			cfg.Balancer.Strategy = *strategy
		case "tile-size":
			cfg.Balancer.TileSize = *tileSize
		case "workers":
			cfg.Balancer.Workers = *workers
		case "rank":
			cfg.Group.Rank = *rank
		case "peers":
			cfg.Group.Peers = splitList(*peers)
		case "local-ranks":
			cfg.Group.LocalRanks = *localRanks
		case "dial-timeout":
			cfg.Group.DialTimeout = *dialTimeout
		case "o":
			cfg.Output.Path = *output
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
