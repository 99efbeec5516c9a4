// Command tilecast renders frames tile by tile, either on a local worker pool or spread over a
// group of ranks that exchange finished tiles.
//
// A single process:
//
//	tilecast -width 512 -height 512 -o frame.png
//
// Three processes on one host, one per rank:
//
//	tilecast -strategy distributed -peers :7000,:7001,:7002 -rank 0 -o frame.png
//	tilecast -strategy distributed -peers :7000,:7001,:7002 -rank 1
//	tilecast -strategy distributed -peers :7000,:7001,:7002 -rank 2
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/config"
	"github.com/sharnoff/tilecast/group"
	"github.com/sharnoff/tilecast/lifecycle"
	"github.com/sharnoff/tilecast/loadbalancer"
	"github.com/sharnoff/tilecast/sched"
	"github.com/sharnoff/tilecast/tile"
)

func main() {
	cfg, err := config.FromArgs("tilecast", os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("tilecast failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	mgr := lifecycle.NewManager(logger)
	defer mgr.Stop()

	for _, sig := range []any{syscall.SIGINT, syscall.SIGTERM} {
		err := mgr.On(sig, context.TODO(), func(ctx context.Context) error {
			return mgr.TriggerAndWait(lifecycle.Shutdown, ctx)
		})
		if err != nil {
			return errors.Wrapf(err, "forward %v", sig)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.TriggerAndWait(lifecycle.Shutdown, ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	pool := sched.NewPool(cfg.Balancer.Workers, logger)
	if err := onShutdown(mgr, "pool", func() error {
		pool.Close()
		return nil
	}); err != nil {
		return err
	}

	renderer := newRenderer(cfg.Renderer)
	logger.Info("renderer configured", "type", cfg.Renderer.TypeName(), "params", cfg.Renderer.Params())

	switch {
	case cfg.Balancer.Strategy == config.StrategyLocal:
		lb, err := loadbalancer.New(cfg.Balancer, loadbalancer.Deps{Scheduler: pool, Logger: logger})
		if err != nil {
			return err
		}
		return renderFrames(mgr.Context(lifecycle.Shutdown), cfg, lb, renderer, logger)

	case len(cfg.Group.Peers) != 0:
		ctx, cancel := context.WithTimeout(mgr.Context(lifecycle.Shutdown), cfg.Group.DialTimeout)
		defer cancel()

		g, err := group.DialMesh(ctx, cfg.Group.Rank, cfg.Group.Peers, logger)
		if err != nil {
			return errors.Wrap(err, "connect to peers")
		}
		if err := onShutdown(mgr, "group", g.Free); err != nil {
			return err
		}

		return renderRank(mgr, cfg, g, pool, renderer, logger)

	default:
		world := group.NewLocalWorld(cfg.Group.LocalRanks)
		errs := make([]error, len(world))
		var wg sync.WaitGroup
		for r, g := range world {
			wg.Add(1)
			go func(r int, g *group.Group) {
				defer wg.Done()
				errs[r] = renderRank(mgr, cfg, g, pool, renderer, logger.With("rank", r))
			}(r, g)
		}
		wg.Wait()

		for r, err := range errs {
			if err != nil {
				return errors.Wrapf(err, "rank %d", r)
			}
		}
		return nil
	}
}

// onShutdown registers f to run on shutdown. If shutdown has already been triggered, f runs
// right away and its error is returned.
func onShutdown(mgr *lifecycle.Manager, what string, f func() error) error {
	err := mgr.On(lifecycle.Shutdown, context.TODO(), func(context.Context) error {
		return f()
	})
	return errors.Wrapf(err, "register %s for shutdown", what)
}

// renderRank runs the distributed strategy for one member of g
func renderRank(
	mgr *lifecycle.Manager,
	cfg *config.Config,
	g *group.Group,
	pool sched.Scheduler,
	renderer tile.Renderer,
	logger *slog.Logger,
) error {
	lb, err := loadbalancer.New(cfg.Balancer, loadbalancer.Deps{Scheduler: pool, Group: g, Logger: logger})
	if err != nil {
		return err
	}
	if d, ok := lb.(*loadbalancer.Distributed); ok {
		if err := onShutdown(mgr, "fabrics", d.Close); err != nil {
			return err
		}
	}

	rankCfg := *cfg
	if g.Rank() != 0 {
		// every rank holds the whole frame, but only rank 0 writes it out
		rankCfg.Output.Path = ""
	}
	return renderFrames(mgr.Context(lifecycle.Shutdown), &rankCfg, lb, renderer, logger)
}

// renderFrames renders the configured number of frames and writes the last one out. A shutdown
// request is honored between frames; a frame that has started always runs to completion.
func renderFrames(ctx context.Context, cfg *config.Config, lb loadbalancer.TiledLoadBalancer, r tile.Renderer, logger *slog.Logger) error {
	var fb *tile.Buffer
	for i := 0; i < cfg.Frame.Count; i += 1 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "shutdown requested")
		}

		fb = tile.NewBuffer(cfg.Frame.Width, cfg.Frame.Height)
		start := time.Now()
		if err := lb.RenderFrame(r, fb); err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		logger.Info("frame rendered",
			"frame", i,
			"strategy", lb.Name(),
			"tiles", fb.TilesSet(),
			"elapsed", time.Since(start),
		)
	}

	if cfg.Output.Path == "" || fb == nil {
		return nil
	}
	if err := writePNG(cfg.Output.Path, fb); err != nil {
		return err
	}
	logger.Info("frame written", "path", cfg.Output.Path)
	return nil
}

func writePNG(path string, fb *tile.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer f.Close()

	if err := png.Encode(f, fb.Image()); err != nil {
		return errors.Wrap(err, "encode PNG")
	}
	return errors.Wrap(f.Close(), "close output file")
}
