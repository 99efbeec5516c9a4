package loadbalancer

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/config"
	"github.com/sharnoff/tilecast/group"
	"github.com/sharnoff/tilecast/sched"
	"github.com/sharnoff/tilecast/tile"
)

// DefaultTileSize is the tile edge length, in pixels, used when none is configured
const DefaultTileSize = 64

// ErrFrameMismatch is returned by a distributed render when ranks disagree about the frame
var ErrFrameMismatch = errors.New("loadbalancer: frame does not match across ranks")

// TiledLoadBalancer renders frames by farming out their tiles
type TiledLoadBalancer interface {
	// RenderFrame renders every tile of fb with r, returning once all of them have been returned
	// to fb. The first error from any tile is returned.
	RenderFrame(r tile.Renderer, fb tile.FrameBuffer) error
	// ReturnTile delivers a finished tile to the frame buffer
	ReturnTile(fb tile.FrameBuffer, t *tile.Tile) error
	// Name identifies the strategy
	Name() string
}

// Option configures a load balancer
type Option func(*options)

type options struct {
	tileSize int
	logger   *slog.Logger
}

func makeOptions(opts []Option) options {
	o := options{tileSize: DefaultTileSize, logger: slog.Default()}
	for _, f := range opts {
		f(&o)
	}
	return o
}

// WithTileSize sets the tile edge length in pixels
func WithTileSize(n int) Option {
	return func(o *options) {
		o.tileSize = n
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Deps are the runtime dependencies a strategy may need
type Deps struct {
	Scheduler sched.Scheduler
	// Group is required by the distributed strategy
	Group  *group.Group
	Logger *slog.Logger
}

// New builds the strategy named by cfg
func New(cfg config.Balancer, deps Deps) (TiledLoadBalancer, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("load balancer requires a scheduler")
	}

	opts := []Option{WithTileSize(cfg.TileSize)}
	if deps.Logger != nil {
		opts = append(opts, WithLogger(deps.Logger))
	}

	switch cfg.Strategy {
	case config.StrategyLocal:
		return NewLocal(deps.Scheduler, opts...)
	case config.StrategyDistributed:
		if !deps.Group.Valid() {
			return nil, errors.New("distributed load balancer requires a valid group")
		}
		return NewDistributed(deps.Group, deps.Scheduler, opts...)
	default:
		return nil, errors.Errorf("unknown load balancer strategy %q", cfg.Strategy)
	}
}
