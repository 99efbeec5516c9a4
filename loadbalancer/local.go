package loadbalancer

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/sched"
	"github.com/sharnoff/tilecast/tile"
)

// Local renders every tile of a frame in this process, one scheduler task per tile
type Local struct {
	sched    sched.Scheduler
	tileSize int
	logger   *slog.Logger

	frames   atomic.Uint64
	returned atomic.Uint64
}

var _ TiledLoadBalancer = (*Local)(nil)

// LocalStats are cumulative counters for a Local balancer
type LocalStats struct {
	Frames   uint64
	Returned uint64
}

// NewLocal creates a Local that submits tiles to s
func NewLocal(s sched.Scheduler, opts ...Option) (*Local, error) {
	o := makeOptions(opts)
	if o.tileSize <= 0 {
		return nil, errors.Errorf("invalid tile size %d", o.tileSize)
	}

	return &Local{
		sched:    s,
		tileSize: o.tileSize,
		logger:   o.logger.With("component", "loadbalancer.Local"),
	}, nil
}

func (l *Local) Name() string {
	return "local"
}

// TileSize returns the tile edge length used to split frames
func (l *Local) TileSize() int {
	return l.tileSize
}

// Stats returns the balancer's counters
func (l *Local) Stats() LocalStats {
	return LocalStats{Frames: l.frames.Load(), Returned: l.returned.Load()}
}

// RenderFrame dispatches the frame and waits for it
func (l *Local) RenderFrame(r tile.Renderer, fb tile.FrameBuffer) error {
	ft, err := l.Dispatch(r, fb)
	if err != nil {
		return err
	}

	<-ft.Wait()
	return ft.Err()
}

// ReturnTile copies t into fb
func (l *Local) ReturnTile(fb tile.FrameBuffer, t *tile.Tile) error {
	if err := fb.SetTile(t); err != nil {
		return errors.Wrapf(err, "return %s", t.Name())
	}
	l.returned.Add(1)
	return nil
}

// Dispatch splits fb into tiles and submits one task per tile, returning without waiting for
// any of them
func (l *Local) Dispatch(r tile.Renderer, fb tile.FrameBuffer) (*FrameTask, error) {
	w, h := fb.Size()
	grid, err := tile.NewGrid(w, h, l.tileSize)
	if err != nil {
		return nil, err
	}

	indices := make([]int, grid.Len())
	for i := range indices {
		indices[i] = i
	}
	return l.dispatch(r, fb, grid, indices, nil), nil
}

// dispatch submits the tiles with the given indices. If collect is not nil, it is called with
// each tile after it has been returned.
func (l *Local) dispatch(r tile.Renderer, fb tile.FrameBuffer, grid tile.Grid, indices []int, collect func(*tile.Tile)) *FrameTask {
	id := uuid.New().String()
	ft := &FrameTask{
		id:       id,
		renderer: r,
		fb:       fb,
		grid:     grid,
		numTiles: len(indices),
		tasks:    sched.NewTaskGroup("frame-" + id),
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	l.frames.Add(1)

	logger := l.logger.With("frame", id)
	logger.Debug("dispatching frame", "width", grid.Width, "height", grid.Height, "tiles", len(indices))

	if len(indices) == 0 {
		ft.finish()
		return ft
	}

	// every name goes in before the first task can finish, so the group drains only once
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = tile.Name(idx)
		ft.tasks.Add(names[i])
	}

	for i, idx := range indices {
		idx, name := idx, names[i]
		l.sched.Submit(sched.Task{
			Name: name,
			Run: func() error {
				t := grid.Tile(idx)
				if err := r.RenderTile(t); err != nil {
					return errors.Wrapf(err, "render %s", name)
				}
				if err := l.ReturnTile(fb, t); err != nil {
					return err
				}
				if collect != nil {
					collect(t)
				}
				return nil
			},
			Done: func(err error) {
				if err != nil {
					logger.Warn("tile failed", "tile", name, "error", err)
					ft.fail(err)
				}
				if ft.tasks.Done(name) {
					ft.finish()
					logger.Debug("frame finished", "elapsed", ft.Elapsed())
				}
			},
		})
	}

	return ft
}
