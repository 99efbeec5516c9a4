package loadbalancer

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/sharnoff/tilecast/fabric"
	"github.com/sharnoff/tilecast/group"
	"github.com/sharnoff/tilecast/sched"
	"github.com/sharnoff/tilecast/tile"
)

// Distributed splits every frame between the ranks of a group. All ranks call RenderFrame for the
// same sequence of frames, each with its own frame buffer of the same size. Tile i is rendered by
// rank i % size, and after the frame every rank's buffer holds every tile.
//
// Per frame, rank 0 first broadcasts a header describing the frame. Each rank then renders its
// own tiles, and finally every rank in turn broadcasts the tiles it rendered on its own fabric
// while the others read and return them.
type Distributed struct {
	local   *Local
	rank    int
	size    int
	fabrics []*fabric.Fabric
	logger  *slog.Logger

	mu sync.Mutex // serializes frames
}

var _ TiledLoadBalancer = (*Distributed)(nil)

// NewDistributed creates the per-rank fabrics over parent. It is collective: every member of
// parent must call it, with the same options, in the same order relative to other collective
// calls on parent.
func NewDistributed(parent *group.Group, s sched.Scheduler, opts ...Option) (*Distributed, error) {
	if !parent.Valid() {
		return nil, errors.Wrap(fabric.ErrInvalidGroup, "distributed load balancer")
	} else if parent.IsInter() {
		return nil, errors.New("distributed load balancer needs an intra-group")
	}

	o := makeOptions(opts)
	local, err := NewLocal(s, opts...)
	if err != nil {
		return nil, err
	}

	d := &Distributed{
		local:  local,
		rank:   parent.Rank(),
		size:   parent.Size(),
		logger: o.logger.With("component", "loadbalancer.Distributed", "rank", parent.Rank()),
	}

	for r := 0; r < d.size; r += 1 {
		f, err := fabric.New(parent, r, r, fabric.WithLogger(o.logger))
		if err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "fabric for rank %d", r)
		}
		d.fabrics = append(d.fabrics, f)
	}

	return d, nil
}

func (d *Distributed) Name() string {
	return "distributed"
}

// Rank returns this process's rank in the group
func (d *Distributed) Rank() int {
	return d.rank
}

// ReturnTile copies t into fb
func (d *Distributed) ReturnTile(fb tile.FrameBuffer, t *tile.Tile) error {
	return d.local.ReturnTile(fb, t)
}

// Close releases the fabrics
func (d *Distributed) Close() error {
	var firstErr error
	for _, f := range d.fabrics {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RenderFrame renders this rank's share of the frame and exchanges tiles with every other rank.
//
// Errors from rendering, on this rank or any other, are returned after the exchange has finished,
// so one failing rank does not leave the others blocked. A transport error is returned
// immediately; the fabrics are broken after one, and the group cannot continue.
func (d *Distributed) RenderFrame(r tile.Renderer, fb tile.FrameBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, h := fb.Size()
	hdr := frameHeader{
		FrameID:  uuid.New().String(),
		Width:    w,
		Height:   h,
		TileSize: d.local.TileSize(),
		Ranks:    d.size,
	}

	var frameErr error
	place := true
	if d.rank == 0 {
		if err := sendMsg(d.fabrics[0], &hdr); err != nil {
			return errors.Wrap(err, "send frame header")
		}
	} else {
		var got frameHeader
		if err := readMsg(d.fabrics[0], &got); err != nil {
			return errors.Wrap(err, "read frame header")
		}
		if got.Width != w || got.Height != h || got.TileSize != hdr.TileSize || got.Ranks != d.size {
			frameErr = errors.Wrapf(
				ErrFrameMismatch, "rank 0 has %dx%d/%d over %d ranks, rank %d has %dx%d/%d over %d ranks",
				got.Width, got.Height, got.TileSize, got.Ranks, d.rank, w, h, hdr.TileSize, d.size,
			)
			d.logger.Error("frame mismatch", "error", frameErr)
			place = false
		}
		hdr = got
	}

	logger := d.logger.With("frame", hdr.FrameID)

	var grid tile.Grid
	if place {
		var err error
		if grid, err = tile.NewGrid(hdr.Width, hdr.Height, hdr.TileSize); err != nil {
			frameErr = err
			place = false
		}
	}

	var mu sync.Mutex
	var mine []*tile.Tile
	if place {
		var owned []int
		for i := d.rank; i < grid.Len(); i += d.size {
			owned = append(owned, i)
		}

		ft := d.local.dispatch(r, fb, grid, owned, func(t *tile.Tile) {
			mu.Lock()
			defer mu.Unlock()
			mine = append(mine, t)
		})
		<-ft.Wait()
		frameErr = ft.Err()
		logger.Debug("rendered own tiles", "tiles", len(owned), "elapsed", ft.Elapsed())
	}

	slices.SortFunc(mine, func(a, b *tile.Tile) bool { return a.Index < b.Index })

	for src := 0; src < d.size; src += 1 {
		if src == d.rank {
			batch := tileBatch{FrameID: hdr.FrameID, Rank: d.rank, Tiles: mine}
			if frameErr != nil {
				batch.Err = frameErr.Error()
			}
			if err := sendMsg(d.fabrics[src], &batch); err != nil {
				return errors.Wrap(err, "send tiles")
			}
			continue
		}

		var batch tileBatch
		if err := readMsg(d.fabrics[src], &batch); err != nil {
			return errors.Wrapf(err, "read tiles from rank %d", src)
		}

		if batch.FrameID != hdr.FrameID {
			if frameErr == nil {
				frameErr = errors.Wrapf(ErrFrameMismatch, "rank %d sent tiles for frame %s", src, batch.FrameID)
			}
			continue
		} else if batch.Err != "" && frameErr == nil {
			frameErr = errors.Errorf("rank %d: %s", src, batch.Err)
		}
		if !place {
			continue
		}

		for _, t := range batch.Tiles {
			if err := d.checkTile(t, src, grid); err != nil {
				if frameErr == nil {
					frameErr = err
				}
				continue
			}
			if err := d.ReturnTile(fb, t); err != nil && frameErr == nil {
				frameErr = err
			}
		}
		logger.Debug("returned remote tiles", "from", src, "tiles", len(batch.Tiles))
	}

	return frameErr
}

// checkTile rejects a remote tile that src does not own, or whose region is not the one the grid
// gives its index
func (d *Distributed) checkTile(t *tile.Tile, src int, grid tile.Grid) error {
	switch {
	case t == nil:
		return errors.Errorf("rank %d sent an empty tile", src)
	case t.Index < 0 || t.Index >= grid.Len():
		return errors.Errorf("rank %d sent %s, outside the %d-tile grid", src, t.Name(), grid.Len())
	case t.Index%d.size != src:
		return errors.Errorf("rank %d sent %s, which belongs to rank %d", src, t.Name(), t.Index%d.size)
	case t.Region != grid.Region(t.Index):
		return errors.Errorf("rank %d sent %s with region %v, want %v", src, t.Name(), t.Region, grid.Region(t.Index))
	}
	return nil
}
