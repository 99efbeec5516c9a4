package loadbalancer

import (
	"context"
	"sync"
	"time"

	"github.com/sharnoff/tilecast/sched"
	"github.com/sharnoff/tilecast/tile"
)

// FrameTask tracks one dispatched frame until every one of its tiles has been returned
type FrameTask struct {
	id       string
	renderer tile.Renderer
	fb       tile.FrameBuffer
	grid     tile.Grid
	numTiles int
	tasks    *sched.TaskGroup
	started  time.Time
	done     chan struct{}

	mu       sync.Mutex
	err      error
	finished time.Time
}

// ID returns the frame's unique identifier
func (t *FrameTask) ID() string {
	return t.id
}

// Grid returns the grid the frame was split with
func (t *FrameTask) Grid() tile.Grid {
	return t.grid
}

// NumTiles returns the number of tiles dispatched for the frame
func (t *FrameTask) NumTiles() int {
	return t.numTiles
}

// Wait returns a channel that is closed once every tile has been returned
func (t *FrameTask) Wait() <-chan struct{} {
	return t.done
}

// TryWait waits for the frame, returning early with ctx.Err() if the context is canceled. The
// frame keeps rendering either way.
func (t *FrameTask) TryWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Err returns the first error reported by any tile so far
func (t *FrameTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Pending returns the sorted names of tiles that have not finished
func (t *FrameTask) Pending() []string {
	return t.tasks.Pending()
}

// Elapsed returns the time taken by the frame, or the time since dispatch if it hasn't finished
func (t *FrameTask) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}

func (t *FrameTask) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err == nil {
		t.err = err
	}
}

// finish is called exactly once, by whoever drained the task group
func (t *FrameTask) finish() {
	t.mu.Lock()
	t.finished = time.Now()
	t.mu.Unlock()

	close(t.done)
}
