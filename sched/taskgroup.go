package sched

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TaskGroup provides [sync.WaitGroup]-like functionality for a flat set of named tasks:
//
//  1. Tasks are named, added one at a time with [TaskGroup.Add]
//  2. [TaskGroup.Wait] returns a channel, so it can be selected over
//  3. [TaskGroup.Done] reports whether it drained the group
//  4. The set of unfinished tasks can be fetched with [TaskGroup.Pending]
//
// The zero value is not usable; construct with [NewTaskGroup].
type TaskGroup struct {
	mu      sync.Mutex
	name    string
	count   uint
	allDone chan struct{}
	tasks   map[string]uint
}

// NewTaskGroup creates a new, empty TaskGroup with the given name
func NewTaskGroup(name string) *TaskGroup {
	return &TaskGroup{name: name, tasks: make(map[string]uint)}
}

// Name returns the name the TaskGroup was created with
func (g *TaskGroup) Name() string {
	return g.name
}

// Add adds a task with the name to the TaskGroup. Add may be called multiple times with the same
// name, in which case each instance must be matched by its own call to [TaskGroup.Done].
func (g *TaskGroup) Add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count += 1
	g.tasks[name] += 1
}

// Done marks one task with the name as completed, returning true if this call finished the last
// outstanding task. Exactly one call to Done observes true for each time the group drains.
//
// Done will panic if there aren't any remaining tasks with the name.
func (g *TaskGroup) Done(name string) (drained bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.tasks[name]
	if c == 0 {
		panic(fmt.Sprintf("task group %q: zero remaining tasks with name %q", g.name, name))
	}

	if c == 1 {
		delete(g.tasks, name)
	} else {
		g.tasks[name] = c - 1
	}

	g.count -= 1
	if g.count != 0 {
		return false
	}

	if g.allDone != nil {
		close(g.allDone)
		g.allDone = nil
	}
	return true
}

// Wait returns a channel that is closed once all tasks have been completed with [TaskGroup.Done].
func (g *TaskGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return alwaysClosed
	}

	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}
	return g.allDone
}

// TryWait waits on the TaskGroup, returning early with ctx.Err() if the context is canceled.
//
// If the context is already canceled when TryWait is called, it always returns the context's
// error, even if the group has finished.
func (g *TaskGroup) TryWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.Wait():
		return nil
	}
}

// Finished returns whether all tasks are finished, i.e. if waiting will immediately complete.
func (g *TaskGroup) Finished() bool {
	select {
	case <-g.Wait():
		return true
	default:
		return false
	}
}

// Len returns the number of outstanding tasks, counting repeated names separately
func (g *TaskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.count)
}

// Pending returns the sorted names of tasks that have not been completed. A name added more than
// once appears once.
//
// This is meant for diagnostics, e.g. reporting which tiles a stuck frame is still waiting on.
func (g *TaskGroup) Pending() []string {
	g.mu.Lock()
	names := maps.Keys(g.tasks)
	g.mu.Unlock()

	slices.Sort(names)
	return names
}
