package sched_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sharnoff/tilecast/sched"
)

func TestPoolRunsEveryTaskOnce(t *testing.T) {
	t.Parallel()

	const tasks = 1000

	pool := sched.NewPool(8, nil)
	defer pool.Close()

	var runs [tasks]atomic.Int32
	var dones [tasks]atomic.Int32
	var wg sync.WaitGroup
	wg.Add(tasks)

	for i := 0; i < tasks; i += 1 {
		i := i
		pool.Submit(sched.Task{
			Name: fmt.Sprintf("task-%d", i),
			Run: func() error {
				runs[i].Add(1)
				return nil
			},
			Done: func(err error) {
				if err != nil {
					t.Errorf("task %d: unexpected error %v", i, err)
				}
				dones[i].Add(1)
				wg.Done()
			},
		})
	}
	wg.Wait()

	for i := 0; i < tasks; i += 1 {
		if runs[i].Load() != 1 || dones[i].Load() != 1 {
			t.Fatalf("task %d: ran %d times, done %d times", i, runs[i].Load(), dones[i].Load())
		}
	}

	stats := pool.Stats()
	assert(stats.Workers == 8)
	assert(stats.Submitted == tasks)
}

func TestPoolPassesErrors(t *testing.T) {
	t.Parallel()

	pool := sched.NewPool(2, nil)
	defer pool.Close()

	testErr := errors.New("shading failed")
	result := make(chan error, 1)
	pool.Submit(sched.Task{
		Name: "failing",
		Run:  func() error { return testErr },
		Done: func(err error) { result <- err },
	})

	if err := <-result; err != testErr {
		t.Fatalf("expected %v, got %v", testErr, err)
	}
}

func panickingTile() error {
	panic("bad tile")
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	pool := sched.NewPool(1, nil)
	defer pool.Close()

	result := make(chan error, 1)
	pool.Submit(sched.Task{
		Name: "tile-7",
		Run:  panickingTile,
		Done: func(err error) { result <- err },
	})

	err := <-result
	var pe *sched.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %T: %v", err, err)
	}
	assert(pe.Task == "tile-7")
	assert(pe.Value == "bad tile")

	validateStackTrace(t, sched.StackTrace{
		Frames: []sched.StackFrame{
			{Function: `.*/sched_test.panickingTile`, File: `.*/pool_test\.go`, Line: 1},
		},
		Parent: &sched.StackTrace{
			Frames: []sched.StackFrame{
				{Function: `.*/sched_test.TestPoolRecoversPanics`, File: `.*/pool_test\.go`, Line: 1},
			},
		},
	}, pe.Stack)

	// the worker survived the panic
	ok := make(chan error, 1)
	pool.Submit(sched.Task{Name: "after", Run: func() error { return nil }, Done: func(err error) { ok <- err }})
	assert(<-ok == nil)
	assert(pool.Stats().Panicked == 1)
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	pool := sched.NewPool(1, nil)

	var ran atomic.Int32
	for i := 0; i < 50; i += 1 {
		pool.Submit(sched.Task{Name: "t", Run: func() error {
			ran.Add(1)
			return nil
		}})
	}
	pool.Close()
	pool.Close() // idempotent

	assert(ran.Load() == 50)

	var closedErr error
	pool.Submit(sched.Task{Name: "late", Run: func() error { return nil }, Done: func(err error) { closedErr = err }})
	assert(errors.Is(closedErr, sched.ErrPoolClosed))
}
