package sched

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPoolClosed is handed to the Done callback of tasks submitted after [Pool.Close]
var ErrPoolClosed = errors.New("sched: pool closed")

// Scheduler accepts units of work for parallel execution.
//
// Implementations must run every submitted Task exactly once and call its Done exactly once, but
// make no promise about the order tasks run or finish in.
type Scheduler interface {
	Submit(task Task)
}

// Task is a single unit of work given to a [Scheduler]
type Task struct {
	// Name identifies the task in logs and panic reports
	Name string
	// Run does the work. It is called from a scheduler goroutine.
	Run func() error
	// Done, if not nil, receives the result of Run once it has returned (or panicked)
	Done func(error)
}

// PanicError is the error given to [Task.Done] when Run panicked
type PanicError struct {
	Task  string
	Value any
	// Stack is the stack of the panic, with the stack of the Submit call as its parent
	Stack StackTrace
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", e.Task, e.Value)
}
