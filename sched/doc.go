/*
Package sched is the parallel work-execution layer that tile computation is dispatched onto.

It provides three things:

- A [Scheduler] interface and [Pool], a fixed set of worker goroutines draining a FIFO of [Task]s
- [TaskGroup], a named [sync.WaitGroup] whose Wait is a channel and whose last Done is reported
- [StackTrace], used to link a panicking task back to the goroutine that submitted it

# Tasks

Each submitted [Task] runs exactly once, and its Done callback is called exactly once with the
result of Run. There is no ordering between tasks; a Pool with N workers may run any N of them at
the same time.

A Run that panics does not take down the worker. The panic is recovered and handed to Done as a
[*PanicError], which carries the stack of the panic with the stack of the Submit call appended as
its parent.

# Fan-in

[TaskGroup] tracks named, outstanding work. Callers Add a name for every unit they hand out, and
each unit calls Done with its name when finished. Done reports whether it was the call that
drained the group, so that exactly one goroutine observes completion. Calling Done for a name
with nothing outstanding panics, which turns "reported twice" into a loud failure instead of a
miscount.
*/
package sched
