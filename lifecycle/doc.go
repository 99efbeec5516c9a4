/*
Package lifecycle coordinates process shutdown through one-shot signals.

A signal is any comparable value: an [os.Signal] like syscall.SIGTERM, or an application-defined
key like [Shutdown]. Callbacks registered with [Manager.On] run when the signal is triggered, at
most once, in the reverse of the order they were registered. This mirrors defer: a component
registered after its dependencies is torn down before them.

OS signals are forwarded automatically: registering a callback on (or taking the [Manager.Context]
of) an os.Signal starts listening for it, and a delivery triggers it.

Callbacks registered after their signal has already been triggered run immediately, inside the
call to On.
*/
package lifecycle
