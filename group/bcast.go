package group

import (
	"fmt"

	"github.com/pkg/errors"
)

// Request is the handle of a non-blocking collective operation
type Request struct {
	done chan struct{}
	err  error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func completed(err error) *Request {
	r := newRequest()
	r.finish(err)
	return r
}

func (r *Request) finish(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the operation has completed locally, returning its error
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Done returns a channel that is closed once the operation has completed
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Bcast broadcasts buf from root to every other member, blocking until the local part of the
// operation is complete. See [Group.Ibcast].
func (g *Group) Bcast(buf []byte, root int) error {
	return g.Ibcast(buf, root).Wait()
}

// Ibcast issues a broadcast of buf from root without waiting for it.
//
// On the root, the request completes once every member has been handed the contents of buf;
// buf must not be modified before then. On every other member, the request completes once the
// root's message has been copied into buf, which must have exactly the length of the message.
//
// Operations on a group are issued in program order: a receive issued after another receive is
// only matched after it.
func (g *Group) Ibcast(buf []byte, root int) *Request {
	ep := g.endpoint()
	if ep == nil {
		return completed(ErrClosed)
	}

	inter := ep.RemoteSize() != 0
	switch {
	case inter && root == Root:
		return g.sendAll(ep, buf, ep.RemoteSize(), -1)
	case inter && root == ProcNull:
		return completed(nil)
	case inter:
		if root < 0 || root >= ep.RemoteSize() {
			panic(fmt.Sprintf("group: inter-group broadcast root %d out of range [0, %d)", root, ep.RemoteSize()))
		}
		return g.recv(ep, buf, root)
	case root < 0 || root >= ep.Size():
		panic(fmt.Sprintf("group: broadcast root %d out of range [0, %d)", root, ep.Size()))
	case root == ep.Rank():
		return g.sendAll(ep, buf, ep.Size(), ep.Rank())
	default:
		return g.recv(ep, buf, root)
	}
}

func (g *Group) sendAll(ep Endpoint, buf []byte, peers int, self int) *Request {
	var results []<-chan error
	for dst := 0; dst < peers; dst += 1 {
		if dst == self {
			continue
		}
		results = append(results, ep.Post(dst, buf))
	}

	if len(results) == 0 {
		return completed(nil)
	}

	req := newRequest()
	go func() {
		var firstErr error
		for _, ch := range results {
			if err := <-ch; err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, "broadcast send")
			}
		}
		req.finish(firstErr)
	}()
	return req
}

func (g *Group) recv(ep Endpoint, buf []byte, src int) *Request {
	req := newRequest()

	g.mu.Lock()
	prev := g.recvTail
	g.recvTail = req.done
	g.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}

		msg, err := ep.Recv(src)
		if err != nil {
			req.finish(errors.Wrapf(err, "broadcast receive from rank %d", src))
			return
		}
		if len(msg) != len(buf) {
			req.finish(errors.Wrapf(ErrTruncated, "expected %d bytes from rank %d, got %d", len(buf), src, len(msg)))
			return
		}
		copy(buf, msg)
		req.finish(nil)
	}()

	return req
}
