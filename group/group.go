package group

import (
	"sync"

	"github.com/pkg/errors"
)

const (
	// Root is the root argument used by the sending rank of an inter-group broadcast
	Root = -1
	// ProcNull is the root argument used by non-sending members of the producing side of an
	// inter-group broadcast. The broadcast is a no-op for them.
	ProcNull = -2
)

var (
	// ErrClosed is returned by operations on a freed group or a closed endpoint
	ErrClosed = errors.New("group: communication context closed")
	// ErrTruncated is returned when a received message does not have the length of the receive
	// buffer
	ErrTruncated = errors.New("group: message length does not match receive buffer")
)

// Endpoint is the transport for a single communication context.
//
// For an inter-group endpoint, the peer indices given to Post and Recv are ranks in the remote
// group. Otherwise they are ranks in the local group.
type Endpoint interface {
	// Rank returns this member's rank within its local group
	Rank() int
	// Size returns the size of the local group
	Size() int
	// RemoteSize returns the size of the remote group for inter-group endpoints, and 0 otherwise
	RemoteSize() int

	// Post queues msg for delivery to peer dst and returns immediately. Messages to the same
	// peer are delivered in the order they were posted. The returned channel receives exactly
	// one value once the message has been handed off, after which msg may be reused.
	Post(dst int, msg []byte) <-chan error
	// Recv blocks until the next message from peer src is available
	Recv(src int) ([]byte, error)

	// Dup returns an endpoint with the same membership and a new, isolated context
	Dup() (Endpoint, error)
	// Close releases the context. Pending and future operations on it fail with ErrClosed.
	Close() error
}

// Group is a communication group: an owned Endpoint plus validity state
type Group struct {
	mu       sync.Mutex
	ep       Endpoint
	recvTail <-chan struct{}
}

// New wraps the endpoint in a Group. A nil endpoint produces an invalid group.
func New(ep Endpoint) *Group {
	return &Group{ep: ep}
}

// Valid reports whether the group's communication context is usable
func (g *Group) Valid() bool {
	return g.endpoint() != nil
}

func (g *Group) endpoint() Endpoint {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ep
}

// Rank returns this member's rank in the group, or -1 if the group is not valid
func (g *Group) Rank() int {
	if ep := g.endpoint(); ep != nil {
		return ep.Rank()
	}
	return -1
}

// Size returns the number of members in the (local) group, or 0 if the group is not valid
func (g *Group) Size() int {
	if ep := g.endpoint(); ep != nil {
		return ep.Size()
	}
	return 0
}

// RemoteSize returns the size of the remote group of an inter-group, and 0 otherwise
func (g *Group) RemoteSize() int {
	if ep := g.endpoint(); ep != nil {
		return ep.RemoteSize()
	}
	return 0
}

// IsInter reports whether the group is an inter-group, i.e. one whose broadcasts go from a
// producing group to a disjoint consuming group
func (g *Group) IsInter() bool {
	return g.RemoteSize() != 0
}

// Dup collectively creates a new group with the same membership and an isolated context.
//
// Dup on an invalid group returns an invalid group and ErrClosed.
func (g *Group) Dup() (*Group, error) {
	ep := g.endpoint()
	if ep == nil {
		return New(nil), ErrClosed
	}

	child, err := ep.Dup()
	if err != nil {
		return New(nil), errors.Wrap(err, "dup communication context")
	}
	return New(child), nil
}

// Free releases the group's context, after which the group is no longer valid. Free is
// idempotent.
func (g *Group) Free() error {
	g.mu.Lock()
	ep := g.ep
	g.ep = nil
	g.mu.Unlock()

	if ep == nil {
		return nil
	}
	return ep.Close()
}
