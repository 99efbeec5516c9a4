package group

import (
	"fmt"
	"sync"
)

// NewLocalWorld creates an intra-group of n ranks that live in the current process. The i-th
// returned Group is rank i.
//
// Delivery is complete once the receiving rank has taken the message, so a finished broadcast
// on the root means every other rank has received it.
func NewLocalWorld(n int) []*Group {
	h := newHub()
	members := make([]int, n)
	for i := range members {
		members[i] = i
	}

	groups := make([]*Group, n)
	for r := range groups {
		groups[r] = New(&localEndpoint{
			hub:   h,
			ctx:   "world",
			self:  r,
			rank:  r,
			local: members,
		})
	}
	return groups
}

// NewLocalInter creates an in-process inter-group between a producing side of nLeft ranks and a
// consuming side of nRight ranks. Each side addresses the members of the other side as peers.
func NewLocalInter(nLeft, nRight int) (left, right []*Group) {
	h := newHub()
	leftIDs := make([]int, nLeft)
	for i := range leftIDs {
		leftIDs[i] = i
	}
	rightIDs := make([]int, nRight)
	for i := range rightIDs {
		rightIDs[i] = nLeft + i
	}

	side := func(ids, remote []int) []*Group {
		groups := make([]*Group, len(ids))
		for r, id := range ids {
			groups[r] = New(&localEndpoint{
				hub:    h,
				ctx:    "inter",
				self:   id,
				rank:   r,
				local:  ids,
				remote: remote,
			})
		}
		return groups
	}

	return side(leftIDs, rightIDs), side(rightIDs, leftIDs)
}

type linkKey struct {
	ctx      string
	src, dst int
}

type memberKey struct {
	ctx string
	id  int
}

// hub holds the mailboxes for every link of every context in a local world
type hub struct {
	mu     sync.Mutex
	boxes  map[linkKey]*mailbox
	closed map[memberKey]struct{}
}

func newHub() *hub {
	return &hub{
		boxes:  make(map[linkKey]*mailbox),
		closed: make(map[memberKey]struct{}),
	}
}

func (h *hub) box(ctx string, src, dst int) *mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := linkKey{ctx: ctx, src: src, dst: dst}
	if b, ok := h.boxes[k]; ok {
		return b
	}

	b := newMailbox()
	_, srcClosed := h.closed[memberKey{ctx, src}]
	_, dstClosed := h.closed[memberKey{ctx, dst}]
	if srcClosed || dstClosed {
		// closed links are never stored, so the map only holds live ones
		b.abort(ErrClosed)
		return b
	}
	h.boxes[k] = b
	return b
}

func (h *hub) closeMember(ctx string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed[memberKey{ctx, id}] = struct{}{}
	for k, b := range h.boxes {
		if k.ctx == ctx && (k.src == id || k.dst == id) {
			b.abort(ErrClosed)
			delete(h.boxes, k)
		}
	}
}

type localEndpoint struct {
	hub    *hub
	ctx    string
	self   int
	rank   int
	local  []int
	remote []int

	mu     sync.Mutex
	dups   int
	closed bool
}

func (e *localEndpoint) Rank() int       { return e.rank }
func (e *localEndpoint) Size() int       { return len(e.local) }
func (e *localEndpoint) RemoteSize() int { return len(e.remote) }

func (e *localEndpoint) peer(idx int) int {
	if e.remote != nil {
		return e.remote[idx]
	}
	return e.local[idx]
}

func (e *localEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *localEndpoint) Post(dst int, msg []byte) <-chan error {
	result := make(chan error, 1)
	if e.isClosed() {
		result <- ErrClosed
		return result
	}

	e.hub.box(e.ctx, e.self, e.peer(dst)).put(envelope{ctx: e.ctx, msg: msg, result: result})
	return result
}

func (e *localEndpoint) Recv(src int) ([]byte, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	env, err := e.hub.box(e.ctx, e.peer(src), e.self).take()
	if err != nil {
		return nil, err
	}

	// the sender may reuse its buffer as soon as delivery is reported
	msg := append([]byte(nil), env.msg...)
	env.report(nil)
	return msg, nil
}

func (e *localEndpoint) Dup() (Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	child := &localEndpoint{
		hub:    e.hub,
		ctx:    fmt.Sprintf("%s/%d", e.ctx, e.dups),
		self:   e.self,
		rank:   e.rank,
		local:  e.local,
		remote: e.remote,
	}
	e.dups += 1
	return child, nil
}

func (e *localEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.closeMember(e.ctx, e.self)
	return nil
}
