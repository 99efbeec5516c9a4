package group

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const dialRetryInterval = 100 * time.Millisecond

// packet is the unit written on a mesh connection. Every context shares the one connection
// between a pair of ranks, and is told apart by Context.
type packet struct {
	Context string
	Payload []byte
}

// hello is the first value sent by the dialing side of a mesh connection
type hello struct {
	Rank int
	Size int
}

// DialMesh listens on addrs[rank] and connects to every other rank in addrs, returning the
// world group once the mesh is complete. See [NewMesh].
func DialMesh(ctx context.Context, rank int, addrs []string, logger *slog.Logger) (*Group, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, errors.Errorf("rank %d out of range for %d addresses", rank, len(addrs))
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addrs[rank])
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addrs[rank])
	}
	return NewMesh(ctx, rank, ln, addrs, logger)
}

// NewMesh builds a full TCP mesh between len(addrs) ranks, where this process is rank and is
// already listening on ln. Rank i accepts connections from every rank above it and dials every
// rank below it, retrying until ctx is done, so processes may start in any order.
//
// NewMesh takes ownership of ln and closes it once every peer has connected.
func NewMesh(ctx context.Context, rank int, ln net.Listener, addrs []string, logger *slog.Logger) (*Group, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		ln.Close()
		return nil, errors.Errorf("rank %d out of range for %d addresses", rank, size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &mesh{
		rank:      rank,
		size:      size,
		logger:    logger.With("component", "group.mesh", "rank", rank),
		links:     make([]*link, size),
		inbox:     make(map[inboxKey]*mailbox),
		failed:    make(map[int]error),
		closedCtx: make(map[string]struct{}),
	}

	if err := m.connect(ctx, ln, addrs); err != nil {
		m.shutdown()
		return nil, err
	}

	for _, l := range m.links {
		if l != nil {
			go m.writer(l)
			go m.reader(l)
		}
	}

	m.logger.Info("mesh established", "size", size)
	return New(&meshEndpoint{mesh: m, ctx: "world", root: true}), nil
}

type inboxKey struct {
	ctx string
	src int
}

type link struct {
	peer int
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
	out  *mailbox
}

func newLink(conn net.Conn) *link {
	return &link{
		peer: -1,
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
		out:  newMailbox(),
	}
}

type mesh struct {
	rank, size int
	logger     *slog.Logger
	links      []*link

	mu        sync.Mutex
	inbox     map[inboxKey]*mailbox
	failed    map[int]error
	closedCtx map[string]struct{}
	closed    bool
}

func (m *mesh) connect(ctx context.Context, ln net.Listener, addrs []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, m.size)

	setLink := func(peer int, l *link) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return ErrClosed
		}
		if m.links[peer] != nil {
			return errors.Errorf("duplicate connection from rank %d", peer)
		}
		l.peer = peer
		m.links[peer] = l
		return nil
	}

	// unblock Accept when setup is over, successful or not
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	higher := m.size - 1 - m.rank
	go func() {
		for i := 0; i < higher; i += 1 {
			conn, err := ln.Accept()
			if err != nil {
				results <- errors.Wrap(err, "accept mesh connection")
				return
			}
			l := newLink(conn)
			var h hello
			if err := l.dec.Decode(&h); err != nil {
				conn.Close()
				results <- errors.Wrap(err, "read mesh handshake")
				return
			}
			if h.Size != m.size || h.Rank <= m.rank || h.Rank >= m.size {
				conn.Close()
				results <- errors.Errorf("unexpected handshake from %s: rank %d of %d", conn.RemoteAddr(), h.Rank, h.Size)
				return
			}
			if err := setLink(h.Rank, l); err != nil {
				conn.Close()
				results <- err
				return
			}
			m.logger.Debug("accepted peer", "peer", h.Rank, "addr", conn.RemoteAddr().String())
			results <- nil
		}
	}()

	for peer := 0; peer < m.rank; peer += 1 {
		go func(peer int) {
			conn, err := dialRetry(ctx, addrs[peer])
			if err != nil {
				results <- errors.Wrapf(err, "dial rank %d at %s", peer, addrs[peer])
				return
			}
			l := newLink(conn)
			if err := l.enc.Encode(hello{Rank: m.rank, Size: m.size}); err != nil {
				conn.Close()
				results <- errors.Wrapf(err, "send handshake to rank %d", peer)
				return
			}
			if err := setLink(peer, l); err != nil {
				conn.Close()
				results <- err
				return
			}
			m.logger.Debug("connected to peer", "peer", peer, "addr", addrs[peer])
			results <- nil
		}(peer)
	}

	for i := 0; i < m.size-1; i += 1 {
		select {
		case err := <-results:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for mesh peers")
		}
	}
	return nil
}

func dialRetry(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}
}

func (m *mesh) writer(l *link) {
	for {
		e, err := l.out.take()
		if err != nil {
			return
		}

		if err := l.enc.Encode(packet{Context: e.ctx, Payload: e.msg}); err != nil {
			err = errors.Wrapf(err, "write to rank %d", l.peer)
			e.report(err)
			l.out.abort(err)
			m.logger.Warn("mesh link write failed", "peer", l.peer, "error", err)
			return
		}
		e.report(nil)
	}
}

func (m *mesh) reader(l *link) {
	for {
		var p packet
		if err := l.dec.Decode(&p); err != nil {
			m.peerFailed(l.peer, errors.Wrapf(err, "read from rank %d", l.peer))
			return
		}
		// gob leaves Payload nil for an empty slice
		if p.Payload == nil {
			p.Payload = []byte{}
		}
		m.inboxFor(p.Context, l.peer).put(envelope{ctx: p.Context, msg: p.Payload})
	}
}

func (m *mesh) inboxFor(ctx string, src int) *mailbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := inboxKey{ctx: ctx, src: src}
	if b, ok := m.inbox[k]; ok {
		return b
	}

	b := newMailbox()
	if _, closed := m.closedCtx[ctx]; closed || m.closed {
		// late packets for a released context land here and are dropped
		b.abort(ErrClosed)
		return b
	}
	if err := m.failed[src]; err != nil {
		b.close(err)
	}
	m.inbox[k] = b
	return b
}

func (m *mesh) peerFailed(peer int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.failed[peer] = err
	for k, b := range m.inbox {
		if k.src == peer {
			b.close(err)
		}
	}
	m.logger.Warn("mesh peer lost", "peer", peer, "error", err)
}

func (m *mesh) closeContext(ctx string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closedCtx[ctx] = struct{}{}
	for k, b := range m.inbox {
		if k.ctx == ctx {
			b.abort(ErrClosed)
			delete(m.inbox, k)
		}
	}
}

func (m *mesh) shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, b := range m.inbox {
		b.abort(ErrClosed)
	}
	links := append([]*link(nil), m.links...)
	m.mu.Unlock()

	for _, l := range links {
		if l == nil {
			continue
		}
		l.out.abort(ErrClosed)
		if err := l.conn.Close(); err != nil {
			m.logger.Debug("close mesh link", "peer", l.peer, "error", err)
		}
	}
}

type meshEndpoint struct {
	mesh *mesh
	ctx  string
	root bool

	mu     sync.Mutex
	dups   int
	closed bool
}

func (e *meshEndpoint) Rank() int       { return e.mesh.rank }
func (e *meshEndpoint) Size() int       { return e.mesh.size }
func (e *meshEndpoint) RemoteSize() int { return 0 }

func (e *meshEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *meshEndpoint) Post(dst int, msg []byte) <-chan error {
	result := make(chan error, 1)
	if e.isClosed() {
		result <- ErrClosed
		return result
	}

	e.mesh.links[dst].out.put(envelope{ctx: e.ctx, msg: msg, result: result})
	return result
}

func (e *meshEndpoint) Recv(src int) ([]byte, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	env, err := e.mesh.inboxFor(e.ctx, src).take()
	if err != nil {
		return nil, err
	}
	return env.msg, nil
}

func (e *meshEndpoint) Dup() (Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	child := &meshEndpoint{mesh: e.mesh, ctx: fmt.Sprintf("%s/%d", e.ctx, e.dups)}
	e.dups += 1
	return child, nil
}

// Close releases the context. Closing the world endpoint returned by NewMesh tears down the
// whole mesh.
func (e *meshEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.root {
		e.mesh.shutdown()
	} else {
		e.mesh.closeContext(e.ctx)
	}
	return nil
}
