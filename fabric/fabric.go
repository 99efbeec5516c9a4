package fabric

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sharnoff/tilecast/group"
)

// MaxPayload is the exclusive upper bound on the size of a single message
const MaxPayload = 1 << 30

var (
	// ErrInvalidGroup is returned by New when the parent group cannot provide a usable context
	ErrInvalidGroup = errors.New("fabric: invalid communication group")
	// ErrPayloadTooLarge is returned by Send for messages of MaxPayload bytes or more
	ErrPayloadTooLarge = errors.New("fabric: payload too large")
	// ErrBroken wraps every error returned after the fabric's first transport failure
	ErrBroken = errors.New("fabric: broken by earlier failure")
)

// Fabric is a one-directional broadcast channel between a sending rank and the rest of a group
type Fabric struct {
	group    *group.Group
	sendRank int
	recvRank int
	logger   *slog.Logger

	mu      sync.Mutex
	sizeBuf [4]byte
	buf     []byte
	broken  error

	sentMsgs  atomic.Uint64
	sentBytes atomic.Uint64
	recvMsgs  atomic.Uint64
	recvBytes atomic.Uint64
}

// Option configures a Fabric
type Option func(*Fabric)

// WithLogger sets the logger used by the fabric. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Fabric) {
		f.logger = l
	}
}

// Stats are cumulative message counters for a Fabric
type Stats struct {
	SentMessages uint64
	SentBytes    uint64
	ReadMessages uint64
	ReadBytes    uint64
}

// New creates a fabric over a duplicate of parent. Like [group.Group.Dup], New is collective and
// must be called by every member of parent with the same arguments.
//
// On an intra-group, sendRank is the rank that calls Send and recvRank is the root passed to the
// receiving side's broadcasts; they are normally the same rank.
//
// On an inter-group, the sending side passes group.Root as sendRank and the receiving side reads
// from rank 0 of the sending side. Any other combination of roles is a programming error, and
// New panics.
func New(parent *group.Group, sendRank, recvRank int, opts ...Option) (*Fabric, error) {
	if parent.IsInter() && !(recvRank == 0 && sendRank == group.Root) {
		panic(errors.Errorf(
			"fabric: inter-group roles must be sendRank=Root and recvRank=0, got sendRank=%d recvRank=%d",
			sendRank, recvRank,
		))
	}

	g, err := parent.Dup()
	if err != nil || !g.Valid() {
		return nil, errors.Wrapf(ErrInvalidGroup, "dup parent group: %v", err)
	}

	f := &Fabric{
		group:    g,
		sendRank: sendRank,
		recvRank: recvRank,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = f.logger.With("component", "fabric", "rank", g.Rank(), "sendRank", sendRank, "recvRank", recvRank)
	return f, nil
}

// SendRank returns the root used by Send
func (f *Fabric) SendRank() int { return f.sendRank }

// RecvRank returns the root used by Read
func (f *Fabric) RecvRank() int { return f.recvRank }

func checkSize(n int) error {
	if n >= MaxPayload {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes, limit is %d", n, MaxPayload-1)
	}
	return nil
}

func (f *Fabric) fail(op string, err error) error {
	f.broken = errors.Wrap(err, op)
	f.logger.Error("fabric broken", "op", op, "error", err)
	return f.broken
}

func (f *Fabric) brokenErr() error {
	return errors.Wrapf(ErrBroken, "%v", f.broken)
}

// Send broadcasts data to every receiver, returning once the message has been handed to all of
// them. data must not be modified until Send returns.
func (f *Fabric) Send(data []byte) error {
	if err := checkSize(len(data)); err != nil {
		return err
	}

	if !f.group.IsInter() && f.group.Valid() && f.group.Rank() != f.sendRank {
		panic(errors.Errorf("fabric: Send called on rank %d, sender is rank %d", f.group.Rank(), f.sendRank))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken != nil {
		return f.brokenErr()
	}

	binary.LittleEndian.PutUint32(f.sizeBuf[:], uint32(len(data)))
	sizeReq := f.group.Ibcast(f.sizeBuf[:], f.sendRank)
	dataReq := f.group.Ibcast(data, f.sendRank)

	sizeErr := sizeReq.Wait()
	dataErr := dataReq.Wait()
	if sizeErr != nil {
		return f.fail("send size", sizeErr)
	} else if dataErr != nil {
		return f.fail("send payload", dataErr)
	}

	f.sentMsgs.Add(1)
	f.sentBytes.Add(uint64(len(data)))
	f.logger.Debug("sent message", "bytes", len(data))
	return nil
}

// Read blocks until the next message arrives and returns it. The returned slice is owned by the
// fabric and is only valid until the next call to Read.
func (f *Fabric) Read() ([]byte, error) {
	if !f.group.IsInter() && f.group.Rank() == f.recvRank {
		panic(errors.Errorf("fabric: Read called on root rank %d", f.recvRank))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken != nil {
		return nil, f.brokenErr()
	}

	if err := f.group.Bcast(f.sizeBuf[:], f.recvRank); err != nil {
		return nil, f.fail("read size", err)
	}

	size := int(binary.LittleEndian.Uint32(f.sizeBuf[:]))
	if err := checkSize(size); err != nil {
		return nil, f.fail("read size", err)
	}
	if cap(f.buf) < size {
		f.buf = make([]byte, size)
	}
	f.buf = f.buf[:size]

	if err := f.group.Bcast(f.buf, f.recvRank); err != nil {
		return nil, f.fail("read payload", err)
	}

	f.recvMsgs.Add(1)
	f.recvBytes.Add(uint64(size))
	f.logger.Debug("read message", "bytes", size)
	return f.buf, nil
}

// Stats returns the fabric's message counters
func (f *Fabric) Stats() Stats {
	return Stats{
		SentMessages: f.sentMsgs.Load(),
		SentBytes:    f.sentBytes.Load(),
		ReadMessages: f.recvMsgs.Load(),
		ReadBytes:    f.recvBytes.Load(),
	}
}

// Close frees the fabric's group. Operations blocked on other members fail once it is closed.
func (f *Fabric) Close() error {
	return f.group.Free()
}
