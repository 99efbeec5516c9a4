package group

import "sync"

// envelope is one message in flight. result, if not nil, is buffered and receives the hand-off
// outcome exactly once.
type envelope struct {
	ctx    string
	msg    []byte
	result chan error
}

func (e envelope) report(err error) {
	if e.result != nil {
		e.result <- err
	}
}

// mailbox is an unbounded FIFO of envelopes. put never blocks; take blocks until an envelope is
// available or the mailbox is closed.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []envelope
	closed error
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) put(e envelope) {
	m.mu.Lock()
	if m.closed != nil {
		err := m.closed
		m.mu.Unlock()
		e.report(err)
		return
	}
	m.items = append(m.items, e)
	m.mu.Unlock()

	m.cond.Signal()
}

func (m *mailbox) take() (envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && m.closed == nil {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		return envelope{}, m.closed
	}

	e := m.items[0]
	m.items[0] = envelope{}
	m.items = m.items[1:]
	return e, nil
}

// close makes every future put fail with err. Envelopes already queued can still be taken;
// once they are gone, take fails with err too. Only the first close or abort has an effect.
func (m *mailbox) close(err error) {
	m.shut(err, false)
}

// abort is close, but also fails the envelopes that are still queued
func (m *mailbox) abort(err error) {
	m.shut(err, true)
}

func (m *mailbox) shut(err error, discard bool) {
	m.mu.Lock()
	if m.closed != nil {
		m.mu.Unlock()
		return
	}
	m.closed = err
	var pending []envelope
	if discard {
		pending = m.items
		m.items = nil
	}
	m.mu.Unlock()

	m.cond.Broadcast()
	for _, e := range pending {
		e.report(err)
	}
}
