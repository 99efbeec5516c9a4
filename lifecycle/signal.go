package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"
)

// ErrStopped is returned by On once the Manager has been stopped, since the callbacks would
// never run
var ErrStopped = errors.New("lifecycle: manager stopped")

// Shutdown is the signal the tilecast command triggers to tear everything down
var Shutdown shutdown

type shutdown struct{}

func (shutdown) String() string { return "shutdown" }

// Registrar is the part of a Manager that components use to register their callbacks
type Registrar interface {
	On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error
}

// Manager runs callbacks on signals. The zero value is not usable; construct with NewManager.
type Manager struct {
	mu     sync.Mutex
	logger *slog.Logger

	signals map[any]*signalState
	stopped bool
}

type signalState struct {
	ctx    context.Context
	cancel context.CancelFunc
	// done is closed once every callback has run after the signal is triggered
	done chan struct{}

	callbacks []callback
	cleanup   func()
	triggered bool
}

type callback struct {
	f     func(context.Context) error
	onErr func(context.Context, error) error
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "lifecycle"),
		signals: make(map[any]*signalState),
	}
}

// state returns the signal's state, creating it if necessary. m.mu must be held.
func (m *Manager) state(signal any) *signalState {
	s, ok := m.signals[signal]
	if !ok {
		s = &signalState{done: make(chan struct{})}
		m.signals[signal] = s
	}

	if sig, ok := signal.(os.Signal); ok && !s.triggered && s.cleanup == nil {
		ch := make(chan os.Signal, 1)
		ossignal.Notify(ch, sig)
		s.cleanup = func() {
			ossignal.Stop(ch)
			close(ch)
		}
		go func() {
			for range ch {
				m.logger.Info("received OS signal", "signal", sig.String())
				_ = m.Trigger(signal, context.Background())
			}
		}()
	}
	return s
}

// On registers callbacks to run when the signal is triggered. If it already has been, the
// callbacks are run immediately with immediateCtx, and the first error is returned.
//
// After Stop, On registers nothing and returns ErrStopped.
func (m *Manager) On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error {
	return m.on(signal, immediateCtx, nil, callbacks...)
}

// WithErrorHandler returns a Registrar whose callbacks have their errors passed through handler.
// If the handler returns nil, the error is considered dealt with and later callbacks keep
// running.
func (m *Manager) WithErrorHandler(handler func(context.Context, error) error) Registrar {
	return &handledRegistrar{m: m, onErr: handler}
}

type handledRegistrar struct {
	m     *Manager
	onErr func(context.Context, error) error
}

func (r *handledRegistrar) On(signal any, ctx context.Context, callbacks ...func(context.Context) error) error {
	return r.m.on(signal, ctx, r.onErr, callbacks...)
}

func (m *Manager) on(signal any, ctx context.Context, onErr func(context.Context, error) error, callbacks ...func(context.Context) error) error {
	m.mu.Lock()

	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}

	s := m.state(signal)

	// if the signal already happened, do the callbacks ourselves, right now
	if s.triggered {
		m.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i -= 1 {
			err := callbacks[i](ctx)
			if err != nil && onErr != nil {
				err = onErr(ctx, err)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range callbacks {
		s.callbacks = append(s.callbacks, callback{f: f, onErr: onErr})
	}
	m.mu.Unlock()
	return nil
}

var canceledContext = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Context returns a context that is canceled when the signal is triggered
func (m *Manager) Context(signal any) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return canceledContext
	}

	s := m.state(signal)
	if s.triggered {
		return canceledContext
	} else if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	return s.ctx
}

// Trigger fires the signal: its Context is canceled and its callbacks run with ctx, newest first.
// The first error not absorbed by an error handler stops the remaining callbacks and is returned.
//
// Only the first Trigger of a signal does anything; later calls return nil immediately, without
// waiting for the first one to finish. Use Wait for that.
func (m *Manager) Trigger(signal any, ctx context.Context) error {
	m.mu.Lock()

	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	s := m.state(signal)
	if s.triggered {
		m.mu.Unlock()
		return nil
	}

	s.triggered = true // prevents all further writes to the callbacks
	if s.cancel != nil {
		s.cancel()
	}
	callbacks := s.callbacks
	s.callbacks = nil
	m.mu.Unlock()

	defer close(s.done)

	m.logger.Debug("signal triggered", "signal", signal, "callbacks", len(callbacks))

	// callbacks run without the lock held, because they may register or trigger other signals
	for i := len(callbacks) - 1; i >= 0; i -= 1 {
		cb := callbacks[i]
		err := cb.f(ctx)
		if err != nil && cb.onErr != nil {
			err = cb.onErr(ctx, err)
		}
		if err != nil {
			m.logger.Error("signal callback failed", "signal", signal, "error", err)
			return err
		}
	}
	return nil
}

// Wait returns a channel that is closed once the signal has been triggered and its callbacks
// have finished
func (m *Manager) Wait(signal any) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.signals[signal]
	if !ok {
		s = &signalState{done: make(chan struct{})}
		m.signals[signal] = s
	}
	return s.done
}

// TryWait waits like Wait, returning early with ctx.Err() if the context is canceled first
func (m *Manager) TryWait(signal any, ctx context.Context) error {
	select {
	case <-m.Wait(signal):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerAndWait triggers the signal and then waits for its callbacks, which may be running in
// another goroutine that triggered it first
func (m *Manager) TriggerAndWait(signal any, ctx context.Context) error {
	if err := m.Trigger(signal, ctx); err != nil {
		return err
	}
	return m.TryWait(signal, ctx)
}

// Stop releases OS signal handlers. After Stop, registering fails with ErrStopped, triggering
// does nothing, and every Context is canceled.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true

	for _, s := range m.signals {
		if s.cleanup != nil {
			s.cleanup()
		}
	}
}
