package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

// LineHandler is called with each line nobody is waiting for.
type LineHandler interface {
	HandleLine(context.Context, []byte)
}

// HandleLineFunc is func type of LineHandler.
type HandleLineFunc func(context.Context, []byte)

// HandleLine implements LineHandler.
func (f HandleLineFunc) HandleLine(ctx context.Context, line []byte) {
	f(ctx, line)
}

// awaitBacklog bounds the lines queued for a single exchange; extra
// lines go to the Handler.
const awaitBacklog = 64

// Mux is the single consumer of lines from a Channel.
type Mux struct {
	Channel *Channel
	Handler LineHandler

	lock    sync.Mutex
	awaiter chan []byte
}

// NewMux creates a Mux reading from ch.
func NewMux(ch *Channel, handler LineHandler) *Mux {
	return &Mux{Channel: ch, Handler: handler}
}

// Run reads lines until the channel closes or ctx is canceled.
// Bytes left in the buffer when the channel closes are flushed to Handler.
func (m *Mux) Run(ctx context.Context) error {
	for {
		line, err := m.Channel.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				for _, rest := range m.Channel.ReadAllAvailable() {
					m.handle(ctx, rest)
				}
			}
			return err
		}
		m.dispatch(ctx, line)
	}
}

// Exchange writes req and collects the response lines.
// It waits up to timeout for the first line, then keeps collecting until
// no line arrives for settle or the timeout deadline passes. If the
// channel closes before the response is complete, the lines collected so
// far are returned with ErrChannelClosed.
func (m *Mux) Exchange(ctx context.Context, req []byte, timeout, settle time.Duration) ([][]byte, error) {
	awaiter := make(chan []byte, awaitBacklog)
	m.lock.Lock()
	if m.awaiter != nil {
		m.lock.Unlock()
		return nil, ErrBusy
	}
	m.awaiter = awaiter
	m.lock.Unlock()
	defer m.release(ctx, awaiter)

	if err := m.Channel.Write(req); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	var lines [][]byte
	select {
	case line := <-awaiter:
		lines = append(lines, line)
	case <-deadline.C:
		return nil, ErrNoResponse
	case <-m.Channel.Done():
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	quiet := time.After(settle)
	for {
		select {
		case line := <-awaiter:
			lines = append(lines, line)
			quiet = time.After(settle)
		case <-quiet:
			return lines, nil
		case <-deadline.C:
			return lines, nil
		case <-m.Channel.Done():
			return lines, ErrChannelClosed
		case <-ctx.Done():
			return lines, ctx.Err()
		}
	}
}

func (m *Mux) dispatch(ctx context.Context, line []byte) {
	m.lock.Lock()
	if m.awaiter != nil {
		select {
		case m.awaiter <- line:
			m.lock.Unlock()
			return
		default:
			glog.Warningf("%s: response backlog full", m.Channel.Name())
		}
	}
	m.lock.Unlock()
	m.handle(ctx, line)
}

// release unregisters the awaiter and forwards lines it never consumed.
func (m *Mux) release(ctx context.Context, awaiter chan []byte) {
	m.lock.Lock()
	if m.awaiter == awaiter {
		m.awaiter = nil
	}
	m.lock.Unlock()
	for {
		select {
		case line := <-awaiter:
			m.handle(ctx, line)
		default:
			return
		}
	}
}

func (m *Mux) handle(ctx context.Context, line []byte) {
	if h := m.Handler; h != nil {
		h.HandleLine(ctx, line)
	}
}
