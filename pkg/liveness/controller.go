// Package liveness implements the ping/pong liveness check and the
// frame request gated on it.
package liveness

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/spaceworks/sw2/pkg/channel"
)

// eventBacklog is the capacity of the event channel.
const eventBacklog = 128

// Controller drives the liveness state machine over a Channel.
type Controller struct {
	Config *Config

	ch  *channel.Channel
	mux *channel.Mux

	stateLock sync.RWMutex
	state     State

	// exchangeLock serializes pings and requests on the channel.
	exchangeLock   sync.Mutex
	requestPending int32

	eventCh chan Event
}

// NewController creates a Controller over an open channel.
// A nil conf uses the defaults.
func NewController(ch *channel.Channel, conf *Config) *Controller {
	if conf == nil {
		conf = NewConfig()
	}
	c := &Controller{
		Config:  conf,
		ch:      ch,
		eventCh: make(chan Event, eventBacklog),
	}
	c.mux = channel.NewMux(ch, channel.HandleLineFunc(c.handleInfo))
	return c
}

// Channel returns the controlled channel.
func (c *Controller) Channel() *channel.Channel {
	return c.ch
}

// Events retrieves the event reporting chan.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// State gets the liveness state.
func (c *Controller) State() State {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.state
}

// Run reads the channel and pings the peer periodically until ctx is
// canceled or the channel closes. It returns nil when the channel is
// closed by the user and the cause when the connection is lost.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	muxDone := make(chan struct{})
	go func() {
		defer close(muxDone)
		c.mux.Run(ctx)
	}()
	defer func() {
		cancel()
		<-muxDone
	}()

	interval := c.Config.PingInterval
	if interval <= 0 {
		interval = defaultConfig.PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ch.Done():
			// residual lines are flushed before the loss is reported.
			<-muxDone
			return c.closed()
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// Ping runs one ping cycle.
func (c *Controller) Ping(ctx context.Context) error {
	c.exchangeLock.Lock()
	defer c.exchangeLock.Unlock()
	return c.ping(ctx)
}

// Request asks the peer for a frame and returns the raw response.
// It is rejected without touching the channel unless the peer is up.
func (c *Controller) Request(ctx context.Context) ([]byte, error) {
	if c.State() != StateUp {
		c.emit(Event{Kind: EventRequestRejected, Err: ErrNotAlive})
		return nil, ErrNotAlive
	}
	if !atomic.CompareAndSwapInt32(&c.requestPending, 0, 1) {
		c.emit(Event{Kind: EventRequestRejected, Err: ErrRequestPending})
		return nil, ErrRequestPending
	}
	defer atomic.StoreInt32(&c.requestPending, 0)

	c.exchangeLock.Lock()
	defer c.exchangeLock.Unlock()
	// a ping in between may have taken the peer down.
	if c.State() != StateUp {
		c.emit(Event{Kind: EventRequestRejected, Err: ErrNotAlive})
		return nil, ErrNotAlive
	}
	lines, err := c.mux.Exchange(ctx, c.Config.requestBytes(), c.Config.RequestTimeout, c.Config.Settle)
	if errors.Is(err, channel.ErrNoResponse) {
		glog.Warningf("%s: request timeout", c.ch.Name())
		c.emit(Event{Kind: EventRequestTimeout, Err: ErrRequestTimeout})
		return nil, ErrRequestTimeout
	}
	if err != nil {
		return nil, err
	}
	payload := bytes.Join(lines, []byte{'\n'})
	glog.V(2).Infof("%s: frame of %d bytes", c.ch.Name(), len(payload))
	c.emit(Event{Kind: EventFrame, Payload: payload})
	return payload, nil
}

// Reset toggles DTR off then on to reset the peer.
// On a port without DTR line only the event is emitted.
func (c *Controller) Reset(ctx context.Context) error {
	c.exchangeLock.Lock()
	defer c.exchangeLock.Unlock()
	if !c.ch.HasDTR() {
		select {
		case <-c.ch.Done():
			return channel.ErrChannelClosed
		default:
		}
		glog.V(2).Infof("%s: no DTR line, reset skipped", c.ch.Name())
		c.emit(Event{Kind: EventReset})
		return nil
	}
	glog.Infof("%s: resetting peer", c.ch.Name())
	for _, on := range []bool{false, true} {
		if err := c.ch.SetDTR(on); err != nil {
			return err
		}
		select {
		case <-time.After(c.Config.ResetSettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.emit(Event{Kind: EventReset})
	return nil
}

// tick pings unless a request is in flight.
func (c *Controller) tick(ctx context.Context) {
	if atomic.LoadInt32(&c.requestPending) != 0 || !c.exchangeLock.TryLock() {
		glog.V(2).Infof("%s: exchange in flight, ping skipped", c.ch.Name())
		return
	}
	defer c.exchangeLock.Unlock()
	if err := c.ping(ctx); err != nil {
		glog.V(2).Infof("%s: ping: %v", c.ch.Name(), err)
	}
}

func (c *Controller) ping(ctx context.Context) error {
	lines, err := c.mux.Exchange(ctx, c.Config.pingBytes(), c.Config.PingTimeout, c.Config.Settle)
	switch {
	case errors.Is(err, channel.ErrNoResponse):
		c.setState(StateDown)
		c.emit(Event{Kind: EventPingTimeout, Err: ErrPingTimeout})
		return ErrPingTimeout
	case err != nil:
		c.setState(StateDown)
		return err
	}

	pong := []byte(c.Config.PongToken)
	var alive bool
	for _, line := range lines {
		if !alive && bytes.Equal(bytes.TrimSpace(line), pong) {
			alive = true
			continue
		}
		c.emitInfo(line)
	}
	if alive {
		c.setState(StateUp)
	} else {
		c.setState(StateDown)
	}
	return nil
}

func (c *Controller) closed() error {
	c.setState(StateDown)
	err := c.ch.Err()
	if err == nil {
		glog.Infof("%s: closed", c.ch.Name())
		return nil
	}
	glog.Errorf("%s: connection lost: %v", c.ch.Name(), err)
	c.emit(Event{Kind: EventConnectionLost, Err: err})
	return err
}

func (c *Controller) setState(state State) {
	c.stateLock.Lock()
	changed := c.state != state
	c.state = state
	c.stateLock.Unlock()
	if changed {
		glog.Infof("%s: peer %s", c.ch.Name(), state)
		c.emit(Event{Kind: EventLiveness, State: state})
	}
}

func (c *Controller) handleInfo(ctx context.Context, line []byte) {
	c.emitInfo(line)
}

func (c *Controller) emitInfo(line []byte) {
	glog.V(2).Infof("%s: %s", c.ch.Name(), line)
	c.emit(Event{Kind: EventInfo, Line: string(line)})
}

func (c *Controller) emit(ev Event) {
	ev.Time = time.Now()
	if ev.Kind != EventLiveness {
		ev.State = c.State()
	}
	select {
	case c.eventCh <- ev:
	default:
		glog.Warningf("%s: event %s dropped", c.ch.Name(), ev.Kind)
	}
}
