// Package station owns the connection to the peer and feeds controller
// events to the presentation layers.
package station

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/spaceworks/sw2/pkg/channel"
	"github.com/spaceworks/sw2/pkg/liveness"
)

// ErrNotConnected indicates there is no open connection.
var ErrNotConnected = errors.New("not connected")

// Status is a snapshot of the connection.
type Status struct {
	Connected bool
	Port      string
	State     liveness.State
	Buffered  int
}

// Station manages at most one connection at a time.
type Station struct {
	Config *Config
	Sinks  []liveness.EventHandler

	lock    sync.Mutex
	session *session
}

type session struct {
	ctl    *liveness.Controller
	cancel func()
	doneCh chan struct{}
	err    error
}

// New creates a Station.
func New(conf *Config) *Station {
	return &Station{Config: conf}
}

// AddSinks adds event receivers. It must be called before connecting.
func (s *Station) AddSinks(sinks ...liveness.EventHandler) *Station {
	s.Sinks = append(s.Sinks, sinks...)
	return s
}

// Name implements framework.Named.
func (s *Station) Name() string {
	return "station"
}

// Connect opens the channel and starts a session on it, replacing the
// current one.
func (s *Station) Connect(ctx context.Context, conf channel.Config) error {
	s.Disconnect()
	ch, err := channel.Open(conf)
	if err != nil {
		s.publish(ctx, liveness.Event{Kind: liveness.EventOpenFailure, Time: time.Now(), Err: err})
		return err
	}
	livenessConf := s.Config.Liveness
	sess := &session{
		ctl:    liveness.NewController(ch, &livenessConf),
		doneCh: make(chan struct{}),
	}
	sessCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	s.lock.Lock()
	s.session = sess
	s.lock.Unlock()
	go s.runSession(sessCtx, sess)
	return nil
}

// Disconnect closes the current connection, if any.
func (s *Station) Disconnect() error {
	s.lock.Lock()
	sess := s.session
	s.session = nil
	s.lock.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.ctl.Channel().Close()
	sess.cancel()
	<-sess.doneCh
	return err
}

// Status returns the connection status.
func (s *Station) Status() Status {
	sess := s.current()
	if sess == nil {
		return Status{}
	}
	ch := sess.ctl.Channel()
	return Status{
		Connected: true,
		Port:      ch.Name(),
		State:     sess.ctl.State(),
		Buffered:  ch.BytesAvailable(),
	}
}

// Ping runs a ping cycle now.
func (s *Station) Ping(ctx context.Context) error {
	sess := s.current()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.ctl.Ping(ctx)
}

// Request implements liveness.Operator.
func (s *Station) Request(ctx context.Context) ([]byte, error) {
	sess := s.current()
	if sess == nil {
		return nil, ErrNotConnected
	}
	return sess.ctl.Request(ctx)
}

// Reset implements liveness.Operator.
func (s *Station) Reset(ctx context.Context) error {
	sess := s.current()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.ctl.Reset(ctx)
}

// Run keeps a connection to the configured channel open, reconnecting
// after ReconnectDelay whenever it is lost or cannot be opened.
func (s *Station) Run(ctx context.Context) error {
	defer s.Disconnect()
	for {
		if err := s.Connect(ctx, s.Config.Channel); err != nil {
			glog.Errorf("connect %s: %v", s.Config.Channel.Name(), err)
		} else if sess := s.current(); sess != nil {
			select {
			case <-sess.doneCh:
				glog.Warningf("session ended: %v", sess.err)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-time.After(s.Config.ReconnectDelay):
			glog.Infof("reconnecting %s", s.Config.Channel.Name())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// current returns the live session.
func (s *Station) current() *session {
	s.lock.Lock()
	sess := s.session
	s.lock.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.doneCh:
		return nil
	default:
		return sess
	}
}

func (s *Station) runSession(ctx context.Context, sess *session) {
	defer close(sess.doneCh)
	events := sess.ctl.Events()
	errCh := make(chan error, 1)
	go func() { errCh <- sess.ctl.Run(ctx) }()
	for {
		select {
		case ev := <-events:
			s.publish(ctx, ev)
		case err := <-errCh:
			for {
				select {
				case ev := <-events:
					s.publish(ctx, ev)
				default:
					sess.err = err
					return
				}
			}
		}
	}
}

func (s *Station) publish(ctx context.Context, ev liveness.Event) {
	for _, sink := range s.Sinks {
		sink.HandleEvent(ctx, ev)
	}
}
