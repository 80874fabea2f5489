// Package websocket streams station events to websocket clients as JSON.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/spaceworks/sw2/pkg/framework"
	"github.com/spaceworks/sw2/pkg/liveness"
	"github.com/spaceworks/sw2/pkg/msgs"
)

// Path is the HTTP path serving the feed.
const Path = "/events"

// clientBacklog is the number of events queued per client before events
// are dropped for it.
const clientBacklog = 64

// Command is sent by clients to operate the station.
type Command struct {
	Op string `json:"op"`
}

// Feed implements liveness.EventHandler by broadcasting events to all
// connected clients.
type Feed struct {
	Addr      string
	StationID string
	Operator  liveness.Operator

	lock    sync.Mutex
	clients map[*client]struct{}
	ctx     context.Context
}

type client struct {
	conn   *websocket.Conn
	sendCh chan []byte
}

// NewFeed creates a Feed listening on addr.
func NewFeed(addr, stationID string, op liveness.Operator) *Feed {
	return &Feed{
		Addr:      addr,
		StationID: stationID,
		Operator:  op,
		clients:   make(map[*client]struct{}),
		ctx:       context.Background(),
	}
}

// Name implements framework.Named.
func (f *Feed) Name() string {
	return "feed"
}

// Handler returns the HTTP handler of the feed.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, websocket.Handler(f.serve))
	return mux
}

// Run serves the feed until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.lock.Lock()
	f.ctx = ctx
	f.lock.Unlock()
	ln, err := net.Listen("tcp", f.Addr)
	if err != nil {
		return err
	}
	glog.Infof("feed listening on %s%s", ln.Addr(), Path)
	server := &http.Server{Handler: f.Handler()}
	err = framework.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(ln)
	})
	f.closeClients()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.clients)
}

// HandleEvent implements liveness.EventHandler.
func (f *Feed) HandleEvent(ctx context.Context, ev liveness.Event) {
	data, err := json.Marshal(msgs.NewEventRecord(f.StationID, ev))
	if err != nil {
		glog.Errorf("encode event %s: %v", ev.Kind, err)
		return
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	for c := range f.clients {
		select {
		case c.sendCh <- data:
		default:
			glog.V(2).Infof("feed %s: event %s dropped", c.conn.Request().RemoteAddr, ev.Kind)
		}
	}
}

func (f *Feed) serve(conn *websocket.Conn) {
	c := &client{conn: conn, sendCh: make(chan []byte, clientBacklog)}
	f.lock.Lock()
	f.clients[c] = struct{}{}
	ctx := f.ctx
	f.lock.Unlock()
	glog.V(2).Infof("feed client %s connected", conn.Request().RemoteAddr)

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for data := range c.sendCh {
			if err := websocket.Message.Send(conn, string(data)); err != nil {
				glog.V(2).Infof("feed client %s: %v", conn.Request().RemoteAddr, err)
				conn.Close()
				return
			}
		}
	}()

	for {
		var cmd Command
		if err := websocket.JSON.Receive(conn, &cmd); err != nil {
			break
		}
		f.execute(ctx, cmd)
	}

	f.remove(c)
	<-doneCh
	glog.V(2).Infof("feed client %s disconnected", conn.Request().RemoteAddr)
}

func (f *Feed) remove(c *client) {
	f.lock.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.sendCh)
	}
	f.lock.Unlock()
}

func (f *Feed) closeClients() {
	f.lock.Lock()
	defer f.lock.Unlock()
	for c := range f.clients {
		c.conn.Close()
	}
}

func (f *Feed) execute(ctx context.Context, cmd Command) {
	if f.Operator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var err error
	switch cmd.Op {
	case "request":
		_, err = f.Operator.Request(ctx)
	case "reset":
		err = f.Operator.Reset(ctx)
	default:
		glog.Warningf("feed: unknown op %q", cmd.Op)
		return
	}
	if err != nil {
		glog.V(2).Infof("feed: %s: %v", cmd.Op, err)
	}
}
