package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/spaceworks/sw2/pkg/liveness"
	"github.com/spaceworks/sw2/pkg/msgs"
)

type fakeOperator struct {
	callCh chan string
}

func (o *fakeOperator) Request(ctx context.Context) ([]byte, error) {
	o.callCh <- "request"
	return []byte("1,2,3"), nil
}

func (o *fakeOperator) Reset(ctx context.Context) error {
	o.callCh <- "reset"
	return nil
}

func waitClients(t *testing.T, f *Feed, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for f.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expect %d clients, got %d", n, f.Clients())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + Path
	conn, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	return conn
}

func TestFeedBroadcast(t *testing.T) {
	feed := NewFeed("", "st", nil)
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	conn1, conn2 := dial(t, server), dial(t, server)
	defer conn2.Close()
	waitClients(t, feed, 2)

	feed.HandleEvent(context.Background(), liveness.Event{
		Kind:  liveness.EventLiveness,
		State: liveness.StateUp,
		Time:  time.Now(),
	})
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var data string
		require.NoError(t, websocket.Message.Receive(conn, &data))
		var rec msgs.EventRecord
		require.NoError(t, json.Unmarshal([]byte(data), &rec))
		require.Equal(t, "st", rec.StationId)
		require.Equal(t, "liveness", rec.Kind)
		require.Equal(t, "up", rec.State)
	}

	conn1.Close()
	waitClients(t, feed, 1)
}

func TestFeedCommands(t *testing.T) {
	op := &fakeOperator{callCh: make(chan string, 2)}
	feed := NewFeed("", "st", op)
	server := httptest.NewServer(feed.Handler())
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	for _, cmd := range []Command{{Op: "request"}, {Op: "bogus"}, {Op: "reset"}} {
		require.NoError(t, websocket.JSON.Send(conn, cmd))
	}
	for _, expected := range []string{"request", "reset"} {
		select {
		case name := <-op.callCh:
			require.Equal(t, expected, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not executed", expected)
		}
	}
}

func TestFeedRun(t *testing.T) {
	feed := NewFeed("127.0.0.1:0", "st", nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- feed.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run not stopped")
	}
}

func TestFeedRunListenFailure(t *testing.T) {
	feed := NewFeed("256.0.0.1:bad", "st", nil)
	require.Error(t, feed.Run(context.Background()))
}
