package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serial port. Bytes injected by the test are
// read by the channel, bytes written by the channel are recorded.
type fakePort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	// OnWrite returns the reply injected for a write, if any.
	OnWrite func([]byte) string

	lock    sync.Mutex
	written bytes.Buffer
	dtr     []bool
	closed  bool
}

func newFakePort() *fakePort {
	pr, pw := io.Pipe()
	return &fakePort{pr: pr, pw: pw}
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.written.Write(b)
	onWrite := p.OnWrite
	p.lock.Unlock()
	if onWrite != nil {
		if reply := onWrite(b); reply != "" {
			go p.inject(reply)
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	p.pr.Close()
	return p.pw.Close()
}

func (p *fakePort) SetDTR(on bool) error {
	p.lock.Lock()
	p.dtr = append(p.dtr, on)
	p.lock.Unlock()
	return nil
}

func (p *fakePort) inject(s string) {
	p.pw.Write([]byte(s))
}

func (p *fakePort) drop(err error) {
	p.pw.CloseWithError(err)
}

func (p *fakePort) Written() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.written.String()
}

// plainPort has no DTR line.
type plainPort struct {
	io.ReadWriteCloser
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReadLine(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)
	defer ch.Close()

	port.inject("temp=21\r\npo")
	line, err := ch.ReadLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("temp=21"), line)

	go port.inject("ng\n")
	line, err = ch.ReadLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), line)
}

func TestReadLineCanceled(t *testing.T) {
	ch := New("test", newFakePort())
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.ReadLine(ctx)
	require.Equal(t, context.DeadlineExceeded, err)
}

func TestBytesAvailableAndReadAll(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)
	defer ch.Close()

	require.Equal(t, 0, ch.BytesAvailable())
	require.Empty(t, ch.ReadAllAvailable())

	port.inject("a\nb\r\npartial")
	waitFor(t, func() bool { return ch.BytesAvailable() == 12 })
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("partial")}, ch.ReadAllAvailable())
	require.Equal(t, 0, ch.BytesAvailable())
}

func TestWrite(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)
	defer ch.Close()

	require.NoError(t, ch.Write([]byte("ping\n")))
	require.Equal(t, "ping\n", port.Written())
}

func TestCloseUnblocksReadLine(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.ReadLine(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-errCh:
		require.Equal(t, ErrChannelClosed, err)
	case <-time.After(time.Second):
		t.Fatal("ReadLine not unblocked")
	}
	select {
	case <-ch.Done():
	default:
		t.Fatal("Done not closed")
	}
	require.NoError(t, ch.Err())
	require.Equal(t, ErrChannelClosed, ch.Write([]byte("ping\n")))
	require.Equal(t, 0, ch.BytesAvailable())
	require.Equal(t, ErrChannelClosed, ch.SetDTR(true))
	require.NoError(t, ch.Close())
}

func TestPeerDropReportsError(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)

	port.inject("last")
	port.drop(io.ErrUnexpectedEOF)
	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	err := ch.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrChannelClosed))
	_, err = ch.ReadLine(context.Background())
	require.Equal(t, ErrChannelClosed, err)
	require.Equal(t, [][]byte{[]byte("last")}, ch.ReadAllAvailable())
}

func TestSetDTR(t *testing.T) {
	port := newFakePort()
	ch := New("test", port)
	defer ch.Close()
	require.NoError(t, ch.SetDTR(false))
	require.NoError(t, ch.SetDTR(true))
	require.Equal(t, []bool{false, true}, port.dtr)
	require.True(t, ch.HasDTR())

	plain := New("plain", plainPort{newFakePort()})
	defer plain.Close()
	require.False(t, plain.HasDTR())
	require.NoError(t, plain.SetDTR(false))
}

func TestOpen(t *testing.T) {
	var openErr *OpenError

	_, err := Open(Config{Port: "", Baud: 9600})
	require.True(t, errors.As(err, &openErr))

	_, err = Open(Config{Port: "/dev/does-not-exist", Baud: 0})
	require.True(t, errors.As(err, &openErr))
	require.Equal(t, "/dev/does-not-exist", openErr.Port)

	_, err = Open(Config{Port: "/dev/does-not-exist", Baud: 9600})
	require.True(t, errors.As(err, &openErr))

	_, err = Open(Config{Port: "dummy", SimMode: "bogus"})
	require.True(t, errors.As(err, &openErr))

	ch, err := Open(Config{Port: "SIM", SimMode: "pong"})
	require.NoError(t, err)
	defer ch.Close()
	require.Equal(t, "sim:pong", ch.Name())
	require.NoError(t, ch.Write([]byte("ping\n")))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	line, err := ch.ReadLine(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), line)
	require.NoError(t, ch.SetDTR(false))
}

func TestBaudrates(t *testing.T) {
	rates := Baudrates()
	require.Contains(t, rates, 115200)
	rates[0] = 1
	require.NotEqual(t, 1, Baudrates()[0])
}
