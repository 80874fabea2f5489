package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"
)

// DTRSetter is implemented by ports with a controllable
// data-terminal-ready line.
type DTRSetter interface {
	SetDTR(bool) error
}

const readChunkSize = 256

// Channel is an open byte-stream to the peer.
type Channel struct {
	name string
	rw   io.ReadWriteCloser

	lock     sync.Mutex
	buf      bytes.Buffer
	notifyCh chan struct{}
	closed   bool
	err      error

	writeLock sync.Mutex
	doneCh    chan struct{}
}

// New wraps an opened port and starts receiving from it.
// The Channel takes ownership of rw.
func New(name string, rw io.ReadWriteCloser) *Channel {
	c := &Channel{
		name:     name,
		rw:       rw,
		notifyCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go c.pump()
	return c
}

// Name returns the name of the port.
func (c *Channel) Name() string {
	return c.name
}

// Write sends bytes to the peer.
func (c *Channel) Write(p []byte) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	c.writeLock.Lock()
	_, err := c.rw.Write(p)
	c.writeLock.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: write: %v", ErrChannelClosed, err)
		c.closeWith(err)
		return err
	}
	glog.V(4).Infof("%s TX %q", c.name, p)
	return nil
}

// BytesAvailable returns the number of received bytes not yet consumed.
// It returns 0 once the channel is closed.
func (c *Channel) BytesAvailable() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return 0
	}
	return c.buf.Len()
}

// ReadLine blocks until a complete line is received and returns it
// without the line terminator.
func (c *Channel) ReadLine(ctx context.Context) ([]byte, error) {
	for {
		c.lock.Lock()
		if idx := bytes.IndexByte(c.buf.Bytes(), '\n'); idx >= 0 {
			line := trimLine(c.buf.Next(idx + 1))
			c.lock.Unlock()
			return line, nil
		}
		if c.closed {
			c.lock.Unlock()
			return nil, ErrChannelClosed
		}
		notifyCh := c.notifyCh
		c.lock.Unlock()

		select {
		case <-notifyCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReadAllAvailable drains the input buffer split into lines. A trailing
// incomplete line is returned as the last element. It also works on a
// closed channel to flush what was received before closing.
func (c *Channel) ReadAllAvailable() [][]byte {
	c.lock.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	c.lock.Unlock()

	var lines [][]byte
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			lines = append(lines, trimLine(data))
			break
		}
		lines = append(lines, trimLine(data[:idx+1]))
		data = data[idx+1:]
	}
	return lines
}

// SetDTR sets the data-terminal-ready line. It is a no-op when the
// underlying port has no such line.
func (c *Channel) SetDTR(on bool) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	if s, ok := c.rw.(DTRSetter); ok {
		return s.SetDTR(on)
	}
	return nil
}

// HasDTR indicates the underlying port has a data-terminal-ready line.
func (c *Channel) HasDTR() bool {
	_, ok := c.rw.(DTRSetter)
	return ok
}

// Close closes the channel on user request. Blocked readers return
// ErrChannelClosed and Err reports nil.
func (c *Channel) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.setClosedLocked(nil)
	c.lock.Unlock()
	return c.rw.Close()
}

// Done is closed when the channel closes for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns why the channel closed: nil for an explicit Close or
// while still open, the cause of a lost connection otherwise.
func (c *Channel) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

func (c *Channel) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

func (c *Channel) pump() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			glog.V(4).Infof("%s RX %q", c.name, buf[:n])
			c.lock.Lock()
			c.buf.Write(buf[:n])
			c.notifyLocked()
			c.lock.Unlock()
		}
		if err != nil {
			c.closeWith(fmt.Errorf("%w: read: %v", ErrChannelClosed, err))
			return
		}
	}
}

func (c *Channel) closeWith(err error) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	glog.Warningf("%s closed: %v", c.name, err)
	c.setClosedLocked(err)
	c.lock.Unlock()
	c.rw.Close()
}

func (c *Channel) setClosedLocked(err error) {
	c.closed, c.err = true, err
	c.notifyLocked()
	close(c.doneCh)
}

// notifyLocked wakes up all waiters.
func (c *Channel) notifyLocked() {
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
}

func trimLine(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return append([]byte(nil), line...)
}
