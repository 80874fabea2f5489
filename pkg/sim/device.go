// Package sim provides a simulated peer device speaking the line protocol.
package sim

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Commands understood by the device and its liveness reply.
const (
	PingCommand    = "ping"
	PongReply      = "pong"
	RequestCommand = "frame"
)

// Modes of the simulated device.
const (
	// ModePong answers pings and frame requests.
	ModePong = "pong"
	// ModeChatty behaves like ModePong and also emits telemetry.
	ModeChatty = "chatty"
	// ModeSilent never answers.
	ModeSilent = "silent"
	// ModeNoPong answers pings with a status line instead of pong.
	ModeNoPong = "nopong"
	// ModeFlaky behaves like ModePong but drops the connection after
	// FlakyPings pings.
	ModeFlaky = "flaky"
)

// FlakyPings is the number of pings answered in ModeFlaky.
const FlakyPings = 3

// FrameSize is the number of samples in a frame (an 8x8 grid).
const FrameSize = 64

var modes = map[string]string{
	ModePong:   "answers ping and frame requests",
	ModeChatty: "like pong, with periodic telemetry lines",
	ModeSilent: "never answers",
	ModeNoPong: "answers ping without pong",
	ModeFlaky:  fmt.Sprintf("like pong, drops the link after %d pings", FlakyPings),
}

// Modes lists the supported modes.
func Modes() []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModeDescription describes a mode.
func ModeDescription(mode string) string {
	return modes[mode]
}

// telemetryInterval is the period of telemetry lines in ModeChatty.
const telemetryInterval = 250 * time.Millisecond

// Device is an in-memory peer implementing io.ReadWriteCloser from the
// host's point of view.
type Device struct {
	mode string
	pr   *io.PipeReader
	pw   *io.PipeWriter

	outCh  chan []byte
	doneCh chan struct{}

	lock   sync.Mutex
	inbuf  bytes.Buffer
	pings  int
	frames int
	temp   int
	closed bool
}

// NewDevice creates a device in the given mode.
func NewDevice(mode string) (*Device, error) {
	if _, ok := modes[mode]; !ok {
		return nil, fmt.Errorf("unknown simulation mode %q (available: %s)", mode, strings.Join(Modes(), ", "))
	}
	pr, pw := io.Pipe()
	d := &Device{
		mode:   mode,
		pr:     pr,
		pw:     pw,
		outCh:  make(chan []byte, 16),
		doneCh: make(chan struct{}),
		temp:   21,
	}
	go d.run()
	return d, nil
}

// Mode returns the device mode.
func (d *Device) Mode() string {
	return d.mode
}

// Read implements io.Reader.
func (d *Device) Read(p []byte) (int, error) {
	return d.pr.Read(p)
}

// Write implements io.Writer. Complete lines are handled as commands.
func (d *Device) Write(p []byte) (int, error) {
	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return 0, io.ErrClosedPipe
	}
	d.inbuf.Write(p)
	var cmds []string
	for {
		line, err := d.inbuf.ReadString('\n')
		if err != nil {
			// keep the incomplete line for the next write.
			d.inbuf.Reset()
			d.inbuf.WriteString(line)
			break
		}
		cmds = append(cmds, strings.TrimSpace(line))
	}
	d.lock.Unlock()
	for _, cmd := range cmds {
		d.handle(cmd)
	}
	return len(p), nil
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.closed {
		d.closed = true
		close(d.doneCh)
		d.pr.Close()
		d.pw.Close()
	}
	return nil
}

func (d *Device) drop() {
	glog.V(2).Infof("sim: dropping connection")
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.closed {
		d.closed = true
		close(d.doneCh)
		d.pw.CloseWithError(io.ErrUnexpectedEOF)
	}
}

func (d *Device) handle(cmd string) {
	if cmd == "" || d.mode == ModeSilent {
		return
	}
	switch cmd {
	case PingCommand:
		d.lock.Lock()
		d.pings++
		pings, temp := d.pings, d.nextTempLocked()
		d.lock.Unlock()
		switch d.mode {
		case ModeNoPong:
			d.send("status=booting")
		case ModeChatty:
			d.send("temp="+strconv.Itoa(temp), PongReply)
		case ModeFlaky:
			if pings > FlakyPings {
				d.drop()
				return
			}
			d.send(PongReply)
		default:
			d.send(PongReply)
		}
	case RequestCommand:
		if d.mode == ModeNoPong {
			return
		}
		d.send(d.frame())
	default:
		d.send("err unknown command: " + cmd)
	}
}

func (d *Device) frame() string {
	d.lock.Lock()
	d.frames++
	seq := d.frames
	d.lock.Unlock()
	samples := make([]string, FrameSize)
	for i := range samples {
		samples[i] = strconv.Itoa(20 + (i*7+seq)%10)
	}
	return strings.Join(samples, ",")
}

func (d *Device) nextTempLocked() int {
	d.temp = 20 + (d.temp-19)%5
	return d.temp
}

func (d *Device) send(lines ...string) {
	var b bytes.Buffer
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	select {
	case d.outCh <- b.Bytes():
	case <-d.doneCh:
	}
}

func (d *Device) run() {
	var telemetry <-chan time.Time
	if d.mode == ModeChatty {
		ticker := time.NewTicker(telemetryInterval)
		defer ticker.Stop()
		telemetry = ticker.C
	}
	for {
		select {
		case <-d.doneCh:
			return
		case b := <-d.outCh:
			if _, err := d.pw.Write(b); err != nil {
				return
			}
		case <-telemetry:
			d.lock.Lock()
			temp := d.nextTempLocked()
			d.lock.Unlock()
			if _, err := d.pw.Write([]byte("temp=" + strconv.Itoa(temp) + "\n")); err != nil {
				return
			}
		}
	}
}
