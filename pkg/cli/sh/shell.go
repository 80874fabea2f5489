// Package sh provides the interactive shell operating a station.
package sh

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/spaceworks/sw2/pkg/channel"
	"github.com/spaceworks/sw2/pkg/liveness"
	"github.com/spaceworks/sw2/pkg/sim"
	"github.com/spaceworks/sw2/pkg/station"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	AutoConnect bool
	Verbose     bool

	Shell   *ishell.Shell
	Station *station.Station
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	evalOnly bool
	verbose  bool

	commands = []*ishell.Cmd{
		&PortsCmd,
		&ModesCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&StatusCmd,
		&PingCmd,
		&RequestCmd,
		&ResetCmd,
		&ExitCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&verbose, "verbose", verbose, "Print every ping timeout.")
}

// New creates a new shell operating a station built from conf.
func New(conf *station.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Verbose:     verbose,
		Shell:       ishell.New(),
	}
	s.Station = station.New(conf).AddSinks(liveness.HandleEventFunc(s.HandleEvent))
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	s.Shell.EOF(s.quit)
	return s
}

// ConfirmQuit decides whether to quit, asking for confirmation while a
// connection is active in an interactive shell.
func ConfirmQuit(connected, interactive bool, ask func(prompt string) string) bool {
	if !connected || !interactive {
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(ask("Connection is active, disconnect and quit? (y/N) ")))
	return answer == "y" || answer == "yes"
}

// quit is used by the exit command and on EOF.
func (s *Shell) quit(c *ishell.Context) {
	ask := func(prompt string) string {
		c.Print(prompt)
		line, err := c.ReadLineErr()
		if err != nil {
			// input is gone, nobody can answer.
			return "y"
		}
		return line
	}
	if !ConfirmQuit(s.Station.Status().Connected, s.Interactive, ask) {
		return
	}
	s.Station.Disconnect()
	c.Stop()
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects to the port in conf.
func (s *Shell) Connect(conf channel.Config) error {
	if err := s.Station.Connect(context.Background(), conf); err != nil {
		return err
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conf.Name()))
	return nil
}

// Disconnect closes the current connection.
func (s *Shell) Disconnect() error {
	s.Shell.SetPrompt(unconnectedPrompt)
	return s.Station.Disconnect()
}

// HandleEvent prints controller events.
func (s *Shell) HandleEvent(ctx context.Context, ev liveness.Event) {
	if msg := FormatEvent(ev, s.Verbose); msg != "" {
		s.Shell.Println(msg)
	}
	if ev.Kind == liveness.EventConnectionLost {
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// FormatEvent renders an event for display. Empty means the event is not
// displayed; ping timeouts only show in verbose mode.
func FormatEvent(ev liveness.Event, verbose bool) string {
	switch ev.Kind {
	case liveness.EventInfo:
		return "< " + ev.Line
	case liveness.EventLiveness:
		return "peer " + ev.State.String()
	case liveness.EventPingTimeout:
		if verbose {
			return "ping timeout"
		}
	case liveness.EventRequestTimeout:
		return "request timeout"
	case liveness.EventRequestRejected:
		return fmt.Sprintf("request rejected: %v", ev.Err)
	case liveness.EventFrame:
		return "frame: " + string(ev.Payload)
	case liveness.EventReset:
		return "peer reset"
	case liveness.EventConnectionLost:
		return fmt.Sprintf("connection lost: %v\nuse 'connect' to reconnect", ev.Err)
	case liveness.EventOpenFailure:
		return fmt.Sprintf("%v\ncheck the port and baud rate, see 'ports'", ev.Err)
	}
	return ""
}

// ParseConnectArgs parses PORT [BAUD] or sim [MODE] into conf, keeping
// the values in conf for omitted arguments.
func ParseConnectArgs(conf channel.Config, args []string) (channel.Config, error) {
	if len(args) == 0 {
		return conf, nil
	}
	if len(args) > 2 {
		return conf, errors.New("too many arguments")
	}
	conf.Port = args[0]
	if len(args) < 2 {
		return conf, nil
	}
	if conf.IsSim() {
		conf.SimMode = args[1]
		return conf, nil
	}
	baud, err := strconv.Atoi(args[1])
	if err != nil || baud <= 0 {
		return conf, fmt.Errorf("invalid baud rate %q", args[1])
	}
	conf.Baud = baud
	return conf, nil
}

// selectPort asks the user to choose a port and its baud rate or mode.
func (s *Shell) selectPort(c *ishell.Context, conf channel.Config) (channel.Config, error) {
	ports, err := channel.ListPorts()
	if err != nil {
		return conf, err
	}
	index := c.MultiChoice(ports, "Which port?")
	if index < 0 {
		return conf, errors.New("canceled")
	}
	conf.Port = ports[index]
	if conf.IsSim() {
		modes := sim.Modes()
		items := make([]string, len(modes))
		for n, mode := range modes {
			items[n] = mode + ": " + sim.ModeDescription(mode)
		}
		if index = c.MultiChoice(items, "Which mode?"); index < 0 {
			return conf, errors.New("canceled")
		}
		conf.SimMode = modes[index]
		return conf, nil
	}
	rates := channel.Baudrates()
	items := make([]string, len(rates))
	for n, rate := range rates {
		items[n] = strconv.Itoa(rate)
		if rate == conf.Baud {
			items[n] += " (current)"
		}
	}
	if index = c.MultiChoice(items, "Which baud rate?"); index < 0 {
		return conf, errors.New("canceled")
	}
	conf.Baud = rates[index]
	return conf, nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		conf := s.Station.Config.Channel
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", conf.Name())
		}
		if err := s.Connect(conf); err != nil && !s.Interactive {
			log.Fatalf("connect %q failed: %v", conf.Name(), err)
		}
	}

	if len(args) > 0 {
		err := s.Shell.Process(args...)
		s.Station.Disconnect()
		if err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		s.Station.Disconnect()
		return
	}
	log.Fatalln("command expected")
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if !ShellFrom(c).Station.Status().Connected {
			c.Err(station.ErrNotConnected)
			return
		}
		fn(c)
	}
}

func opContext() (context.Context, func()) {
	return context.WithTimeout(context.Background(), time.Minute)
}

var (
	// PortsCmd lists the ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "list serial ports and baud rates",
		Func: func(c *ishell.Context) {
			ports, err := channel.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
			rates := channel.Baudrates()
			items := make([]string, len(rates))
			for n, rate := range rates {
				items[n] = strconv.Itoa(rate)
			}
			c.Println("baud rates: " + strings.Join(items, " "))
		},
	}

	// ModesCmd lists the simulation modes.
	ModesCmd = ishell.Cmd{
		Name: "modes",
		Help: "list simulated device modes",
		Func: func(c *ishell.Context) {
			for _, mode := range sim.Modes() {
				c.Printf("%-8s %s\n", mode, sim.ModeDescription(mode))
			}
		},
	}

	// ConnectCmd connects a port.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "PORT [BAUD] | sim [MODE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			conf := s.Station.Config.Channel
			var err error
			if len(c.Args) == 0 && s.Interactive {
				conf, err = s.selectPort(c, conf)
			} else {
				conf, err = ParseConnectArgs(conf, c.Args)
			}
			if err != nil {
				c.Err(err)
				return
			}
			if err = s.Connect(conf); err != nil {
				// already reported by HandleEvent.
				return
			}
			s.Station.Config.Channel = conf
		},
	}

	// DisconnectCmd disconnects current port.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Disconnect(); err != nil {
				c.Err(err)
			}
		},
	}

	// StatusCmd prints the connection status.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Func: func(c *ishell.Context) {
			status := ShellFrom(c).Station.Status()
			if !status.Connected {
				c.Println("not connected")
				return
			}
			c.Printf("%s: peer %s, %d bytes buffered\n", status.Port, status.State, status.Buffered)
		},
	}

	// PingCmd pings the peer now.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Func: MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := opContext()
			defer cancel()
			if err := ShellFrom(c).Station.Ping(ctx); err != nil {
				c.Err(err)
				return
			}
			c.Println("peer " + ShellFrom(c).Station.Status().State.String())
		}),
	}

	// RequestCmd requests a frame.
	RequestCmd = ishell.Cmd{
		Name:    "request",
		Aliases: []string{"r", "frame"},
		Func: MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := opContext()
			defer cancel()
			// results are printed by HandleEvent.
			ShellFrom(c).Station.Request(ctx)
		}),
	}

	// ResetCmd resets the peer with DTR.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Func: MustBeConnected(func(c *ishell.Context) {
			ctx, cancel := opContext()
			defer cancel()
			if err := ShellFrom(c).Station.Reset(ctx); err != nil {
				c.Err(err)
			}
		}),
	}

	// ExitCmd confirms before quitting with an active connection.
	ExitCmd = ishell.Cmd{
		Name:    "exit",
		Aliases: []string{"quit", "q"},
		Help:    "exit the program",
		Func: func(c *ishell.Context) {
			ShellFrom(c).quit(c)
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(station.MustNewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
