package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/spaceworks/sw2/pkg/liveness"
	"github.com/spaceworks/sw2/pkg/msgs"
)

// Topics relative to <prefix><station-id>/.
const (
	// EventTopic carries protobuf encoded msgs.EventRecord.
	EventTopic = "event"
	// StateTopic carries the retained liveness state.
	StateTopic = "state"
	// CommandTopic accepts the commands below.
	CommandTopic = "cmd"
)

// Commands accepted on CommandTopic.
const (
	CommandRequest = "request"
	CommandReset   = "reset"
)

// StateOffline is published as the will of the station.
const StateOffline = "offline"

// commandTimeout bounds an operation triggered by a remote command.
const commandTimeout = 30 * time.Second

type pubsub interface {
	Sub(topic string, handler Handler) *Subscription
	PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token
}

// Publisher implements liveness.EventHandler by publishing events to MQTT.
type Publisher struct {
	StationID string
	Operator  liveness.Operator

	queue *Queue
	pub   pubsub
	cmdCh chan string

	stateLock sync.Mutex
	state     string
}

// NewPublisher creates a Publisher connecting to brokerURL.
// The retained state topic is set to offline when the station disappears.
func NewPublisher(brokerURL, stationID string, op liveness.Operator) (*Publisher, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(brokerURL, "client-id=") {
		opts.SetClientID("sw2-" + stationID)
	}
	opts.SetBinaryWill(prefix+stationID+"/"+StateTopic, []byte(StateOffline), 1, true)
	q := NewQueue(opts, prefix)
	p := newPublisher(q, stationID, op)
	p.queue = q
	q.OnConnect = func(*Queue) { p.republishState() }
	return p, nil
}

func newPublisher(pub pubsub, stationID string, op liveness.Operator) *Publisher {
	p := &Publisher{
		StationID: stationID,
		Operator:  op,
		pub:       pub,
		cmdCh:     make(chan string, 4),
	}
	pub.Sub(p.topic(CommandTopic), p.handleCommand)
	return p
}

// Name implements framework.Named.
func (p *Publisher) Name() string {
	return "mqtt"
}

// HandleEvent implements liveness.EventHandler.
func (p *Publisher) HandleEvent(ctx context.Context, ev liveness.Event) {
	data, err := msgs.NewEventRecord(p.StationID, ev).Encode()
	if err != nil {
		glog.Errorf("encode event %s: %v", ev.Kind, err)
		return
	}
	p.publish(EventTopic, data, 0, false)
	switch ev.Kind {
	case liveness.EventLiveness, liveness.EventConnectionLost:
		state := ev.State.String()
		p.stateLock.Lock()
		p.state = state
		p.stateLock.Unlock()
		p.publish(StateTopic, []byte(state), 1, true)
	}
}

// republishState restores the retained state after the broker saw the
// will of a previous connection.
func (p *Publisher) republishState() {
	p.stateLock.Lock()
	state := p.state
	p.stateLock.Unlock()
	if state != "" {
		p.publish(StateTopic, []byte(state), 1, true)
	}
}

// Run connects to the broker and executes remote commands until ctx is
// done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.queue != nil {
		token := p.queue.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return err
		}
		defer p.queue.Close()
		defer p.publish(StateTopic, []byte(StateOffline), 1, true)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-p.cmdCh:
			p.execute(ctx, cmd)
		}
	}
}

func (p *Publisher) topic(name string) string {
	return p.StationID + "/" + name
}

func (p *Publisher) publish(name string, payload []byte, qos byte, retain bool) {
	token := p.pub.PubWith(p.topic(name), payload, qos, retain)
	if qos > 0 {
		if token.WaitTimeout(time.Second) && token.Error() != nil {
			glog.Warningf("publish %s: %v", name, token.Error())
		}
	}
}

func (p *Publisher) handleCommand(topic string, payload []byte) {
	cmd := strings.TrimSpace(string(payload))
	select {
	case p.cmdCh <- cmd:
	default:
		glog.Warningf("command %q dropped, too many pending", cmd)
	}
}

func (p *Publisher) execute(ctx context.Context, cmd string) {
	if p.Operator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	var err error
	switch cmd {
	case CommandRequest:
		_, err = p.Operator.Request(ctx)
	case CommandReset:
		err = p.Operator.Reset(ctx)
	default:
		glog.Warningf("unknown command %q", cmd)
		return
	}
	if err != nil {
		glog.Warningf("command %s: %v", cmd, err)
	}
}
