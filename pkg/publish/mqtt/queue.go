// Package mqtt publishes station events to an MQTT broker and accepts
// remote commands.
package mqtt

import (
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// ConnectHandler is to handle connect/disconnect events.
type ConnectHandler func(*Queue)

// Queue wraps MQTT client and dispatches messages by topic relative to
// TopicPrefix.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	subsLock sync.RWMutex
	subs     map[string][]*Subscription
}

// Subscription is a subscribed topic.
type Subscription struct {
	Token paho.Token

	queue   *Queue
	topic   string
	handler Handler
}

// MatchTopic matches topic with pattern, which may contain + and a
// trailing # wildcard.
func MatchTopic(topic, pattern string) bool {
	tokensT, tokensP := strings.Split(topic, "/"), strings.Split(pattern, "/")
	for i, token := range tokensP {
		if token == "#" && i+1 == len(tokensP) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensP) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions from URL.
// The path of the URL is the topic prefix, and query client-id sets the
// client ID.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, strings.TrimPrefix(u.Path, "/"), nil
}

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, subs: make(map[string][]*Subscription)}
	options.SetOnConnectHandler(q.onConnect)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes a topic.
func (q *Queue) Sub(topic string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, topic: topic, handler: handler}
	q.subsLock.Lock()
	newSub := len(q.subs[topic]) == 0
	q.subs[topic] = append(q.subs[topic], sub)
	q.subsLock.Unlock()

	if newSub && q.Client.IsConnected() {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+topic)
		sub.Token = q.Client.Subscribe(q.TopicPrefix+topic, 0, q.dispatch)
	} else {
		sub.Token = &paho.DummyToken{}
	}
	return sub
}

// Pub publishes to a topic.
func (q *Queue) Pub(topic string, payload []byte) paho.Token {
	return q.PubWith(topic, payload, 0, false)
}

// PubWith publishes with QoS and retain settings.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload)
}

// Resubscribe subscribes all existing topics, used after (re)connecting.
func (q *Queue) Resubscribe() paho.Token {
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for topic := range q.subs {
		filters[q.TopicPrefix+topic] = 0
	}
	q.subsLock.RUnlock()
	if len(filters) == 0 {
		return &paho.DummyToken{}
	}
	if glog.V(2) {
		for key := range filters {
			glog.Infof("SUB %q", key)
		}
	}
	return q.Client.SubscribeMultiple(filters, q.dispatch)
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("mqtt connected")
	q.Resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("mqtt connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

func (q *Queue) dispatch(c paho.Client, msg paho.Message) {
	q.deliver(msg.Topic(), msg.Payload())
}

// deliver calls the handlers of all subscriptions matching topic.
func (q *Queue) deliver(topic string, payload []byte) {
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(4).Infof("RCV %q", topic)
	var handlers []Handler
	q.subsLock.RLock()
	for pattern, subs := range q.subs {
		if MatchTopic(topic, pattern) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}
	q.subsLock.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Close unsubscribes the handler.
func (s *Subscription) Close() error {
	q := s.queue
	q.subsLock.Lock()
	subs := q.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	unsub := len(subs) == 0
	if unsub {
		delete(q.subs, s.topic)
	} else {
		q.subs[s.topic] = subs
	}
	q.subsLock.Unlock()
	if !unsub || !q.Client.IsConnected() {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", s.topic)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.topic)
	token.Wait()
	return token.Error()
}
