package mqtt

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	DefaultClientID   = "fourbuttons"
	DefaultBufferSize = 256

	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Config describes the broker connection.
type Config struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	BufferSize int
}

// conn is the part of paho.Client the publisher uses.
type conn interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are buffered and replayed in order on reconnect.
type RealPublisher struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	client conn
	buffer *ringBuffer
}

// NewRealPublisher connects to the broker. The connection is retried in
// the background, so an unreachable broker is not an error.
func NewRealPublisher(cfg Config, log *zap.SugaredLogger) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{log: log, buffer: newRingBuffer(cfg.BufferSize)}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "connection lost"})
	if err != nil {
		return nil, errors.Wrap(err, "format will payload")
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "error", err)
		})

	client := paho.NewClient(opts)
	p.client = client
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to broker %s", cfg.Broker)
	}
	return p, nil
}

// newPublisher wraps an existing connection.
func newPublisher(c conn, size int, log *zap.SugaredLogger) *RealPublisher {
	return &RealPublisher{client: c, buffer: newRingBuffer(size), log: log}
}

// Publish sends an activity event, QoS 1, not retained.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return errors.Wrap(err, "format payload")
	}
	return p.send(bufferedMsg{topic: Topic, payload: payload, qos: 1})
}

// PublishSystem sends a lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		if p.buffer.push(msg) {
			p.log.Debugw("mqtt buffer full, dropped oldest message")
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Newf("publish to %s timed out", msg.topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", msg.topic)
	}
	return nil
}

// onConnect replays everything buffered while disconnected.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	msgs, dropped := p.buffer.drain()
	p.mu.Unlock()

	p.log.Infow("mqtt connected", "buffered", len(msgs), "dropped", dropped)
	for _, msg := range msgs {
		if err := p.publish(msg); err != nil {
			p.log.Warnw("failed to replay buffered message", "topic", msg.topic, "error", err)
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects, allowing a second for in-flight messages.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
