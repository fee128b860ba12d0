// Package mqttbus implements bus.Bus over MQTT (github.com/eclipse/paho.mqtt.golang).
// MQTT has no native request/reply primitive, so each Request subscribes to
// a convention-based reply topic, publishes the request, and waits for the
// first reply or a timeout: a request on "execution.<uuid>" replies on
// "execution.<uuid>.reply".
package mqttbus

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/code0-tech/draco-adapter/internal/bus"
)

// Config configures the MQTT connection. DefaultTimeout bounds how long
// Request waits for a reply when ctx carries no earlier deadline.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	DefaultTimeout time.Duration
}

// Bus implements bus.Bus over a single shared MQTT client connection.
type Bus struct {
	client  mqtt.Client
	timeout time.Duration
}

func normalizeConfig(cfg Config) Config {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	return cfg
}

func New(cfg Config) (*Bus, error) {
	cfg = normalizeConfig(cfg)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetCleanSession(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqttbus: connect timed out to %s: %w", cfg.BrokerURL, bus.ErrTransportConnect)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbus: connect: %w: %w", bus.ErrTransportConnect, err)
	}

	return &Bus{client: client, timeout: cfg.DefaultTimeout}, nil
}

// ReplyTopic derives the convention-based reply topic for a request topic:
// "execution.<uuid>" replies on "execution.<uuid>.reply".
func ReplyTopic(topic string) string { return topic + ".reply" }

// Request implements bus.Bus. It subscribes to "<topic>.reply" before
// publishing to topic, so a fast executor reply can never race ahead of
// the subscription; the subscription is torn down once the first reply (or
// the timeout) arrives.
func (b *Bus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	replyTopic := ReplyTopic(topic)
	replies := make(chan []byte, 1)

	subToken := b.client.Subscribe(replyTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case replies <- msg.Payload():
		default:
		}
	})
	if !subToken.WaitTimeout(b.timeout) {
		return nil, fmt.Errorf("mqttbus: subscribe to %s timed out: %w", replyTopic, bus.ErrTransportRequest)
	}
	if err := subToken.Error(); err != nil {
		return nil, fmt.Errorf("mqttbus: subscribe to %s: %w: %w", replyTopic, bus.ErrTransportRequest, err)
	}
	defer b.client.Unsubscribe(replyTopic)

	pubToken := b.client.Publish(topic, 1, false, payload)
	if !pubToken.WaitTimeout(b.timeout) {
		return nil, fmt.Errorf("mqttbus: publish to %s timed out: %w", topic, bus.ErrTransportRequest)
	}
	if err := pubToken.Error(); err != nil {
		return nil, fmt.Errorf("mqttbus: publish to %s: %w: %w", topic, bus.ErrTransportRequest, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, bus.ErrTimeout
	case <-timer.C:
		return nil, bus.ErrTimeout
	}
}

func (b *Bus) Close() error {
	b.client.Disconnect(250)
	return nil
}

var _ bus.Bus = (*Bus)(nil)
