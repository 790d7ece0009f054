package session

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ehrlich-b/clicker/internal/config"
)

// QoS used for every publish and subscription (at least once).
const qosAtLeastOnce byte = 1

// Will is the last-will message the broker publishes for a vanished client.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Hooks are called by a Broker from its network goroutine.
type Hooks struct {
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte)
}

// BrokerOptions is everything needed to open one broker connection.
type BrokerOptions struct {
	Config   *config.Config
	ClientID string
	Will     *Will // nil registers no will
	Hooks    Hooks
	// ConnectTimeout bounds opening the network connection.
	ConnectTimeout time.Duration
	DialContext    func(ctx context.Context, network, addr string) (net.Conn, error)
	Logger         *slog.Logger
}

// Broker is one MQTT connection. Connect may be called again after the
// connection is lost; a clean Disconnect cancels the will.
type Broker interface {
	// Connect performs one connection attempt and blocks until it completes,
	// fails, or timeout elapses.
	Connect(timeout time.Duration) error
	Disconnect(quiesce time.Duration)
	// Subscribe blocks until the broker acknowledges or timeout elapses.
	Subscribe(topic string, qos byte, timeout time.Duration) error
	// Publish queues a message and returns without waiting for the broker.
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DialFunc creates a Broker. Sessions use the paho client unless a test
// supplies its own.
type DialFunc func(opts BrokerOptions) (Broker, error)
