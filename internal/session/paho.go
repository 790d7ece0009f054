package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ehrlich-b/clicker/internal/config"
)

const (
	publishTimeout = 10 * time.Second
	dialTimeout    = 30 * time.Second
)

// pahoBroker adapts a paho client to Broker. Paho's own reconnect logic is
// disabled; the session decides when to reconnect.
type pahoBroker struct {
	client mqtt.Client
	log    *slog.Logger
}

// DialPaho builds a paho-backed Broker. It does not connect.
func DialPaho(opts BrokerOptions) (Broker, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("broker config is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dial := opts.DialContext
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(BrokerURL(cfg))
	o.SetClientID(opts.ClientID)
	o.SetProtocolVersion(4)
	o.SetKeepAlive(cfg.KeepaliveDuration())
	o.SetCleanSession(true)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = dialTimeout
	}
	o.SetConnectTimeout(timeout)
	o.SetCustomOpenConnectionFn(openConnection(dial))
	if w := opts.Will; w != nil {
		o.SetBinaryWill(w.Topic, w.Payload, qosAtLeastOnce, w.Retained)
	}

	hooks := opts.Hooks
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	o.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		if hooks.OnMessage != nil {
			hooks.OnMessage(m.Topic(), m.Payload())
		}
	})

	return &pahoBroker{client: mqtt.NewClient(o), log: log}, nil
}

// BrokerURL is the broker address paho is given: tcp://host:port or
// ws://host:port/path.
func BrokerURL(cfg *config.Config) string {
	hostPort := cfg.Addr()
	if cfg.Transport == config.TransportWebsockets {
		path := cfg.WSPath
		if path == "" {
			path = "/mqtt"
		}
		return "ws://" + hostPort + path
	}
	return "tcp://" + hostPort
}

// openConnection dials TCP directly and WebSockets through coder/websocket
// with the "mqtt" subprotocol.
func openConnection(dial func(ctx context.Context, network, addr string) (net.Conn, error)) mqtt.OpenConnectionFunc {
	return func(uri *url.URL, options mqtt.ClientOptions) (net.Conn, error) {
		timeout := options.ConnectTimeout
		if timeout <= 0 {
			timeout = dialTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		switch uri.Scheme {
		case "ws", "wss":
			ws, _, err := websocket.Dial(ctx, uri.String(), &websocket.DialOptions{
				Subprotocols: []string{"mqtt"},
				HTTPClient: &http.Client{
					Transport: &http.Transport{DialContext: dial},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("websocket dial: %w", err)
			}
			return websocket.NetConn(context.Background(), ws, websocket.MessageBinary), nil
		default:
			return dial(ctx, "tcp", uri.Host)
		}
	}
}

func (b *pahoBroker) Connect(timeout time.Duration) error {
	tok := b.client.Connect()
	if !tok.WaitTimeout(timeout) {
		return ErrConnectTimeout
	}
	return tok.Error()
}

func (b *pahoBroker) Disconnect(quiesce time.Duration) {
	b.client.Disconnect(uint(quiesce.Milliseconds()))
}

func (b *pahoBroker) Subscribe(topic string, qos byte, timeout time.Duration) error {
	tok := b.client.Subscribe(topic, qos, nil)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *pahoBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := b.client.Publish(topic, qos, retained, payload)
	go func() {
		if tok.WaitTimeout(publishTimeout) && tok.Error() != nil {
			b.log.Warn("publish failed", "topic", topic, "err", tok.Error())
		}
	}()
	return nil
}
