// Package mqtt owns the broker subscription lifecycle: connect, subscribe,
// dispatch, reconnect and shutdown.
package mqtt

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sitesense-collector/internal/observability/metrics"
	"sitesense-collector/internal/telemetry/decode"
)

// Connection states reported by the status endpoint.
const (
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateOffline    = "offline"
	StateClosing    = "closing"
)

const defaultReconnectDelay = 5 * time.Second

// Config describes the broker connection.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Topics         []string
	ReconnectDelay time.Duration
}

// Handler receives each inbound message. Dispatch is synchronous and must
// only enqueue; durable writes belong to the flush timer.
type Handler func(topic string, payload []byte)

// Manager owns the paho client and its subscription set.
type Manager struct {
	cfg    Config
	client mqtt.Client
	handle Handler
	logger *log.Logger
	state  atomic.Value
}

// NewManager constructs a connection manager. The client reconnects on its
// own after a fixed delay and re-subscribes through the connect handler.
func NewManager(cfg Config, handle Handler, logger *log.Logger) (*Manager, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt manager: empty broker url")
	}
	if handle == nil {
		return nil, errors.New("mqtt manager: nil handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	m := &Manager{cfg: cfg, handle: handle, logger: logger}
	m.state.Store(StateConnecting)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectDelay).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.ReconnectDelay).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(m.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	m.client = mqtt.NewClient(opts)
	return m, nil
}

// Start begins connecting to the broker. With connect retry enabled an
// unreachable broker keeps the attempt running in the background, so a nil
// return means connected or still connecting; an error is returned only for
// failures the client will not retry. Subscriptions are established by the
// connect handler so they survive reconnects.
func (m *Manager) Start() error {
	m.state.Store(StateConnecting)
	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.ReconnectDelay) {
		return nil
	}
	if err := token.Error(); err != nil {
		m.state.Store(StateOffline)
		return err
	}
	return nil
}

func (m *Manager) onConnect(client mqtt.Client) {
	m.state.Store(StateConnected)
	metrics.SetBrokerConnected(true)
	m.logger.Printf("mqtt manager: connected: broker=%s", m.cfg.BrokerURL)

	for _, topic := range m.cfg.Topics {
		if topic == "" || decode.ReservedTopic(topic) {
			continue
		}
		token := client.Subscribe(topic, 1, m.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Printf("mqtt manager: subscribe failed: topic=%s err=%v", topic, err)
			continue
		}
		m.logger.Printf("mqtt manager: subscribed: topic=%s", topic)
	}
}

func (m *Manager) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.handle(msg.Topic(), msg.Payload())
}

func (m *Manager) onConnectionLost(_ mqtt.Client, err error) {
	m.state.Store(StateOffline)
	metrics.SetBrokerConnected(false)
	m.logger.Printf("mqtt manager: connection lost, reconnecting: err=%v", err)
}

// Close stops accepting messages and disconnects.
func (m *Manager) Close() {
	if m == nil || m.client == nil {
		return
	}
	m.state.Store(StateClosing)
	m.client.Disconnect(250)
	metrics.SetBrokerConnected(false)
}

// State reports the current connection state.
func (m *Manager) State() string {
	if m == nil {
		return StateOffline
	}
	if s, ok := m.state.Load().(string); ok {
		return s
	}
	return StateOffline
}
