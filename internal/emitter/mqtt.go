package emitter

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes over a paho client with automatic reconnection.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *slog.Logger
}

// Dial connects to the broker. Connection loss after Dial is handled by
// paho's auto-reconnect; publishes fail while it is down.
func Dial(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	m := &MQTT{cfg: cfg, client: mqtt.NewClient(opts), logger: logger}

	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)
	token := m.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return m, nil
}

// Publish implements Publisher.
func (m *MQTT) Publish(topic string, qos byte, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	token := m.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Disconnect closes the connection with a short grace period.
func (m *MQTT) Disconnect() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
}
