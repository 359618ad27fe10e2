package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DEFAULT_MQTT_PORT      = 1883
	DEFAULT_MQTT_CLIENT_ID = "hydro-exporter"
	DEFAULT_TOPIC_PREFIX   = "hydro"
	DEFAULT_STATION_ID     = "home"
	publishTimeout         = 5 * time.Second
)

var ErrNotConnected = errors.New("mqtt client not connected")

type (
	Config struct {
		Broker      string
		Port        int
		ClientID    string
		TopicPrefix string
		StationID   string
	}

	// Telemetry is the JSON payload published for each batch of readings.
	Telemetry struct {
		StationID string             `json:"station_id"`
		Timestamp time.Time          `json:"timestamp"`
		Readings  map[string]float64 `json:"readings"`
	}

	Client struct {
		client    mqtt.Client
		config    Config
		mu        sync.RWMutex
		connected bool
		stopCh    chan struct{}
		stopOnce  sync.Once
	}
)

// LoadConfigFromEnv reads the MQTT settings. ok is false when MQTT_BROKER is
// unset, which disables the telemetry sink.
func LoadConfigFromEnv() (config Config, ok bool, err error) {
	config.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if len(config.Broker) == 0 {
		return config, false, nil
	}

	config.Port = DEFAULT_MQTT_PORT
	if portStr := strings.TrimSpace(os.Getenv("MQTT_PORT")); len(portStr) != 0 {
		config.Port, err = strconv.Atoi(portStr)
		if err != nil {
			return config, false, fmt.Errorf("invalid MQTT_PORT %q: %w", portStr, err)
		}
	}

	config.ClientID = envOrDefault("MQTT_CLIENT_ID", DEFAULT_MQTT_CLIENT_ID)
	config.TopicPrefix = envOrDefault("MQTT_TOPIC_PREFIX", DEFAULT_TOPIC_PREFIX)
	config.StationID = envOrDefault("MQTT_STATION_ID", DEFAULT_STATION_ID)

	return config, true, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if len(value) == 0 {
		return fallback
	}

	return value
}

func NewClient(config Config) *Client {
	c := &Client{
		config: config,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", config.Broker, config.Port))
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		slog.Info("mqtt connected", "broker", config.Broker, "port", config.Port)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		slog.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial connection, respecting ctx and Disconnect.
// The paho client keeps retrying internally until then.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return errors.New("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return errors.New("client stopped")
		default:
		}
	}
}

// Topic is where readings for the configured station are published.
func (c *Client) Topic() string {
	return fmt.Sprintf("%s/%s/readings", c.config.TopicPrefix, c.config.StationID)
}

// Publish sends one batch of readings with QoS 1.
func (c *Client) Publish(readings ...sensor.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(newTelemetry(c.config.StationID, time.Now().UTC(), readings))
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	topic := c.Topic()
	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}

	slog.Debug("published telemetry", "topic", topic, "readings", len(readings))
	return nil
}

func newTelemetry(stationID string, ts time.Time, readings []sensor.Reading) Telemetry {
	t := Telemetry{
		StationID: stationID,
		Timestamp: ts,
		Readings:  make(map[string]float64, len(readings)),
	}

	for _, r := range readings {
		t.Readings[r.Name] = r.Value
	}

	return t
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	slog.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
