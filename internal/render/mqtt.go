package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/monitoring"
)

const mqttPublishTimeout = 5 * time.Second

// MQTTConfig configures MQTTPublisher.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	// StatusInterval is the period of <topic>/status messages; 0 disables them.
	StatusInterval time.Duration
}

// ActivityMessage is published to <topic>/activity (retained) whenever the
// activity state flips, and to <topic>/status periodically.
type ActivityMessage struct {
	RunID       string    `json:"run_id"`
	Active      bool      `json:"active"`
	Threshold   float64   `json:"threshold"`
	ActiveCount int       `json:"active_count"`
	WindowLen   int       `json:"window_len"`
	Mode        string    `json:"mode"`
	Timestamp   time.Time `json:"timestamp"`
}

type publishFunc func(topic string, retained bool, payload []byte) error

// MQTTPublisher reports activity transitions to an MQTT broker.
type MQTTPublisher struct {
	topic          string
	runID          string
	statusInterval time.Duration
	publish        publishFunc
	disconnect     func()

	mu         sync.Mutex
	seen       bool
	lastActive bool
	lastStatus time.Time
}

// NewMQTTPublisher connects to cfg.Broker. Connection retries are handled
// by the paho client in the background.
func NewMQTTPublisher(cfg MQTTConfig, runID string) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "csimotion-" + shortID(runID)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Warnf("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttPublishTimeout) {
		monitoring.Logf("mqtt: %s not reachable yet, retrying in background", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	publish := func(topic string, retained bool, payload []byte) error {
		if !client.IsConnected() {
			return errors.New("mqtt not connected")
		}
		t := client.Publish(topic, 1, retained, payload)
		if !t.WaitTimeout(mqttPublishTimeout) {
			return fmt.Errorf("mqtt publish to %s timed out", topic)
		}
		return t.Error()
	}
	p := newMQTTPublisher(cfg, runID, publish)
	p.disconnect = func() { client.Disconnect(250) }
	return p, nil
}

func newMQTTPublisher(cfg MQTTConfig, runID string, publish publishFunc) *MQTTPublisher {
	topic := strings.TrimSuffix(cfg.Topic, "/")
	if topic == "" {
		topic = "csimotion"
	}
	return &MQTTPublisher{
		topic:          topic,
		runID:          runID,
		statusInterval: cfg.StatusInterval,
		publish:        publish,
	}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Render publishes on the first Tick, on every activity transition, and
// when the status interval has elapsed. State only advances once the
// corresponding publish has succeeded, so a failed message is retried on
// the next Tick.
func (p *MQTTPublisher) Render(_ context.Context, t csi.Tick) error {
	active := t.Result.Active()

	p.mu.Lock()
	defer p.mu.Unlock()

	transition := !p.seen || active != p.lastActive
	status := p.statusInterval > 0 && (p.lastStatus.IsZero() || t.Taken.Sub(p.lastStatus) >= p.statusInterval)
	if !transition && !status {
		return nil
	}

	payload, err := json.Marshal(ActivityMessage{
		RunID:       p.runID,
		Active:      active,
		Threshold:   t.Result.Threshold,
		ActiveCount: t.Result.ActiveCount(),
		WindowLen:   t.WindowLen,
		Mode:        t.ModeName,
		Timestamp:   t.Taken,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activity message: %w", err)
	}

	if transition {
		if err := p.publish(p.topic+"/activity", true, payload); err != nil {
			return fmt.Errorf("failed to publish activity: %w", err)
		}
		p.seen = true
		p.lastActive = active
	}
	if status {
		if err := p.publish(p.topic+"/status", false, payload); err != nil {
			return fmt.Errorf("failed to publish status: %w", err)
		}
		p.lastStatus = t.Taken
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.disconnect != nil {
		p.disconnect()
	}
}
