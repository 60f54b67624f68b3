package announce

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/dbscope/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Announcer publishes lifecycle events to an MQTT broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Announcer struct {
	client pahomqtt.Client
	cfg    config.AnnounceConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex
}

// event is the JSON payload of one lifecycle announcement.
type event struct {
	Event     string `json:"event"`
	Engine    string `json:"engine,omitempty"`
	Driver    string `json:"driver,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Connect establishes a connection to the MQTT broker.
//
// It configures a Last Will and Testament so the retained status topic
// flips to offline if dbscope disconnects unexpectedly, then publishes the
// online status.
//
// Parameters:
//   - cfg: Announce configuration from config.yaml
//
// Returns:
//   - *Announcer: Connected announcer ready for use
//   - error: ErrDisabled if announcements are off, or ErrConnectionFailed
func Connect(cfg config.AnnounceConfig) (*Announcer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(statusTopic(cfg.TopicPrefix), statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)

	a := &Announcer{cfg: cfg}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		a.connMu.Lock()
		a.connected = true
		a.connMu.Unlock()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, _ error) {
		a.connMu.Lock()
		a.connected = false
		a.connMu.Unlock()
	})

	a.client = pahomqtt.NewClient(opts)
	token := a.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	a.connMu.Lock()
	a.connected = true
	a.connMu.Unlock()

	// Retained online status so late subscribers see the current state.
	a.publish(statusTopic(cfg.TopicPrefix), statusPayload(cfg.Broker.ClientID, "online", ""), true)

	return a, nil
}

// EngineUp announces that an engine's pool opened successfully.
func (a *Announcer) EngineUp(name, driver string) {
	a.publishEvent(engineTopic(a.cfg.TopicPrefix, name), event{
		Event:  "engine_up",
		Engine: name,
		Driver: driver,
	})
}

// EngineDown announces that an engine was disposed.
func (a *Announcer) EngineDown(name, driver string) {
	a.publishEvent(engineTopic(a.cfg.TopicPrefix, name), event{
		Event:  "engine_down",
		Engine: name,
		Driver: driver,
	})
}

// FinalizeError announces a session finalization failure.
func (a *Announcer) FinalizeError(err error) {
	a.publishEvent(sessionTopic(a.cfg.TopicPrefix), event{
		Event: "finalize_error",
		Error: err.Error(),
	})
}

// publishEvent marshals and publishes one lifecycle event.
func (a *Announcer) publishEvent(topic string, e event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	a.publish(topic, string(payload), false)
}

// publish sends a payload with the configured QoS, waiting briefly for the
// acknowledgment. Events are best-effort; a slow broker must not stall the
// caller.
func (a *Announcer) publish(topic, payload string, retained bool) {
	if !a.IsConnected() {
		return
	}
	token := a.client.Publish(topic, byte(a.cfg.QoS), retained, payload)
	token.WaitTimeout(defaultPublishTimeout)
}

// Close gracefully disconnects from the MQTT broker.
//
// Publishes the retained offline status (distinct from the LWT crash
// status) before disconnecting.
//
// Returns:
//   - error: nil (disconnect on a closed connection is not an error)
func (a *Announcer) Close() error {
	if a.client == nil {
		return nil
	}

	if a.IsConnected() {
		token := a.client.Publish(statusTopic(a.cfg.TopicPrefix), byte(a.cfg.QoS), true,
			statusPayload(a.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	a.client.Disconnect(defaultDisconnectQuiesce)

	a.connMu.Lock()
	a.connected = false
	a.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (a *Announcer) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("announce health check: %w", ctx.Err())
	default:
	}

	if !a.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (a *Announcer) IsConnected() bool {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.connected && a.client.IsConnected()
}

// buildClientOptions creates paho MQTT options from dbscope config.
func buildClientOptions(cfg config.AnnounceConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// statusTopic is the retained online/offline status topic.
func statusTopic(prefix string) string {
	return prefix + "/status"
}

// engineTopic is the per-engine event topic.
func engineTopic(prefix, name string) string {
	return prefix + "/engine/" + name
}

// sessionTopic is the session finalization event topic.
func sessionTopic(prefix string) string {
	return prefix + "/session"
}

// statusPayload builds the retained status JSON.
func statusPayload(clientID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339))
}
