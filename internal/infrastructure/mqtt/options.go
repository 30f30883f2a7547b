package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns the tcp:// or ssl:// URL of the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps config onto paho options: clean session,
// auto-reconnect with backoff, optional credentials and TLS.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT has the broker announce this service offline if the
// connection drops without a clean Close.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.SystemStatus(), statusPayload(clientID, "offline", "unexpected_disconnect"), 1, true)
}

// statusPayload builds the retained status message.
func statusPayload(clientID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339))
}
