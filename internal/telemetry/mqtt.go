// Package telemetry publishes daemon lifecycle and connection events to an
// MQTT broker so external dashboards can watch a fleet of servers.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/util"
)

// MQTT topics.
const (
	TopicServerStatus = "spile/server/status"
	TopicConnections  = "spile/server/connections"
	TopicFailures     = "spile/server/failures"
)

// MQTTHandler manages the broker connection and publishes telemetry
// events.
type MQTTHandler struct {
	cfg    *config.Config
	bus    *events.Bus
	client mqtt.Client

	// Metadata included in every message.
	metadata map[string]any
}

// NewMQTTHandler creates the telemetry handler. Callers must not construct
// one when telemetry is disabled in the config.
func NewMQTTHandler(cfg *config.Config, bus *events.Bus) (*MQTTHandler, error) {
	if !cfg.MQTT.Enabled {
		return nil, fmt.Errorf("mqtt telemetry is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]any{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"server":    cfg.Server.Name,
		"version":   cfg.Server.Version,
		"cpu_cores": sysInfo.CPUCores,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		bus:      bus,
		metadata: metadata,
	}

	scheme := "tcp"
	if cfg.MQTT.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTT.Broker, cfg.MQTT.Port))

	if cfg.MQTT.ClientID != "" {
		opts.SetClientID(cfg.MQTT.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("spile-%s", sysInfo.Hostname))
	}

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.MQTT.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if cfg.MQTT.CertFile != "" && cfg.MQTT.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.MQTT.CertFile, cfg.MQTT.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load mqtt tls certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects to the broker, wires the event subscriptions and blocks
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.MQTT.Broker).
		Int("port", h.cfg.MQTT.Port).
		Msg("connecting to mqtt broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	h.subscribeEvents()
	h.publishStatus("running")

	<-ctx.Done()

	h.publishStatus("stopping")
	h.client.Disconnect(5000)
	log.Info().Msg("mqtt disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.bus.Subscribe(events.EventConnectionOpened, "mqtt.connectionOpened", h.onConnection("opened"))
	h.bus.Subscribe(events.EventConnectionClosed, "mqtt.connectionClosed", h.onConnection("closed"))
	h.bus.Subscribe(events.EventCriticalFailure, "mqtt.criticalFailure", h.onFailure)
	h.bus.Subscribe(events.EventShutdown, "mqtt.shutdown", h.onShutdown)
}

// publish sends a JSON message to a topic with QoS 1.
func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("marshal mqtt message failed")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// buildMessage combines the static metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload any) map[string]any {
	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onConnection(kind string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicConnections, map[string]any{
			"event":   "connection_" + kind,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onFailure(ctx context.Context, event events.Event) error {
	h.publish(TopicFailures, event.Payload)
	return nil
}

func (h *MQTTHandler) onShutdown(ctx context.Context, event events.Event) error {
	h.publish(TopicServerStatus, map[string]any{
		"event":   "shutdown_requested",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) publishStatus(state string) {
	h.publish(TopicServerStatus, map[string]any{"state": state})
}
