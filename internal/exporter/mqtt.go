package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nmslite/engine/internal/config"
)

const publishTimeout = 10 * time.Second

// MQTTClient is the part of mqtt.Client the publisher uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// NewMQTTClient builds a paho client for cfg. It does not connect.
func NewMQTTClient(cfg config.MQTTConfig) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(publishTimeout)
	return mqtt.NewClient(opts)
}

// Publisher periodically publishes one JSON snapshot per host to
// <prefix>/<hostname>/monitors.
type Publisher struct {
	client MQTTClient
	hosts  Hosts
	cfg    config.MQTTConfig
	logger *slog.Logger
}

func NewPublisher(client MQTTClient, hosts Hosts, cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		hosts:  hosts,
		cfg:    cfg,
		logger: logger.With("component", "mqtt_publisher", "broker", cfg.Broker),
	}
}

func (p *Publisher) Topic(hostname string) string {
	return fmt.Sprintf("%s/%s/monitors", p.cfg.TopicPrefix, hostname)
}

func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// PublishOnce sends the snapshot of every host. A failing host does not
// prevent the others from being published.
func (p *Publisher) PublishOnce() error {
	var errs []error
	for _, m := range p.hosts {
		payload, err := json.Marshal(Snapshot(m))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Hostname(), err))
			continue
		}

		token := p.client.Publish(p.Topic(m.Hostname()), p.cfg.QoS, false, payload)
		if !token.WaitTimeout(publishTimeout) {
			errs = append(errs, fmt.Errorf("%s: publish timed out", m.Hostname()))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Hostname(), err))
		}
	}
	return errors.Join(errs...)
}

// Run connects, then publishes every publish interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.Connect(); err != nil {
		return err
	}
	defer p.client.Disconnect(250)

	interval := p.cfg.PublishInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	p.logger.Info("MQTT publisher started", "interval", interval, "topic_prefix", p.cfg.TopicPrefix)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.PublishOnce(); err != nil {
				p.logger.Warn("Snapshot publish failed", "error", err)
			}
		}
	}
}
