package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Connect dials the broker, retrying with exponential backoff until maxRetries is
// exhausted or ctx is done.
func Connect(ctx context.Context, cfg MQTTConfig, maxRetries uint64) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("Connected to MQTT broker")
	return client, nil
}

// MQTTPublisher sends events as JSON to a single topic at QoS 0.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

func NewMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

func (p *MQTTPublisher) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to encode event")
		return
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", p.topic).Str("kind", string(e.Kind)).Msg("Timed out publishing event")
		return
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", p.topic).Str("kind", string(e.Kind)).Msg("Failed to publish event")
	}
}

func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info().Msg("MQTT client disconnected")
	}
}
