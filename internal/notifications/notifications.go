package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
)

const DefaultServer = "https://ntfy.sh"

type Config struct {
	Server string `yaml:"server"`
	Topic  string `yaml:"topic"`
}

// Notifier pushes operator alerts to an ntfy topic.
type Notifier struct {
	client *http.Client
	server string
	topic  string
}

// New returns nil when no topic is configured.
func New(cfg Config) *Notifier {
	if cfg.Topic == "" {
		log.Debug().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}
	server := strings.TrimRight(cfg.Server, "/")
	if server == "" {
		server = DefaultServer
	}

	log.Info().
		Str("server", server).
		Str("topic", cfg.Topic).
		Msg("Ntfy notifications initialized")

	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		server: server,
		topic:  cfg.Topic,
	}
}

// Send publishes one notification.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// Publish alerts on failed and rain-skipped runs. Other events are ignored.
func (n *Notifier) Publish(e events.Event) {
	var title, message string
	switch e.Kind {
	case events.KindRunFailed:
		title = fmt.Sprintf("Zone %d did not water", e.Zone)
		message = e.Error
	case events.KindSkipped:
		title = fmt.Sprintf("Zone %d skipped", e.Zone)
		message = e.Reason
	default:
		return
	}

	if err := n.Send(context.Background(), title, message); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Int("zone", e.Zone).Msg("Failed to send notification")
	}
}
