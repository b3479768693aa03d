package blossom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	valvePath      = "/bloom/valve"
	CommandTimeout = 3 * time.Second
)

var ErrNoAddress = errors.New("controller address not set")

type valveRequest struct {
	Valve    int `json:"valve"`
	Inverter int `json:"inverter"`
}

// Client sends valve commands to a Blossom controller on the LAN. The address is
// resolved on every call so a settings change takes effect immediately.
type Client struct {
	address    func() string
	httpClient *http.Client
}

func NewClient(address func() string) *Client {
	return &Client{
		address:    address,
		httpClient: &http.Client{Timeout: CommandTimeout},
	}
}

func (c *Client) Address() string {
	return strings.TrimSpace(c.address())
}

// SetValve posts {valve, inverter}. valve=0 with inverter=0 closes everything.
func (c *Client) SetValve(ctx context.Context, valve int, inverter int) error {
	addr := c.Address()
	if addr == "" {
		return ErrNoAddress
	}

	payload, err := json.Marshal(valveRequest{Valve: valve, Inverter: inverter})
	if err != nil {
		return fmt.Errorf("failed to marshal valve command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	url := baseURL(addr) + valvePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send valve command: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Int("valve", valve).
		Int("inverter", inverter).
		Int("status", resp.StatusCode).
		Msg("Valve command sent")

	return nil
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}
