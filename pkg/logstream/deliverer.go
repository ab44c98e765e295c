package logstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LogLine is one function invocation's console output, timestamped and
// tagged with the function path that produced it.
type LogLine struct {
	Path      string    `json:"path"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// Deliverer sends a batch of log lines to one configured sink. Errors
// are treated as delivery failures; the caller decides how that affects
// the sink's lifecycle state.
type Deliverer interface {
	Deliver(ctx context.Context, config json.RawMessage, lines []LogLine) error
}

// webhookConfig is the only destination shape this deliverer
// understands: a plain HTTP POST target, matching the simplest sink
// kind log_streaming.rs supports (a webhook destination) rather than
// the full Datadog/S3-specific variants original_source models as
// separate crates this repo never pulled in.
type webhookConfig struct {
	URL string `json:"url"`
}

// HTTPDeliverer posts each batch as a JSON array of LogLine to the
// sink's configured webhook URL.
type HTTPDeliverer struct {
	client *http.Client
}

func NewHTTPDeliverer() *HTTPDeliverer {
	return &HTTPDeliverer{client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, config json.RawMessage, lines []LogLine) error {
	var cfg webhookConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("logstream: decode sink config: %w", err)
	}
	if cfg.URL == "" {
		return fmt.Errorf("logstream: sink config has no url")
	}

	body, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("logstream: encode log batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("logstream: deliver to %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logstream: sink %s returned status %d", cfg.URL, resp.StatusCode)
	}
	return nil
}
