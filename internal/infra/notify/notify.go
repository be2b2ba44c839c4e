// Package notify delivers channel messages through a Slack-compatible
// incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notify")

// Client posts messages to an incoming-webhook endpoint.
type Client struct {
	httpClient *http.Client
	webhookURL string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a notification client.
func NewClient(httpClient *http.Client, webhookURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		webhookURL: webhookURL,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// Send posts one message to the channel.
func (c *Client) Send(ctx context.Context, channel, message string) error {
	ctx, span := tracer.Start(ctx, "Notify.Send")
	defer span.End()
	span.SetAttributes(attribute.String("channel", channel))

	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return err
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Error("notify: request failed", zap.Error(err))
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				c.logger.Warn("notify: non-2xx response",
					zap.Int("status", resp.StatusCode),
					zap.String("body", string(body)),
				)
				return fmt.Errorf("notify returned status %d", resp.StatusCode)
			}
			return nil
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "notify", Err: err}
	}
	return nil
}
