// Package mail sends transactional email through an HTTP mail API.
package mail

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
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mail")

// Client posts messages to the mail provider.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	defaultFrom string
	cb          *gobreaker.CircuitBreaker
	cfg         resilience.Config
	logger      *zap.Logger
}

// NewClient creates a mail client.
func NewClient(httpClient *http.Client, baseURL, apiKey, defaultFrom string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		apiKey:      apiKey,
		defaultFrom: defaultFrom,
		cb:          cb,
		cfg:         cfg,
		logger:      logger,
	}
}

// Send delivers one message and returns the provider's message id.
func (c *Client) Send(ctx context.Context, msg *domain.MailMessage) (*domain.MailResult, error) {
	ctx, span := tracer.Start(ctx, "Mail.Send")
	defer span.End()

	if msg.From == "" {
		msg.From = c.defaultFrom
	}

	var result *domain.MailResult
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			payload, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/v3/mail/send", c.baseURL), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Error("mail: request failed", zap.Error(err))
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.logger.Warn("mail: non-2xx response",
					zap.Int("status", resp.StatusCode),
					zap.String("body", string(body)),
				)
				return fmt.Errorf("mail returned status %d", resp.StatusCode)
			}

			result = &domain.MailResult{
				Success:   true,
				MessageID: resp.Header.Get("X-Message-Id"),
			}
			return nil
		})
	})
	if err != nil {
		return &domain.MailResult{Success: false, Error: err.Error()},
			&domain.ErrExternalService{Service: "mail", Err: err}
	}
	return result, nil
}
