// Package booking generates scheduling links via the booking provider API.
package booking

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

var tracer = otel.Tracer("booking")

// Client wraps the booking provider's single-use link endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a booking client.
func NewClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// GenerateBookingLink creates a single-use scheduling link for the lead.
func (c *Client) GenerateBookingLink(ctx context.Context, leadID string) (*domain.BookingLink, error) {
	ctx, span := tracer.Start(ctx, "Booking.GenerateBookingLink")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", leadID))

	var link *domain.BookingLink
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			payload, err := json.Marshal(map[string]any{
				"max_event_count": 1,
				"metadata":        map[string]string{"lead_id": leadID},
			})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/scheduling_links", c.baseURL), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Error("booking: request failed", zap.Error(err))
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.logger.Warn("booking: non-2xx response",
					zap.Int("status", resp.StatusCode),
					zap.String("body", string(body)),
				)
				return fmt.Errorf("booking returned status %d", resp.StatusCode)
			}

			var created struct {
				Resource struct {
					ID  string `json:"id"`
					URL string `json:"booking_url"`
				} `json:"resource"`
			}
			if err := json.Unmarshal(body, &created); err != nil {
				return fmt.Errorf("failed to decode booking response: %w", err)
			}
			link = &domain.BookingLink{ID: created.Resource.ID, URL: created.Resource.URL}
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "booking", Err: err}
	}
	return link, nil
}
