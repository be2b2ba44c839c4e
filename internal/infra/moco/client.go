// Package moco provides a client for the Moco CRM/accounting API. Sync
// calls run on queue workers, so this client only needs to be correct and
// resilient, not fast.
package moco

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

var tracer = otel.Tracer("moco")

// Client wraps HTTP calls to the Moco API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a Moco client.
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

// doPost executes an authenticated POST and returns the response body.
func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		c.logger.Error("moco: failed to create request",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Token token=%s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("moco: request failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("moco: failed to read response body",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("moco: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("moco returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// create posts the payload and extracts the new entity's id.
func (c *Client) create(ctx context.Context, path string, payload any) (string, error) {
	var externalID string

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doPost(ctx, path, payload)
			if err != nil {
				return err
			}

			var created struct {
				ID json.Number `json:"id"`
			}
			if err := json.Unmarshal(body, &created); err != nil {
				return fmt.Errorf("failed to decode moco response: %w", err)
			}
			if created.ID.String() == "" {
				return fmt.Errorf("moco response has no id: %s", string(body))
			}
			externalID = created.ID.String()
			return nil
		})
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: "moco/" + path, Err: err}
	}
	return externalID, nil
}

// CreateCustomer creates a company record and returns its Moco id.
func (c *Client) CreateCustomer(ctx context.Context, customer *domain.MocoCustomer) (string, error) {
	ctx, span := tracer.Start(ctx, "Moco.CreateCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", customer.LeadID))

	return c.create(ctx, "companies", map[string]any{
		"name":  firstNonEmpty(customer.Company, customer.Name),
		"type":  "customer",
		"email": customer.Email,
		"info":  fmt.Sprintf("lead:%s", customer.LeadID),
	})
}

// CreateOffer creates an offer for an existing customer.
func (c *Client) CreateOffer(ctx context.Context, offer *domain.MocoOffer) (string, error) {
	ctx, span := tracer.Start(ctx, "Moco.CreateOffer")
	defer span.End()
	span.SetAttributes(attribute.String("deal.id", offer.DealID))

	return c.create(ctx, "offers", map[string]any{
		"company_id": offer.CustomerID,
		"title":      offer.Title,
		"value":      offer.Value,
	})
}

// CreateInvoice creates an invoice for an existing customer.
func (c *Client) CreateInvoice(ctx context.Context, invoice *domain.MocoInvoice) (string, error) {
	ctx, span := tracer.Start(ctx, "Moco.CreateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("deal.id", invoice.DealID))

	return c.create(ctx, "invoices", map[string]any{
		"company_id": invoice.CustomerID,
		"title":      invoice.Title,
		"value":      invoice.Value,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
