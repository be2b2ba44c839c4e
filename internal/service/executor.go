package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var executorTracer = otel.Tracer("service/executor")

// Executor performs the external side effects that actions defer to the
// queue: email sends, CRM/accounting sync and notifications. It runs inside
// queue workers, so failures here are retried by the queue, not by rules.
type Executor struct {
	leads    port.LeadStore
	deals    port.DealStore
	mail     port.MailSender
	moco     port.MocoClient
	booking  port.BookingClient
	notifier port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewExecutor creates the side-effect executor.
func NewExecutor(
	leads port.LeadStore,
	deals port.DealStore,
	mail port.MailSender,
	moco port.MocoClient,
	booking port.BookingClient,
	notifier port.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		leads:    leads,
		deals:    deals,
		mail:     mail,
		moco:     moco,
		booking:  booking,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// SendTemplatedMail renders subject and body against the lead and sends.
func (x *Executor) SendTemplatedMail(ctx context.Context, leadID, subject, body string) (*domain.MailResult, error) {
	ctx, span := executorTracer.Start(ctx, "Executor.SendTemplatedMail")
	defer span.End()

	lead, err := x.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	tctx := TemplateContext(lead, nil, nil)

	res, err := x.mail.Send(ctx, &domain.MailMessage{
		To:      lead.Email,
		Subject: RenderTemplate(subject, tctx),
		HTML:    RenderTemplate(body, tctx),
	})
	if err != nil {
		x.metrics.IncrExternalError("mail")
		return nil, err
	}
	return res, nil
}

// SyncMoco creates the requested entity in the external system and persists
// the returned external ID back onto the lead when a customer was created.
func (x *Executor) SyncMoco(ctx context.Context, leadID, dealID, entityType string) error {
	ctx, span := executorTracer.Start(ctx, "Executor.SyncMoco")
	defer span.End()

	lead, err := x.leads.GetLead(ctx, leadID)
	if err != nil {
		return err
	}

	switch entityType {
	case "customer":
		if lead.ExternalID != "" {
			return nil
		}
		externalID, err := x.moco.CreateCustomer(ctx, &domain.MocoCustomer{
			Name:    strings.TrimSpace(lead.FirstName + " " + lead.LastName),
			Email:   lead.Email,
			Company: lead.Company,
			LeadID:  lead.ID,
		})
		if err != nil {
			x.metrics.IncrExternalError("moco")
			return err
		}
		return x.leads.SetLeadExternalID(ctx, lead.ID, externalID)

	case "offer", "invoice":
		if lead.ExternalID == "" {
			return &domain.ErrBusinessLogic{Op: "sync_moco",
				Message: fmt.Sprintf("lead %s has no external customer id", lead.ID)}
		}
		deal, err := x.deals.GetDeal(ctx, dealID)
		if err != nil {
			return err
		}
		title := fmt.Sprintf("%s - %s", lead.Company, time.Now().Format("2006-01")) // Moco naming convention
		if entityType == "offer" {
			_, err = x.moco.CreateOffer(ctx, &domain.MocoOffer{
				CustomerID: lead.ExternalID,
				Title:      title,
				Value:      deal.Value,
				DealID:     deal.ID,
			})
		} else {
			_, err = x.moco.CreateInvoice(ctx, &domain.MocoInvoice{
				CustomerID: lead.ExternalID,
				Title:      title,
				Value:      deal.Value,
				DealID:     deal.ID,
			})
		}
		if err != nil {
			x.metrics.IncrExternalError("moco")
			return err
		}
		return nil

	default:
		return &domain.ErrValidation{Field: "entity_type",
			Message: fmt.Sprintf("unknown moco entity %q", entityType)}
	}
}

// CreateBookingLink returns a scheduling link for the lead.
func (x *Executor) CreateBookingLink(ctx context.Context, leadID string) (*domain.BookingLink, error) {
	ctx, span := executorTracer.Start(ctx, "Executor.CreateBookingLink")
	defer span.End()

	link, err := x.booking.GenerateBookingLink(ctx, leadID)
	if err != nil {
		x.metrics.IncrExternalError("booking")
		return nil, err
	}
	return link, nil
}

// Notify delivers a message to a channel.
func (x *Executor) Notify(ctx context.Context, channel, message string) error {
	if err := x.notifier.Send(ctx, channel, message); err != nil {
		x.metrics.IncrExternalError("notify")
		return err
	}
	return nil
}
