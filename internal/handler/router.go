package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/korulabs/lead-engine/internal/domain"
	"github.com/korulabs/lead-engine/internal/infra/observability"
	"github.com/korulabs/lead-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services bundles everything the HTTP layer exposes.
type Services struct {
	Events *service.EventService
	Router *service.Router
	Intent *service.IntentService
	Deals  *service.DealService
	Scores *service.ScoreService
	Rules  *service.RuleRepository
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, metrics *observability.Metrics, pinger interface{ PingContext(context.Context) error }, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(pinger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Events
		// POST /v1/events
		// =============================================
		r.Post("/events", ingestEventHandler(svcs.Events, logger))

		// =============================================
		// Leads
		// =============================================
		r.Post("/leads/{leadId}/route", evaluateRouteHandler(svcs.Router, logger))
		r.Post("/leads/{leadId}/route/manual", manualRouteHandler(svcs.Router, logger))
		r.Post("/leads/{leadId}/intent/recalculate", recalcIntentHandler(svcs.Intent, logger))
		r.Post("/leads/{leadId}/intent/reset", resetIntentHandler(svcs.Intent, logger))
		r.Post("/leads/{leadId}/score", updateScoreHandler(svcs.Scores, logger))

		// =============================================
		// Deals
		// =============================================
		r.Post("/deals/{dealId}/stage", moveStageHandler(svcs.Deals, logger))
		r.Post("/deals/{dealId}/close", closeDealHandler(svcs.Deals, logger))
		r.Post("/deals/{dealId}/reopen", reopenDealHandler(svcs.Deals, logger))

		// =============================================
		// Rules & stats
		// =============================================
		r.Post("/rules/reload", reloadRulesHandler(svcs.Rules, logger))
		r.Get("/stats", statsHandler(metrics))
	})

	return r
}

// ============================================================
// Events — POST /v1/events
// ============================================================

func ingestEventHandler(svc *service.EventService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/events")
		defer span.End()

		var req service.EventInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("event.type", req.Type))

		result, err := svc.Ingest(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		status := http.StatusOK
		if result.LeadCreated {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
	}
}

// ============================================================
// Leads
// ============================================================

func evaluateRouteHandler(router *service.Router, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/route")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		if leadID == "" {
			writeError(w, http.StatusBadRequest, "leadId is required")
			return
		}
		span.SetAttributes(attribute.String("lead.id", leadID))

		result, err := router.EvaluateAndRoute(ctx, leadID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func manualRouteHandler(router *service.Router, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/route/manual")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		var req struct {
			Pipeline string `json:"pipeline"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Pipeline == "" {
			writeError(w, http.StatusBadRequest, "pipeline is required")
			return
		}

		result, err := router.ManualRoute(ctx, leadID, req.Pipeline)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func recalcIntentHandler(svc *service.IntentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/intent/recalculate")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		result, err := svc.Recalculate(ctx, leadID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func resetIntentHandler(svc *service.IntentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/intent/reset")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		if err := svc.ResetSignals(ctx, leadID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateScoreHandler(svc *service.ScoreService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/{leadId}/score")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		var req service.ScoreInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("lead.id", leadID))

		result, err := svc.UpdateScore(ctx, leadID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// Deals
// ============================================================

func moveStageHandler(svc *service.DealService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/deals/{dealId}/stage")
		defer span.End()

		dealID := chi.URLParam(r, "dealId")
		var req struct {
			Stage string `json:"stage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Stage == "" {
			writeError(w, http.StatusBadRequest, "stage is required")
			return
		}

		deal, actions, err := svc.MoveStage(ctx, dealID, req.Stage)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"deal":    deal,
			"actions": actions,
		})
	}
}

func closeDealHandler(svc *service.DealService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/deals/{dealId}/close")
		defer span.End()

		dealID := chi.URLParam(r, "dealId")
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		deal, err := svc.Close(ctx, dealID, domain.DealStatus(req.Status))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, deal)
	}
}

func reopenDealHandler(svc *service.DealService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/deals/{dealId}/reopen")
		defer span.End()

		dealID := chi.URLParam(r, "dealId")
		deal, err := svc.Reopen(ctx, dealID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, deal)
	}
}

// ============================================================
// Rules & stats
// ============================================================

func reloadRulesHandler(rules *service.RuleRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rules/reload")
		defer span.End()

		if err := rules.Load(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"intent_rules":     len(rules.IntentRules()),
			"automation_rules": len(rules.AutomationRules()),
		})
	}
}

func statsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.EngineSnapshot())
	}
}

// ============================================================
// Health
// ============================================================

func healthzHandler(pinger interface{ PingContext(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if pinger != nil {
			if err := pinger.PingContext(r.Context()); err != nil {
				status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
