package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/korulabs/lead-engine/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var conflict *domain.ErrConflict
	var businessLogic *domain.ErrBusinessLogic
	var unknownAction *domain.ErrUnknownAction
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &businessLogic):
		logger.Warn("illegal operation", zap.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unknownAction):
		logger.Warn("unknown action", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
