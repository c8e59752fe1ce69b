package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/services/enhancement"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/preset/enhancement-gateway/utils"
	"go.uber.org/zap"
)

const (
	statusEnhanced = "enhanced"
	statusDegraded = "degraded"
)

// EnhancementService runs a request through the provider fallback chain
type EnhancementService interface {
	EnhanceWithFallback(ctx context.Context, req *providers.EnhancementRequest, userID uuid.UUID) (*enhancement.Outcome, error)
}

// EnhanceResponse is the body of POST /api/v1/enhance.
// Exactly one of Result or Degraded is set, matching Status.
type EnhanceResponse struct {
	Status   string                        `json:"status"`
	Result   *enhancement.Result           `json:"result,omitempty"`
	Degraded *enhancement.DegradedResponse `json:"degraded,omitempty"`
}

// EnhanceHandler handles enhancement HTTP requests
type EnhanceHandler struct {
	service EnhancementService
	logger  *zap.Logger
}

// NewEnhanceHandler creates a new EnhanceHandler
func NewEnhanceHandler(service EnhancementService, logger *zap.Logger) *EnhanceHandler {
	return &EnhanceHandler{
		service: service,
		logger:  logger,
	}
}

// HandleEnhance handles POST /api/v1/enhance.
// A degraded outcome is still a 200: the client renders the fallback.
func (h *EnhanceHandler) HandleEnhance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		h.logger.Error("missing user id in context", zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req providers.EnhancementRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	outcome, err := h.service.EnhanceWithFallback(ctx, &req, userID)
	if err != nil {
		h.logger.Warn("enhancement failed",
			zap.String("request_id", requestID),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	response := EnhanceResponse{Status: statusEnhanced, Result: outcome.Result}
	if outcome.IsDegraded() {
		response = EnhanceResponse{Status: statusDegraded, Degraded: outcome.Degraded}
		h.logger.Info("enhancement degraded",
			zap.String("request_id", requestID),
			zap.String("kind", string(outcome.Degraded.Kind)),
			zap.String("reason", outcome.Degraded.DegradationReason))
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write enhance response", zap.Error(err))
	}
}
