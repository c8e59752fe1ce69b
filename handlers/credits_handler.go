package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/utils"
	"go.uber.org/zap"
)

// CreditsService exposes a user's credit account
type CreditsService interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
}

// CreditsHandler handles credit account HTTP requests
type CreditsHandler struct {
	service CreditsService
	logger  *zap.Logger
}

// NewCreditsHandler creates a new CreditsHandler
func NewCreditsHandler(service CreditsService, logger *zap.Logger) *CreditsHandler {
	return &CreditsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleBalance handles GET /api/v1/credits
func (h *CreditsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	account, err := h.service.Balance(r.Context(), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, account)
}

// HandleHistory handles GET /api/v1/credits/history?limit=&offset=
func (h *CreditsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	history, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if history == nil {
		history = []*models.CreditTransaction{}
	}

	_ = utils.WriteOK(w, history)
}

// queryInt reads a non-negative integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{name: name + " must be a non-negative integer"},
		}
	}
	return v, nil
}
