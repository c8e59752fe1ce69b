package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/services/enhancement"
	"github.com/preset/enhancement-gateway/utils"
	"go.uber.org/zap"
)

// ProviderAdmin inspects and overrides provider health
type ProviderAdmin interface {
	ProviderStatus(ctx context.Context) ([]enhancement.ProviderStatus, error)
	OverrideProviderHealth(ctx context.Context, name string, healthy bool, errorMessage string) error
}

// CreditAllocator runs the monthly credit allocation
type CreditAllocator interface {
	AllocateMonthlyCredits(ctx context.Context) (map[models.SubscriptionTier]int64, error)
}

// UpdateHealthRequest is the body of PUT /api/v1/admin/providers/{name}/health
type UpdateHealthRequest struct {
	IsHealthy    *bool  `json:"is_healthy" validate:"required"`
	ErrorMessage string `json:"error_message,omitempty" validate:"omitempty,max=1000"`
}

// AllocationResponse reports how many accounts each tier allocation touched
type AllocationResponse struct {
	UpdatedAccounts map[models.SubscriptionTier]int64 `json:"updated_accounts"`
}

// AdminHandler handles operator HTTP requests
type AdminHandler struct {
	providers ProviderAdmin
	allocator CreditAllocator
	logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(providerAdmin ProviderAdmin, allocator CreditAllocator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		providers: providerAdmin,
		allocator: allocator,
		logger:    logger,
	}
}

// HandleListProviders handles GET /api/v1/admin/providers
func (h *AdminHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.providers.ProviderStatus(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, statuses)
}

// HandleUpdateHealth handles PUT /api/v1/admin/providers/{name}/health
func (h *AdminHandler) HandleUpdateHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	var req UpdateHealthRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.providers.OverrideProviderHealth(ctx, name, *req.IsHealthy, req.ErrorMessage); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("provider health overridden",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("provider", name),
		zap.Bool("is_healthy", *req.IsHealthy))

	utils.WriteNoContent(w)
}

// HandleAllocateCredits handles POST /api/v1/admin/credits/allocate
func (h *AdminHandler) HandleAllocateCredits(w http.ResponseWriter, r *http.Request) {
	updated, err := h.allocator.AllocateMonthlyCredits(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, AllocationResponse{UpdatedAccounts: updated})
}
