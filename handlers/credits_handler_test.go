package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/middleware"
	"github.com/preset/enhancement-gateway/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockCreditsService is a mock implementation of CreditsService
type MockCreditsService struct {
	mock.Mock
}

func (m *MockCreditsService) Balance(ctx context.Context, userID uuid.UUID) (*models.UserCredits, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserCredits), args.Error(1)
}

func (m *MockCreditsService) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CreditTransaction), args.Error(1)
}

func authedRequest(method, target string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func TestHandleBalance(t *testing.T) {
	service := new(MockCreditsService)
	handler := NewCreditsHandler(service, zap.NewNop())
	userID := uuid.New()

	service.On("Balance", mock.Anything, userID).Return(&models.UserCredits{
		UserID:           userID,
		SubscriptionTier: models.TierPlus,
		MonthlyAllowance: 10,
		CurrentBalance:   7,
		LastResetAt:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil)

	w := httptest.NewRecorder()
	handler.HandleBalance(w, authedRequest(http.MethodGet, "/api/v1/credits", userID))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "plus", data["subscription_tier"])
	assert.Equal(t, float64(7), data["current_balance"])
	assert.Equal(t, float64(10), data["monthly_allowance"])
}

func TestHandleBalance_Errors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		handler := NewCreditsHandler(new(MockCreditsService), zap.NewNop())
		w := httptest.NewRecorder()
		handler.HandleBalance(w, httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("service failure", func(t *testing.T) {
		service := new(MockCreditsService)
		handler := NewCreditsHandler(service, zap.NewNop())
		userID := uuid.New()
		service.On("Balance", mock.Anything, userID).Return(nil, errors.New("connection refused"))

		w := httptest.NewRecorder()
		handler.HandleBalance(w, authedRequest(http.MethodGet, "/api/v1/credits", userID))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleHistory(t *testing.T) {
	userID := uuid.New()

	t.Run("passes paging through", func(t *testing.T) {
		service := new(MockCreditsService)
		handler := NewCreditsHandler(service, zap.NewNop())
		service.On("History", mock.Anything, userID, 50, 10).Return([]*models.CreditTransaction{
			{ID: uuid.New(), UserID: userID, TransactionType: models.TransactionTypeDeduction, CreditsUsed: 1, Provider: "nanobanana"},
		}, nil)

		w := httptest.NewRecorder()
		handler.HandleHistory(w, authedRequest(http.MethodGet, "/api/v1/credits/history?limit=50&offset=10", userID))

		assert.Equal(t, http.StatusOK, w.Code)
		service.AssertExpectations(t)
	})

	t.Run("defaults and empty list", func(t *testing.T) {
		service := new(MockCreditsService)
		handler := NewCreditsHandler(service, zap.NewNop())
		service.On("History", mock.Anything, userID, 0, 0).Return(nil, nil)

		w := httptest.NewRecorder()
		handler.HandleHistory(w, authedRequest(http.MethodGet, "/api/v1/credits/history", userID))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})

	t.Run("invalid paging", func(t *testing.T) {
		for _, target := range []string{"/x?limit=abc", "/x?limit=-1", "/x?offset=1.5"} {
			service := new(MockCreditsService)
			handler := NewCreditsHandler(service, zap.NewNop())

			w := httptest.NewRecorder()
			handler.HandleHistory(w, authedRequest(http.MethodGet, target, userID))

			assert.Equal(t, http.StatusBadRequest, w.Code, target)
			service.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		}
	})
}
