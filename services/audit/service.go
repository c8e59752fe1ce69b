package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/preset/enhancement-gateway/models"
	"github.com/preset/enhancement-gateway/repositories"
	"go.uber.org/zap"
)

// TransactionEvent is a credit transaction waiting to be persisted
type TransactionEvent struct {
	Transaction *models.CreditTransaction
	Attempts    int
}

// Service persists credit transactions asynchronously
type Service struct {
	repo        repositories.CreditTransactionRepository
	logger      *zap.Logger
	eventChan   chan *TransactionEvent
	workerCount int
	bufferSize  int
	maxAttempts int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	dropped     atomic.Int64
	mu          sync.RWMutex
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
	MaxAttempts int // Insert attempts per transaction
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
		MaxAttempts: 3,
	}
}

// NewService creates a new transaction recorder
func NewService(repo repositories.CreditTransactionRepository, logger *zap.Logger, config Config) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *TransactionEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		maxAttempts: config.MaxAttempts,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the service.
// Waits for all pending transactions to be written.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues a transaction without blocking
func (s *Service) Record(tx *models.CreditTransaction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- &TransactionEvent{Transaction: tx}:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping transaction",
			zap.String("transaction_type", string(tx.TransactionType)),
			zap.String("user_id", tx.UserID.String()),
			zap.String("provider", tx.Provider))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to persist credit transaction",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("transaction_id", event.Transaction.ID.String()),
				zap.String("user_id", event.Transaction.UserID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent writes one transaction, retrying transient failures
func (s *Service) processEvent(event *TransactionEvent) error {
	var lastErr error
	for event.Attempts < s.maxAttempts {
		event.Attempts++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lastErr = s.repo.Insert(ctx, event.Transaction)
		cancel()

		if lastErr == nil {
			return nil
		}
		if event.Attempts < s.maxAttempts {
			time.Sleep(time.Duration(event.Attempts) * 50 * time.Millisecond)
		}
	}

	return fmt.Errorf("failed to insert credit transaction after %d attempts: %w", event.Attempts, lastErr)
}

// GetStats returns statistics about the service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped.Load(),
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Dropped       int64 `json:"dropped"`
	Started       bool  `json:"started"`
}
