package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const deliveryTimeout = 10 * time.Second

// Dispatcher queues alerts and delivers them from background workers,
// so callers never wait on the downstream notifier
type Dispatcher struct {
	next        Service
	logger      *zap.Logger
	queue       chan Alert
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// NewDispatcher wraps next with a buffered worker queue
func NewDispatcher(next Service, logger *zap.Logger, bufferSize, workerCount int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Dispatcher{
		next:        next,
		logger:      logger,
		queue:       make(chan Alert, bufferSize),
		workerCount: workerCount,
		bufferSize:  bufferSize,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("alert dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.started = true

	d.logger.Info("started alert dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))
	return nil
}

// Stop drains queued alerts and waits for the workers up to timeout
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("alert dispatcher not running")
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("alert dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("alert dispatcher stop timeout after %v", timeout)
	}
}

// Notify enqueues the alert without blocking.
// A full queue drops the alert and returns an error.
func (d *Dispatcher) Notify(_ context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		return fmt.Errorf("alert dispatcher not running")
	}

	select {
	case d.queue <- alert:
		return nil
	default:
		d.logger.Warn("alert queue full, dropping alert",
			zap.String("alert_type", alert.Type),
			zap.String("message", alert.Message))
		return fmt.Errorf("alert buffer full")
	}
}

// Pending returns the number of queued alerts
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for alert := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := d.next.Notify(ctx, alert); err != nil {
			d.logger.Error("failed to deliver alert",
				zap.Int("worker_id", id),
				zap.String("alert_type", alert.Type),
				zap.Error(err))
		}
		cancel()
	}
}
