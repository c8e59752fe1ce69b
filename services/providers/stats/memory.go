package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTracker keeps outcome buckets in process memory.
// It is used when no Redis URL is configured.
type MemoryTracker struct {
	store  *cache.Cache
	window time.Duration
	now    func() time.Time
}

// NewMemoryTracker creates an in-process tracker
func NewMemoryTracker(window time.Duration) *MemoryTracker {
	return &MemoryTracker{
		store:  cache.New(window+time.Hour, 10*time.Minute),
		window: window,
		now:    time.Now,
	}
}

func (t *MemoryTracker) incr(provider, field string) {
	key := fmt.Sprintf("%s:%s:%s", provider, bucketKeys(t.now(), time.Hour)[0], field)
	// Add fails when the key exists, which is the case we want to increment.
	_ = t.store.Add(key, int64(0), t.window+time.Hour)
	_, _ = t.store.IncrementInt64(key, 1)
}

// RecordSuccess counts a successful call
func (t *MemoryTracker) RecordSuccess(_ context.Context, provider string) error {
	t.incr(provider, fieldSuccess)
	return nil
}

// RecordFailure counts a failed call and remembers its message
func (t *MemoryTracker) RecordFailure(_ context.Context, provider, message string) error {
	t.incr(provider, fieldFailure)
	t.store.Set(provider+":last_error", message, t.window)
	return nil
}

// SuccessRate sums the hourly buckets inside the window
func (t *MemoryTracker) SuccessRate(_ context.Context, provider string) (float64, error) {
	var total Counts
	for _, b := range bucketKeys(t.now(), t.window) {
		if v, ok := t.store.Get(fmt.Sprintf("%s:%s:%s", provider, b, fieldSuccess)); ok {
			total.Success += v.(int64)
		}
		if v, ok := t.store.Get(fmt.Sprintf("%s:%s:%s", provider, b, fieldFailure)); ok {
			total.Failure += v.(int64)
		}
	}
	return Rate(total), nil
}

// LastError returns the stored failure message
func (t *MemoryTracker) LastError(_ context.Context, provider string) (string, error) {
	if v, ok := t.store.Get(provider + ":last_error"); ok {
		return v.(string), nil
	}
	return "", nil
}
