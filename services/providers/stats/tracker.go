// Package stats tracks per-provider call outcomes over a rolling window
// of hourly buckets.
package stats

import (
	"context"
	"time"
)

// Tracker records enhancement outcomes and reports rolling success rates
type Tracker interface {
	RecordSuccess(ctx context.Context, provider string) error
	RecordFailure(ctx context.Context, provider, message string) error

	// SuccessRate returns the success percentage over the window.
	// A provider with no samples reports 100.
	SuccessRate(ctx context.Context, provider string) (float64, error)

	// LastError returns the most recent failure message inside the window
	LastError(ctx context.Context, provider string) (string, error)
}

// Counts is the number of outcomes in one bucket
type Counts struct {
	Success int64
	Failure int64
}

// Rate converts accumulated counts into a percentage
func Rate(total Counts) float64 {
	n := total.Success + total.Failure
	if n == 0 {
		return 100
	}
	return float64(total.Success) * 100 / float64(n)
}

const bucketLayout = "2006010215"

// bucketKeys returns the hourly bucket suffixes covering window, newest first
func bucketKeys(now time.Time, window time.Duration) []string {
	hours := int(window / time.Hour)
	if hours < 1 {
		hours = 1
	}
	now = now.UTC().Truncate(time.Hour)
	keys := make([]string, 0, hours)
	for i := 0; i < hours; i++ {
		keys = append(keys, now.Add(-time.Duration(i)*time.Hour).Format(bucketLayout))
	}
	return keys
}
