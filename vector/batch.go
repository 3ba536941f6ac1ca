package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	DefaultBatchSize     = 100
	DefaultReadyTimeout  = 5 * time.Minute
	DefaultReadyInterval = 2 * time.Second
)

// Batch calls fn for consecutive slices of at most size records. It stops
// at the first failing batch; earlier batches stay written.
func Batch(records []Record, size int, fn func(batch []Record) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}

	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))

		if err := fn(records[start:end]); err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
	}

	return nil
}

// CheckDimension reports ErrDimensionMismatch for any record whose vector
// length differs from dimension.
func CheckDimension(records []Record, dimension int) error {
	for _, r := range records {
		if len(r.Vector) != dimension {
			return fmt.Errorf("%w: record %s has %d, index has %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), dimension)
		}
	}

	return nil
}

// WaitReady polls ready every interval until it reports true, failing with
// ErrIndexNotReady once timeout elapses.
func WaitReady(ctx context.Context, interval, timeout time.Duration, ready func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := ready(ctx)
		if err == nil && ok {
			return nil
		}

		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", ErrIndexNotReady, timeout, lastErr)
			}

			return fmt.Errorf("%w after %s", ErrIndexNotReady, timeout)

		case <-ticker.C:
		}
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either has zero length.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// TopK sorts results by descending score, breaking ties by id, and keeps k.
func TopK(results []Result, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}

		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}

	return results
}
