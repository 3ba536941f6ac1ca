package vector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchPartialSuccess(t *testing.T) {
	assert := assert.New(t)

	records := make([]Record, 7)
	for i := range records {
		records[i] = Record{ID: string(rune('a' + i))}
	}

	var written []string
	err := Batch(records, 3, func(batch []Record) error {
		if batch[0].ID == "g" {
			return errors.New("backend rejected batch")
		}

		for _, r := range batch {
			written = append(written, r.ID)
		}

		return nil
	})

	assert.Error(err)
	assert.Equal([]string{"a", "b", "c", "d", "e", "f"}, written)
}

func TestCheckDimension(t *testing.T) {
	assert := assert.New(t)

	records := []Record{
		{ID: "ok", Vector: make([]float32, 4)},
		{ID: "bad", Vector: make([]float32, 3)},
	}

	assert.NoError(CheckDimension(records[:1], 4))
	assert.ErrorIs(CheckDimension(records, 4), ErrDimensionMismatch)
}

func TestWaitReadyTimeout(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WaitReady(ctx, 5*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrIndexNotReady)
	assert.Greater(t, calls, 1)
}

func TestWaitReadyEventually(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WaitReady(ctx, time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCosineSimilarity(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(-1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestTopK(t *testing.T) {
	results := []Result{
		{ID: "low", Score: 0.1},
		{ID: "high", Score: 0.9},
		{ID: "mid-b", Score: 0.5},
		{ID: "mid-a", Score: 0.5},
	}

	top := TopK(results, 3)

	ids := make([]string, len(top))
	for i, r := range top {
		ids[i] = r.ID
	}

	assert.Equal(t, []string{"high", "mid-a", "mid-b"}, ids)
}
