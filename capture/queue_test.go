package capture

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSoftLimitDoubles(t *testing.T) {
	q := NewQueue(2, 8, nil, nil)

	for i := 0; i < 2; i++ {
		require.True(t, q.Put([]float64{float64(i)}))
	}
	assert.Equal(t, 2, q.SoftMax())

	require.True(t, q.Put([]float64{2}))
	assert.Equal(t, 4, q.SoftMax())

	for i := 3; i < 5; i++ {
		require.True(t, q.Put([]float64{float64(i)}))
	}
	assert.Equal(t, 8, q.SoftMax())
	assert.Equal(t, 5, q.Len())
	assert.False(t, q.Overflowed())
}

func TestQueueOverflow(t *testing.T) {
	q := NewQueue(1, 2, nil, nil)
	require.True(t, q.Put([]float64{1}))
	require.True(t, q.Put([]float64{2}))
	assert.False(t, q.Put([]float64{3}))
	assert.True(t, q.Overflowed())

	// Queued blocks are abandoned: the capture has already lost samples.
	_, err := q.Get(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorIs(t, q.PutWait(context.Background(), []float64{4}), ErrQueueFull)
}

func TestQueueFIFOAndEOF(t *testing.T) {
	q := NewQueue(4, 4, nil, nil)
	require.True(t, q.Put([]float64{1}))
	require.True(t, q.Put([]float64{2}))
	q.Close()

	assert.False(t, q.Put([]float64{3}))
	assert.ErrorIs(t, q.PutWait(context.Background(), []float64{3}), ErrQueueClosed)

	for _, want := range []float64{1, 2} {
		block, err := q.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []float64{want}, block)
	}
	_, err := q.Get(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestQueuePutWaitBlocksAtSoftLimit(t *testing.T) {
	q := NewQueue(1, 16, nil, nil)
	require.NoError(t, q.PutWait(context.Background(), []float64{1}))

	done := make(chan error, 1)
	go func() {
		done <- q.PutWait(context.Background(), []float64{2})
	}()

	select {
	case <-done:
		t.Fatal("PutWait returned while the queue was at its soft limit")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, q.SoftMax())

	block, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, block)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("PutWait did not resume after Get")
	}
	block, err = q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, block)
}

func TestQueueGetHonoursContext(t *testing.T) {
	q := NewQueue(1, 1, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	q := NewQueue(1, 4, nil, m)

	require.True(t, q.Put([]float64{1}))
	require.True(t, q.Put([]float64{2}))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueSoftMax))

	_, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth))
}
