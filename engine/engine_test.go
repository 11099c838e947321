package engine

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	iface "LiveDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{ closed atomic.Bool }

func (f *fakeSource) Infer(context.Context, image.Image) (iface.RawPrediction, error) {
	return &iface.PredictionList{}, nil
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeLoader struct {
	calls   atomic.Int32
	fail    atomic.Bool
	release chan struct{}
	src     *fakeSource
}

func (f *fakeLoader) Describe() string { return "fake://model" }

func (f *fakeLoader) Load(ctx context.Context) (iface.DetectionSource, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail.Load() {
		return nil, errors.New("weights missing")
	}
	return f.src, nil
}

func TestHandle_All(t *testing.T) {
	l := &fakeLoader{src: &fakeSource{}}
	h := NewHandle(l)

	t.Run("Test Unloaded", func(t *testing.T) {
		assert.Equal(t, UNLOADED, h.State())
		_, ok := h.Source()
		assert.False(t, ok)
	})

	t.Run("Test Failed Load", func(t *testing.T) {
		l.fail.Store(true)
		err := h.Load(context.Background())
		require.Error(t, err)
		var mle *iface.ModelLoadError
		require.ErrorAs(t, err, &mle)
		assert.Equal(t, "fake://model", mle.Source)
		assert.Equal(t, FAILED, h.State())
		assert.Equal(t, err, h.Err())
		_, ok := h.Source()
		assert.False(t, ok)
	})

	t.Run("Test Retry After Failure", func(t *testing.T) {
		l.fail.Store(false)
		require.NoError(t, h.Load(context.Background()))
		assert.Equal(t, READY, h.State())
		assert.NoError(t, h.Err())
		src, ok := h.Source()
		assert.True(t, ok)
		assert.Same(t, l.src, src)
	})

	t.Run("Test Ready Is Cached", func(t *testing.T) {
		before := l.calls.Load()
		require.NoError(t, h.Load(context.Background()))
		assert.Equal(t, before, l.calls.Load())
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, h.Close())
		assert.True(t, l.src.closed.Load())
		assert.Equal(t, UNLOADED, h.State())
	})
}

func TestHandle_ConcurrentLoad(t *testing.T) {
	l := &fakeLoader{src: &fakeSource{}, release: make(chan struct{})}
	h := NewHandle(l)

	first := h.LoadAsync(context.Background())
	require.Eventually(t, func() bool { return h.State() == LOADING }, time.Second, time.Millisecond)
	assert.Error(t, h.Close())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.Load(context.Background())
		}(i)
	}
	close(l.release)
	wg.Wait()

	assert.NoError(t, <-first)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, READY, h.State())
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	l := &fakeLoader{src: &fakeSource{}, release: make(chan struct{})}
	defer close(l.release)
	h := NewHandle(l)

	h.LoadAsync(context.Background())
	require.Eventually(t, func() bool { return h.State() == LOADING }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Load(ctx), context.DeadlineExceeded)
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "unloaded", StateName(UNLOADED))
	assert.Equal(t, "loading", StateName(LOADING))
	assert.Equal(t, "ready", StateName(READY))
	assert.Equal(t, "failed", StateName(FAILED))
	assert.Equal(t, "unknown(0x9)", StateName(9))
}
