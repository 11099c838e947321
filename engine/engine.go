package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	iface "LiveDet/interface"
	"LiveDet/logger"

	"go.uber.org/zap"
)

// Loader produces a DetectionSource; ManifestLoader is the real one.
type Loader interface {
	Load(ctx context.Context) (iface.DetectionSource, error)
	Describe() string
}

// Handle owns the one model of the process. It starts UNLOADED; consumers
// ask Source() each frame and get ok=false until a load has succeeded.
type Handle struct {
	loader Loader

	mu     sync.Mutex
	state  int
	source iface.DetectionSource
	err    error
	done   chan struct{}
}

func NewHandle(l Loader) *Handle {
	return &Handle{loader: l, state: UNLOADED}
}

// Load loads the model once. A READY handle returns immediately, a LOADING
// one waits for the attempt in flight, a FAILED one tries again.
func (h *Handle) Load(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case READY:
		h.mu.Unlock()
		return nil
	case LOADING:
		done := h.done
		h.mu.Unlock()
		select {
		case <-done:
			return h.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.state = LOADING
	h.err = nil
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	start := time.Now()
	src, err := h.loader.Load(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(done)
	if err != nil {
		var mle *iface.ModelLoadError
		if !errors.As(err, &mle) {
			err = &iface.ModelLoadError{Source: h.loader.Describe(), Err: err}
		}
		h.state = FAILED
		h.err = err
		logger.Log().Error("model load failed", zap.String("source", h.loader.Describe()), zap.Error(err))
		return err
	}
	h.state = READY
	h.source = src
	logger.Log().Info("model loaded", zap.String("source", h.loader.Describe()), zap.Duration("took", time.Since(start)))
	return nil
}

// LoadAsync runs Load in the background. The channel yields the result once.
func (h *Handle) LoadAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- h.Load(ctx)
	}()
	return ch
}

// Source returns the loaded model, or ok=false while not READY.
func (h *Handle) Source() (iface.DetectionSource, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != READY {
		return nil, false
	}
	return h.source, true
}

func (h *Handle) State() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Describe() string {
	return h.loader.Describe()
}

// Close releases the loaded model and returns the handle to UNLOADED.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == LOADING {
		return errors.New("model is loading")
	}
	var err error
	if h.source != nil {
		err = h.source.Close()
	}
	h.source = nil
	h.state = UNLOADED
	return err
}
