package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"LiveDet/decoder"
	iface "LiveDet/interface"
	"LiveDet/logger"
	"LiveDet/overlay"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Model       ModelProvider
	Camera      iface.Camera
	Surface     iface.Surface
	Renderer    *overlay.Renderer
	Cadence     Cadence
	Constraints iface.Constraints
	Threshold   float64
	Gallery     *Gallery
	Observers   []Observer
}

// Session owns one camera stream, the drawing surface and the overlay set,
// and runs the frame loop against the shared model.
type Session struct {
	ID string

	model     ModelProvider
	camera    iface.Camera
	surface   iface.Surface
	renderer  *overlay.Renderer
	cadence   Cadence
	base      iface.Constraints
	threshold float64
	gallery   *Gallery
	observers []Observer
	// frameLog keeps one per-frame warning per message each second.
	frameLog  *zap.Logger

	// life serialises lifecycle calls; mu guards the fields below it.
	life   sync.Mutex
	mu     sync.Mutex
	state  State
	facing iface.FacingMode
	stream iface.Stream
	notice string
	closed bool
	cancel context.CancelFunc
	done   chan struct{}

	frames atomic.Uint64
}

func New(o Options) *Session {
	if o.Renderer == nil {
		o.Renderer = overlay.NewRenderer()
	}
	if o.Cadence == nil {
		o.Cadence = NewRefresh(60, nil)
	}
	if o.Gallery == nil {
		o.Gallery = NewGallery(0)
	}
	facing := o.Constraints.FacingMode
	if !facing.Valid() {
		facing = iface.FacingUser
	}
	s := &Session{
		ID:        uuid.NewString(),
		model:     o.Model,
		camera:    o.Camera,
		surface:   o.Surface,
		renderer:  o.Renderer,
		cadence:   o.Cadence,
		base:      o.Constraints,
		threshold: o.Threshold,
		gallery:   o.Gallery,
		observers: o.Observers,
		state:     Idle,
		facing:    facing,
	}
	s.frameLog = s.log().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(c, time.Second, 1, 0)
	}))
	return s
}

func (s *Session) log() *zap.Logger {
	return logger.Log().With(zap.String("session", s.ID))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Notice is the user-facing message left by the last camera failure.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

func (s *Session) Facing() iface.FacingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

func (s *Session) Gallery() *Gallery { return s.gallery }

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:     s.ID,
		State:  s.state.String(),
		Facing: s.facing,
		Notice: s.notice,
	}
	s.mu.Unlock()
	st.Width, st.Height = s.surface.Size()
	st.Frames = s.frames.Load()
	st.Screenshots = s.gallery.Len()
	return st
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	if s.state == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.notifyState(to)
}

// advance moves an active loop to the given state. Returns false once the
// loop has been halted by a lifecycle call. The per-frame hop between
// Streaming and Detecting is not sent to observers.
func (s *Session) advance(to State) bool {
	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to && !perFrame(from, to) {
		s.notifyState(to)
	}
	return true
}

func perFrame(from, to State) bool {
	return (from == Streaming && to == Detecting) || (from == Detecting && to == Streaming)
}

func (s *Session) notifyState(st State) {
	for _, o := range s.observers {
		o.OnState(st)
	}
}

func (s *Session) notifyFrame(r FrameResult) {
	for _, o := range s.observers {
		o.OnFrame(r)
	}
}

// Start requests the camera and starts the loop. A camera failure leaves
// the session in Error with a notice and is returned.
func (s *Session) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state.Active() {
		s.mu.Unlock()
		return nil
	}
	facing := s.facing
	s.mu.Unlock()

	s.halt()
	s.releaseStream()
	s.setState(CameraRequested)

	c := s.base
	c.FacingMode = facing
	stream, err := s.camera.Acquire(ctx, c)
	if err != nil {
		s.fail(err)
		return err
	}
	w, h := stream.Size()
	s.surface.Resize(w, h)

	s.mu.Lock()
	s.stream = stream
	s.notice = ""
	s.mu.Unlock()
	s.log().Info("camera stream acquired",
		zap.String("facingMode", string(facing)), zap.Int("width", w), zap.Int("height", h))
	s.launch(stream)
	return nil
}

func (s *Session) fail(err error) {
	notice := "Could not access the camera"
	var cae *iface.CameraAccessError
	if errors.As(err, &cae) {
		switch cae.Reason {
		case iface.ReasonPermissionDenied:
			notice = "Camera access was denied"
		case iface.ReasonNoDevice:
			notice = "No camera is available"
		case iface.ReasonConstraints:
			notice = "The camera cannot deliver the requested resolution"
		}
	}
	s.mu.Lock()
	s.notice = notice
	s.mu.Unlock()
	s.setState(Error)
	s.log().Error("camera acquire failed", zap.String("notice", notice), zap.Error(err))
}

func (s *Session) launch(stream iface.Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	w, h := stream.Size()
	go s.run(ctx, stream, w, h, done)
}

func (s *Session) run(ctx context.Context, stream iface.Stream, width, height int, done chan struct{}) {
	defer close(done)
	for {
		if err := s.cadence.Wait(ctx); err != nil {
			return
		}
		s.detectFrame(ctx, stream, width, height)
		if ctx.Err() != nil {
			return
		}
	}
}

// halt stops scheduling and waits for the loop goroutine to exit.
func (s *Session) halt() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// releaseStream stops every track of the current stream.
func (s *Session) releaseStream() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

// Stop halts the loop and keeps the stream open. It is idempotent.
func (s *Session) Stop() {
	s.life.Lock()
	defer s.life.Unlock()
	s.halt()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.setState(Stopped)
}

// Pause is Stop; the stream stays open so Play resumes without reacquiring.
func (s *Session) Pause() { s.Stop() }

// Play resumes a paused stream, or starts the camera when none is open.
func (s *Session) Play(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	state, stream := s.state, s.stream
	s.mu.Unlock()

	if state.Active() {
		return nil
	}
	if stream == nil || !live(stream) {
		return s.start(ctx)
	}
	s.setState(Streaming)
	s.launch(stream)
	return nil
}

func live(stream iface.Stream) bool {
	for _, t := range stream.Tracks() {
		if t.State() == iface.TrackLive {
			return true
		}
	}
	return false
}

// SwitchCamera toggles the facing mode. The previous stream's tracks are
// all stopped before the new stream is requested.
func (s *Session) SwitchCamera(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.facing = s.facing.Toggle()
	facing := s.facing
	s.mu.Unlock()

	s.halt()
	s.releaseStream()
	s.setState(Idle)
	s.log().Info("switching camera", zap.String("facingMode", string(facing)))
	return s.start(ctx)
}

// Close halts the loop, releases the stream and clears the overlay.
func (s *Session) Close() error {
	s.life.Lock()
	defer s.life.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.halt()
	s.releaseStream()
	err := s.renderer.Clear(s.surface)
	s.setState(Stopped)
	return err
}

// Screenshot encodes the composed surface as PNG and prepends it to the gallery.
func (s *Session) Screenshot() (Screenshot, error) {
	img, err := s.surface.Snapshot()
	if err != nil {
		return Screenshot{}, fmt.Errorf("snapshot: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Screenshot{}, fmt.Errorf("encode screenshot: %w", err)
	}
	b := img.Bounds()
	shot := Screenshot{
		ID:     uuid.NewString(),
		Taken:  time.Now(),
		Width:  b.Dx(),
		Height: b.Dy(),
		PNG:    buf.Bytes(),
	}
	s.gallery.Prepend(shot)
	s.log().Info("screenshot taken", zap.String("id", shot.ID))
	return shot, nil
}

// Frame returns the composed surface for previews.
func (s *Session) Frame() ([]byte, error) {
	img, err := s.surface.Snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Session) source() (iface.DetectionSource, bool) {
	if s.model == nil {
		return nil, false
	}
	return s.model.Source()
}

// detectFrame runs read, infer, decode and render for one frame. The loop
// is Detecting from inference until render returns. Any failure, panics
// included, ends only this iteration.
func (s *Session) detectFrame(ctx context.Context, stream iface.Stream, width, height int) {
	start := time.Now()
	res := FrameResult{}
	stage := StageRead
	halted := false
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
		if res.Err != nil {
			if ctx.Err() != nil {
				return
			}
			res.Stage = stage
			res.Detections = nil
			s.frameLog.Warn("frame "+stage+" failed",
				zap.Uint64("seq", res.Seq), zap.String("stage", stage), zap.Error(res.Err))
		}
		if halted {
			return
		}
		res.Duration = time.Since(start)
		s.notifyFrame(res)
	}()

	frame, err := stream.Read(ctx)
	if err != nil {
		res.Err = err
		return
	}
	res.Seq = frame.Seq
	fc := iface.FrameContext{Frame: frame, Width: width, Height: height}
	if !s.advance(Streaming) {
		halted = true
		return
	}

	dets := []iface.Detection{}
	if src, ok := s.source(); ok {
		s.advance(Detecting)
		defer s.advance(Streaming)
		stage = StageInfer
		raw, err := src.Infer(ctx, fc.Frame.Image)
		if err != nil {
			res.Err = err
			return
		}
		stage = StageDecode
		if dets, err = decoder.Decode(raw, fc.Width, fc.Height, s.threshold); err != nil {
			res.Err = err
			return
		}
	}

	stage = StageRender
	if err := s.renderer.Render(fc.Frame.Image, dets, s.surface); err != nil {
		res.Err = err
		return
	}
	s.frames.Add(1)
	res.Detections = dets
}
