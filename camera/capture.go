package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	iface "LiveDet/interface"
	"LiveDet/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Device opens local capture devices, one index per facing mode.
type Device struct {
	Indexes map[iface.FacingMode]int
}

func (d *Device) Acquire(ctx context.Context, c iface.Constraints) (iface.Stream, error) {
	idx, ok := d.Indexes[c.FacingMode]
	if !ok {
		return nil, &iface.CameraAccessError{
			Reason: iface.ReasonNoDevice,
			Err:    fmt.Errorf("no device configured for facing mode %q", c.FacingMode),
		}
	}
	vc, err := gocv.VideoCaptureDevice(idx)
	if err != nil {
		return nil, &iface.CameraAccessError{Reason: classify(err), Err: err}
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, &iface.CameraAccessError{Reason: iface.ReasonNoDevice, Err: fmt.Errorf("device %d did not open", idx)}
	}
	if c.Width.Ideal > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width.Ideal))
	}
	if c.Height.Ideal > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height.Ideal))
	}
	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if err := c.Check(w, h); err != nil {
		_ = vc.Close()
		return nil, &iface.CameraAccessError{Reason: iface.ReasonConstraints, Err: err}
	}
	logger.Log().Info("camera acquired",
		zap.Int("device", idx), zap.String("facingMode", string(c.FacingMode)),
		zap.Int("width", w), zap.Int("height", h))
	return newStream(vc, w, h, fmt.Sprintf("device-%d", idx)), nil
}

// File plays a video file as if it were a camera; both facing modes map
// to the same file and playback loops at the end.
type File struct {
	Path string
}

func (f *File) Acquire(ctx context.Context, c iface.Constraints) (iface.Stream, error) {
	vc, err := gocv.VideoCaptureFile(f.Path)
	if err != nil {
		return nil, &iface.CameraAccessError{Reason: iface.ReasonNoDevice, Err: err}
	}
	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if w <= 0 || h <= 0 {
		_ = vc.Close()
		return nil, &iface.CameraAccessError{Reason: iface.ReasonNoDevice, Err: fmt.Errorf("%s has no video", f.Path)}
	}
	s := newStream(vc, w, h, f.Path)
	s.rewind = true
	return s, nil
}

// classify maps an open failure to a reason; V4L2 and AVFoundation both
// report denied access as "permission denied" in the message.
func classify(err error) iface.CameraReason {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return iface.ReasonPermissionDenied
	}
	return iface.ReasonNoDevice
}

type stream struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	width  int
	height int
	seq    uint64
	rewind bool
	track  *track
}

func newStream(vc *gocv.VideoCapture, w, h int, label string) *stream {
	s := &stream{vc: vc, mat: gocv.NewMat(), width: w, height: h}
	s.track = &track{label: label, release: s.release}
	return s
}

var errEnded = errors.New("stream ended")

func (s *stream) Read(ctx context.Context) (iface.Frame, error) {
	if err := ctx.Err(); err != nil {
		return iface.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track.State() == iface.TrackEnded {
		return iface.Frame{}, errEnded
	}
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		if !s.rewind {
			return iface.Frame{}, errors.New("camera returned no frame")
		}
		s.vc.Set(gocv.VideoCapturePosFrames, 0)
		if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
			return iface.Frame{}, errors.New("video returned no frame after rewind")
		}
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return iface.Frame{}, fmt.Errorf("convert frame: %w", err)
	}
	s.seq++
	return iface.Frame{Image: img, Seq: s.seq, Captured: time.Now()}, nil
}

func (s *stream) Size() (int, int) { return s.width, s.height }

func (s *stream) Tracks() []iface.Track { return []iface.Track{s.track} }

func (s *stream) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Combine(s.vc.Close(), s.mat.Close())
}

type track struct {
	label   string
	once    sync.Once
	mu      sync.Mutex
	ended   bool
	release func() error
}

// Stop releases the capture handle. Safe to call more than once.
func (t *track) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
		if err := t.release(); err != nil {
			logger.Log().Warn("release camera track", zap.String("track", t.label), zap.Error(err))
		}
	})
}

func (t *track) State() iface.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return iface.TrackEnded
	}
	return iface.TrackLive
}
