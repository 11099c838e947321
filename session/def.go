package session

import (
	"errors"
	"time"

	iface "LiveDet/interface"
)

type State int

const (
	Idle State = iota
	CameraRequested
	Streaming
	Detecting
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CameraRequested:
		return "camera-requested"
	case Streaming:
		return "streaming"
	case Detecting:
		return "detecting"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	}
	return "unknown"
}

// Active reports whether the loop is scheduled in this state.
func (s State) Active() bool {
	return s == CameraRequested || s == Streaming || s == Detecting
}

// Frame stages reported in FrameResult.Stage.
const (
	StageRead   = "read"
	StageInfer  = "infer"
	StageDecode = "decode"
	StageRender = "render"
)

// FrameResult is the outcome of one loop iteration. Stage names the step
// that failed and is empty on success.
type FrameResult struct {
	Seq        uint64            `json:"seq"`
	Detections []iface.Detection `json:"detections"`
	Duration   time.Duration     `json:"duration"`
	Stage      string            `json:"stage,omitempty"`
	Err        error             `json:"-"`
}

// Observer is called synchronously from the loop and from lifecycle calls.
// Implementations must not block or call back into the session.
type Observer interface {
	OnState(State)
	OnFrame(FrameResult)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) OnState(State)       {}
func (NopObserver) OnFrame(FrameResult) {}

// ModelProvider hands out the loaded model; ok is false until it is ready.
type ModelProvider interface {
	Source() (iface.DetectionSource, bool)
}

var ErrClosed = errors.New("session closed")

// Status is a point-in-time view of a session.
type Status struct {
	ID          string           `json:"id"`
	State       string           `json:"state"`
	Facing      iface.FacingMode `json:"facingMode"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Frames      uint64           `json:"frames"`
	Notice      string           `json:"notice,omitempty"`
	Screenshots int              `json:"screenshots"`
}
