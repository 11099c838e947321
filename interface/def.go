package iface

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Box is a bounding box in destination surface pixels.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

func (b Box) Width() float64  { return b.XMax - b.XMin }
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Detection is one recognised object in a frame. Produced fresh each frame.
type Detection struct {
	Box   Box     `json:"box"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Frame is a single camera frame.
type Frame struct {
	Image    image.Image
	Seq      uint64
	Captured time.Time
}

// FrameContext carries the frame together with the surface dimensions
// normalised model coordinates are scaled into.
type FrameContext struct {
	Frame  Frame
	Width  int
	Height int
}

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Toggle returns the opposite facing mode.
func (f FacingMode) Toggle() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

func (f FacingMode) Valid() bool {
	return f == FacingUser || f == FacingEnvironment
}

// Range is a min/ideal/max resolution constraint. A zero Min or Max is unbounded.
type Range struct {
	Min   int `yaml:"min" json:"min"`
	Ideal int `yaml:"ideal" json:"ideal"`
	Max   int `yaml:"max" json:"max"`
}

// Contains reports whether v satisfies the range.
func (r Range) Contains(v int) bool {
	if r.Min > 0 && v < r.Min {
		return false
	}
	if r.Max > 0 && v > r.Max {
		return false
	}
	return true
}

// Constraints describe the stream a Camera should deliver.
type Constraints struct {
	Width      Range      `yaml:"width" json:"width"`
	Height     Range      `yaml:"height" json:"height"`
	FacingMode FacingMode `yaml:"facingMode" json:"facingMode"`
}

// Check returns an error when the negotiated resolution falls outside the constraints.
func (c Constraints) Check(width, height int) error {
	if !c.Width.Contains(width) {
		return fmt.Errorf("width %d outside [%d, %d]", width, c.Width.Min, c.Width.Max)
	}
	if !c.Height.Contains(height) {
		return fmt.Errorf("height %d outside [%d, %d]", height, c.Height.Min, c.Height.Max)
	}
	return nil
}

type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

type ElementKind int

const (
	BoxElement ElementKind = iota
	LabelElement
)

// Element is one overlay annotation attached to a Surface. Elements are
// compared by pointer identity.
type Element struct {
	Kind  ElementKind
	Box   Box
	Text  string
	Color color.RGBA
}

// BoxFormat describes how a structured prediction encodes its box.
type BoxFormat string

const (
	BoxXYWH BoxFormat = "xywh"
	BoxXYXY BoxFormat = "xyxy"
)

// RawPrediction is the output of a DetectionSource: either *TensorOutput
// or *PredictionList.
type RawPrediction interface {
	rawPrediction()
}

// TensorOutput is the fixed-order [boxes, classes, scores] tuple. Boxes
// hold normalised [yMin, xMin, yMax, xMax] entries.
type TensorOutput struct {
	Boxes   [][]float64
	Classes []float64
	Scores  []float64
	Labels  map[int]string
}

// Prediction is one structured prediction with a pixel-space box.
type Prediction struct {
	Box     []float64 `json:"bbox"`
	Class   string    `json:"class"`
	ClassID int       `json:"classId"`
	Score   float64   `json:"score"`
}

// PredictionList is a structured prediction list.
type PredictionList struct {
	Items  []Prediction
	Format BoxFormat
	Labels map[int]string
}

func (*TensorOutput) rawPrediction()   {}
func (*PredictionList) rawPrediction() {}
