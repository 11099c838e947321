package iface

import (
	"context"
	"image"
)

// DetectionSource is the one capability a loaded model exposes.
type DetectionSource interface {
	Infer(ctx context.Context, frame image.Image) (RawPrediction, error)
	Close() error
}

// Track is one hardware track of a stream.
type Track interface {
	Stop()
	State() TrackState
}

// Stream is a live camera stream.
type Stream interface {
	// Read blocks until the next frame is available.
	Read(ctx context.Context) (Frame, error)
	// Size is the native resolution of the stream.
	Size() (width, height int)
	Tracks() []Track
}

// Camera acquires streams, the getUserMedia of this program.
type Camera interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Surface is a 2D raster surface with attachable overlay elements.
type Surface interface {
	Size() (width, height int)
	Resize(width, height int)
	// DrawFrame draws img scaled to the full surface.
	DrawFrame(img image.Image) error
	Attach(el *Element) error
	Detach(el *Element) error
	// Snapshot composes the frame with every attached element.
	Snapshot() (image.Image, error)
}
