package iface

import (
	"errors"
	"fmt"
)

// ErrNotAttached is returned by a Surface asked to detach an element it does not hold.
var ErrNotAttached = errors.New("element not attached")

// ModelLoadError means the model manifest or weights could not be fetched
// or parsed. Detection does not start until a load succeeds.
type ModelLoadError struct {
	Source string
	Err    error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Source, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

type CameraReason string

const (
	ReasonPermissionDenied CameraReason = "permission-denied"
	ReasonNoDevice         CameraReason = "no-device"
	ReasonConstraints      CameraReason = "constraints-unsatisfiable"
)

// CameraAccessError is fatal to the current session.
type CameraAccessError struct {
	Reason CameraReason
	Err    error
}

func (e *CameraAccessError) Error() string {
	return fmt.Sprintf("camera access (%s): %v", e.Reason, e.Err)
}

func (e *CameraAccessError) Unwrap() error { return e.Err }

// DecodeError is a per-frame failure to interpret model output.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Msg, e.Err)
	}
	return "decode: " + e.Msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RenderError is a per-frame failure to draw.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
