package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	iface "LiveDet/interface"
)

var (
	BoxColor   = color.RGBA{R: 255, A: 255}
	LabelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Label formats the caption drawn at a detection's top-left corner.
func Label(d iface.Detection) string {
	return fmt.Sprintf("%s - %d%% confidence.", d.Label, int(math.Round(d.Score*100)))
}

// Renderer redraws one surface per frame. It owns the set of elements it
// attached for the previous frame and removes them before drawing again.
type Renderer struct {
	current []*iface.Element
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render clears the previous annotations, draws frame at full surface size
// and attaches one box and one label per detection.
//
// On error the tracked set still holds every element this renderer left
// attached, so the next call removes them.
func (r *Renderer) Render(frame image.Image, dets []iface.Detection, s iface.Surface) error {
	clearErr := r.Clear(s)
	if err := s.DrawFrame(frame); err != nil {
		return &iface.RenderError{Op: "draw frame", Err: err}
	}
	for _, d := range dets {
		box := &iface.Element{Kind: iface.BoxElement, Box: d.Box, Color: BoxColor}
		if err := s.Attach(box); err != nil {
			return &iface.RenderError{Op: "attach box", Err: err}
		}
		r.current = append(r.current, box)

		label := &iface.Element{
			Kind:  iface.LabelElement,
			Box:   iface.Box{XMin: d.Box.XMin, YMin: d.Box.YMin, XMax: d.Box.XMin, YMax: d.Box.YMin},
			Text:  Label(d),
			Color: LabelColor,
		}
		if err := s.Attach(label); err != nil {
			return &iface.RenderError{Op: "attach label", Err: err}
		}
		r.current = append(r.current, label)
	}
	return clearErr
}

// Clear detaches every element from the previous frame. Elements that fail
// to detach stay tracked unless the surface no longer holds them.
func (r *Renderer) Clear(s iface.Surface) error {
	var kept []*iface.Element
	var firstErr error
	for _, el := range r.current {
		if err := s.Detach(el); err != nil {
			if errors.Is(err, iface.ErrNotAttached) {
				continue
			}
			kept = append(kept, el)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.current = kept
	if firstErr != nil {
		return &iface.RenderError{Op: "clear overlay", Err: firstErr}
	}
	return nil
}

// Elements returns the set attached for the last rendered frame.
func (r *Renderer) Elements() []*iface.Element {
	return append([]*iface.Element(nil), r.current...)
}
