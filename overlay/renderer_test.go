package overlay

import (
	"errors"
	"image"
	"slices"
	"testing"

	"LiveDet/canvas"
	iface "LiveDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(label string, score float64, x0, y0, x1, y1 float64) iface.Detection {
	return iface.Detection{Label: label, Score: score, Box: iface.Box{XMin: x0, YMin: y0, XMax: x1, YMax: y1}}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "kangaroo - 91% confidence.", Label(det("kangaroo", 0.91, 0, 0, 1, 1)))
	assert.Equal(t, "cat - 67% confidence.", Label(det("cat", 0.666, 0, 0, 1, 1)))
}

func TestRenderer_ClearsPreviousFrame(t *testing.T) {
	surface := canvas.New(640, 480)
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	r := NewRenderer()

	first := []iface.Detection{det("a", 0.9, 0, 0, 10, 10), det("b", 0.8, 5, 5, 20, 20), det("c", 0.7, 1, 1, 2, 2)}
	require.NoError(t, r.Render(frame, first, surface))
	frameOne := surface.Elements()
	require.Len(t, frameOne, 6)

	second := []iface.Detection{det("d", 0.95, 30, 30, 60, 60)}
	require.NoError(t, r.Render(frame, second, surface))
	attached := surface.Elements()
	assert.Len(t, attached, 2*len(second))
	for _, el := range frameOne {
		assert.False(t, slices.Contains(attached, el), "element from frame 1 still attached")
	}
	assert.Equal(t, attached, r.Elements())

	require.NoError(t, r.Render(frame, nil, surface))
	assert.Empty(t, surface.Elements())
}

func TestRenderer_KangarooScenario(t *testing.T) {
	surface := canvas.New(640, 480)
	r := NewRenderer()
	require.NoError(t, r.Render(image.NewRGBA(image.Rect(0, 0, 640, 480)),
		[]iface.Detection{det("kangaroo", 0.91, 10, 10, 50, 30)}, surface))

	els := surface.Elements()
	require.Len(t, els, 2)
	box, label := els[0], els[1]
	assert.Equal(t, iface.BoxElement, box.Kind)
	assert.Equal(t, 10.0, box.Box.XMin)
	assert.Equal(t, 10.0, box.Box.YMin)
	assert.Equal(t, 40.0, box.Box.Width())
	assert.Equal(t, 20.0, box.Box.Height())
	assert.Equal(t, iface.LabelElement, label.Kind)
	assert.Equal(t, "kangaroo - 91% confidence.", label.Text)
	assert.Equal(t, 10.0, label.Box.XMin)
	assert.Equal(t, 10.0, label.Box.YMin)
}

// flakySurface wraps a canvas and fails the nth Attach call.
type flakySurface struct {
	*canvas.Canvas
	failAttach int
	calls      int
	failDraw   bool
}

func (f *flakySurface) Attach(el *iface.Element) error {
	f.calls++
	if f.calls == f.failAttach {
		return errors.New("out of nodes")
	}
	return f.Canvas.Attach(el)
}

func (f *flakySurface) DrawFrame(img image.Image) error {
	if f.failDraw {
		return errors.New("context lost")
	}
	return f.Canvas.DrawFrame(img)
}

func TestRenderer_FailedAttachKeepsTracking(t *testing.T) {
	s := &flakySurface{Canvas: canvas.New(100, 100), failAttach: 3}
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	r := NewRenderer()

	err := r.Render(frame, []iface.Detection{det("a", 0.9, 0, 0, 1, 1), det("b", 0.9, 0, 0, 1, 1)}, s)
	var re *iface.RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "attach box", re.Op)
	assert.Len(t, s.Elements(), 2)
	assert.Equal(t, s.Elements(), r.Elements())

	require.NoError(t, r.Render(frame, nil, s))
	assert.Empty(t, s.Elements())
}

func TestRenderer_DrawFailureStillClears(t *testing.T) {
	s := &flakySurface{Canvas: canvas.New(100, 100)}
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	r := NewRenderer()
	require.NoError(t, r.Render(frame, []iface.Detection{det("a", 0.9, 0, 0, 1, 1)}, s))

	s.failDraw = true
	err := r.Render(frame, []iface.Detection{det("b", 0.9, 0, 0, 1, 1)}, s)
	assert.Error(t, err)
	assert.Empty(t, s.Elements())
	assert.Empty(t, r.Elements())
}

func TestRenderer_ForgetsExternallyRemoved(t *testing.T) {
	s := canvas.New(100, 100)
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	r := NewRenderer()
	require.NoError(t, r.Render(frame, []iface.Detection{det("a", 0.9, 0, 0, 1, 1)}, s))
	for _, el := range s.Elements() {
		require.NoError(t, s.Detach(el))
	}
	assert.NoError(t, r.Render(frame, nil, s))
	assert.Empty(t, r.Elements())
}
