package canvas

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"slices"
	"sync"

	iface "LiveDet/interface"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var ErrAlreadyAttached = errors.New("element already attached")

// Canvas is an in-memory raster with a set of attached overlay elements.
// The frame layer and the overlay layer are kept apart so elements can be
// removed without redrawing the frame; Snapshot composes both.
type Canvas struct {
	mu        sync.Mutex
	frame     *image.RGBA
	elements  []*iface.Element
	LineWidth float64
	FontSize  float64
}

func New(width, height int) *Canvas {
	return &Canvas{
		frame:     image.NewRGBA(image.Rect(0, 0, width, height)),
		LineWidth: 2,
		FontSize:  14,
	}
}

func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.frame.Bounds()
	return b.Dx(), b.Dy()
}

// Resize reallocates the frame layer. Attached elements are kept.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.frame.Bounds(); b.Dx() == width && b.Dy() == height {
		return
	}
	c.frame = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (c *Canvas) DrawFrame(img image.Image) error {
	if img == nil {
		return errors.New("nil frame")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := c.frame.Bounds()
	if dst.Empty() {
		return fmt.Errorf("surface has no size")
	}
	if img.Bounds().Size() == dst.Size() {
		draw.Draw(c.frame, dst, img, img.Bounds().Min, draw.Src)
		return nil
	}
	xdraw.ApproxBiLinear.Scale(c.frame, dst, img, img.Bounds(), xdraw.Src, nil)
	return nil
}

func (c *Canvas) Attach(el *iface.Element) error {
	if el == nil {
		return errors.New("nil element")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.elements, el) {
		return ErrAlreadyAttached
	}
	c.elements = append(c.elements, el)
	return nil
}

func (c *Canvas) Detach(el *iface.Element) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.elements, el)
	if i < 0 {
		return iface.ErrNotAttached
	}
	c.elements = slices.Delete(c.elements, i, i+1)
	return nil
}

// Elements returns the attached elements in attach order.
func (c *Canvas) Elements() []*iface.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.elements)
}

func (c *Canvas) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.frame.Bounds())
	copy(out.Pix, c.frame.Pix)
	dc := gg.NewContextForRGBA(out)
	face := truetype.NewFace(font, &truetype.Options{Size: c.FontSize})
	defer face.Close()
	for _, el := range c.elements {
		switch el.Kind {
		case iface.BoxElement:
			dc.SetColor(el.Color)
			dc.SetLineWidth(c.LineWidth)
			dc.DrawRectangle(el.Box.XMin, el.Box.YMin, el.Box.Width(), el.Box.Height())
			dc.Stroke()
		case iface.LabelElement:
			dc.SetFontFace(face)
			dc.SetColor(el.Color)
			if el.Box.YMin < c.FontSize {
				// no room above the box, hang the text below its corner
				dc.DrawStringAnchored(el.Text, el.Box.XMin, el.Box.YMin, 0, 1)
			} else {
				dc.DrawString(el.Text, el.Box.XMin, el.Box.YMin)
			}
		default:
			return nil, fmt.Errorf("unknown element kind %d", el.Kind)
		}
	}
	return out, nil
}
