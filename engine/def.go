package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	iface "LiveDet/interface"
)

const UNLOADED = 0x0001
const LOADING = 0x0002
const READY = 0x0003
const FAILED = 0x0005

const (
	FormatTensors    = "tensors"
	FormatStructured = "structured"
)

func StateName(state int) string {
	switch state {
	case UNLOADED:
		return "unloaded"
	case LOADING:
		return "loading"
	case READY:
		return "ready"
	case FAILED:
		return "failed"
	}
	return fmt.Sprintf("unknown(%#x)", state)
}

// Manifest describes where a model lives and which output shape it emits.
type Manifest struct {
	Format string `json:"format"`

	// tensors
	Weights     string         `json:"weights"`
	Config      string         `json:"config"`
	LabelsFile  string         `json:"labelsFile"`
	InputName   string         `json:"inputName"`
	InputWidth  int            `json:"inputWidth"`
	InputHeight int            `json:"inputHeight"`
	Outputs     []string       `json:"outputs"`
	Labels      map[int]string `json:"labels"`

	// structured
	Endpoint  string          `json:"endpoint"`
	BoxFormat iface.BoxFormat `json:"boxFormat"`
}

func (m *Manifest) Validate() error {
	switch m.Format {
	case FormatTensors:
		if m.Weights == "" {
			return errors.New("tensors manifest needs weights")
		}
		if len(m.Outputs) != 3 {
			return fmt.Errorf("tensors manifest needs 3 outputs [boxes, classes, scores], got %d", len(m.Outputs))
		}
		if m.InputWidth < 0 || m.InputHeight < 0 {
			return errors.New("input size cannot be negative")
		}
	case FormatStructured:
		if m.Endpoint == "" {
			return errors.New("structured manifest needs an endpoint")
		}
		switch m.BoxFormat {
		case "", iface.BoxXYWH, iface.BoxXYXY:
		default:
			return fmt.Errorf("unknown box format %q", m.BoxFormat)
		}
	default:
		return fmt.Errorf("unknown model format %q", m.Format)
	}
	return nil
}

// ReadLabels reads one label per line; line N (1-based) becomes class N.
func ReadLabels(path string) (map[int]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	labels := make(map[int]string)
	for i, l := range strings.Split(string(b), "\n") {
		// tolerate CRLF files
		l = strings.TrimRight(l, "\r")
		if l == "" {
			continue
		}
		labels[i+1] = l
	}
	return labels, nil
}
