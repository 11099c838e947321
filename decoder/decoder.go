package decoder

import (
	"fmt"
	"math"

	iface "LiveDet/interface"
)

const (
	// DetectThreshold is the upstream detection threshold.
	DetectThreshold = 0.5
	// DisplayThreshold is the stricter value used for the continuous webcam view.
	DisplayThreshold = 0.66
)

// Decode converts raw model output into detections in surface pixels.
// A detection is kept iff its score is strictly greater than threshold.
func Decode(raw iface.RawPrediction, width, height int, threshold float64) ([]iface.Detection, error) {
	if width <= 0 || height <= 0 {
		return nil, &iface.DecodeError{Msg: fmt.Sprintf("invalid surface %dx%d", width, height)}
	}
	switch v := raw.(type) {
	case *iface.TensorOutput:
		if v == nil {
			return nil, &iface.DecodeError{Msg: "nil tensor output"}
		}
		return decodeTensors(v, float64(width), float64(height), threshold)
	case *iface.PredictionList:
		if v == nil {
			return nil, &iface.DecodeError{Msg: "nil prediction list"}
		}
		return decodePredictions(v, threshold)
	case nil:
		return nil, &iface.DecodeError{Msg: "undefined model output"}
	default:
		return nil, &iface.DecodeError{Msg: fmt.Sprintf("unsupported model output %T", raw)}
	}
}

func decodeTensors(t *iface.TensorOutput, w, h, threshold float64) ([]iface.Detection, error) {
	n := len(t.Boxes)
	if len(t.Scores) != n || len(t.Classes) != n {
		return nil, &iface.DecodeError{Msg: fmt.Sprintf("tensor length mismatch: boxes=%d classes=%d scores=%d",
			n, len(t.Classes), len(t.Scores))}
	}
	out := make([]iface.Detection, 0, n)
	for i := 0; i < n; i++ {
		b := t.Boxes[i]
		if len(b) != 4 {
			return nil, &iface.DecodeError{Msg: fmt.Sprintf("box %d has %d values", i, len(b))}
		}
		if !finite(t.Scores[i], t.Classes[i], b[0], b[1], b[2], b[3]) {
			return nil, &iface.DecodeError{Msg: fmt.Sprintf("entry %d is not finite", i)}
		}
		if t.Scores[i] <= threshold {
			continue
		}
		// [yMin, xMin, yMax, xMax]
		out = append(out, iface.Detection{
			Box: iface.Box{
				YMin: b[0] * h,
				XMin: b[1] * w,
				YMax: b[2] * h,
				XMax: b[3] * w,
			},
			Label: label(t.Labels, int(t.Classes[i]), ""),
			Score: t.Scores[i],
		})
	}
	return out, nil
}

func decodePredictions(p *iface.PredictionList, threshold float64) ([]iface.Detection, error) {
	out := make([]iface.Detection, 0, len(p.Items))
	for i, it := range p.Items {
		if len(it.Box) != 4 {
			return nil, &iface.DecodeError{Msg: fmt.Sprintf("prediction %d has %d box values", i, len(it.Box))}
		}
		if !finite(it.Score, it.Box[0], it.Box[1], it.Box[2], it.Box[3]) {
			return nil, &iface.DecodeError{Msg: fmt.Sprintf("prediction %d is not finite", i)}
		}
		if it.Score <= threshold {
			continue
		}
		var box iface.Box
		switch p.Format {
		case iface.BoxXYWH, "":
			box = iface.Box{XMin: it.Box[0], YMin: it.Box[1], XMax: it.Box[0] + it.Box[2], YMax: it.Box[1] + it.Box[3]}
		case iface.BoxXYXY:
			box = iface.Box{XMin: it.Box[0], YMin: it.Box[1], XMax: it.Box[2], YMax: it.Box[3]}
		default:
			return nil, &iface.DecodeError{Msg: fmt.Sprintf("unknown box format %q", p.Format)}
		}
		out = append(out, iface.Detection{
			Box:   box,
			Label: label(p.Labels, it.ClassID, it.Class),
			Score: it.Score,
		})
	}
	return out, nil
}

func label(labels map[int]string, id int, name string) string {
	if name != "" {
		return name
	}
	if l, ok := labels[id]; ok {
		return l
	}
	return fmt.Sprintf("class %d", id)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
