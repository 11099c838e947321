package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	iface "LiveDet/interface"

	"gocv.io/x/gocv"
)

// NetSource runs an OpenCV dnn network whose three outputs are
// [boxes, classes, scores], the SSD export layout.
type NetSource struct {
	mu  sync.Mutex
	net gocv.Net
	m   Manifest
}

func OpenNetSource(weights, config string, m Manifest, useGPU bool) (iface.DetectionSource, error) {
	net := gocv.ReadNet(weights, config)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", weights)
	}
	if useGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	return &NetSource{net: net, m: m}, nil
}

func (n *NetSource) Infer(ctx context.Context, frame image.Image) (iface.RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()

	size := image.Pt(n.m.InputWidth, n.m.InputHeight)
	if size.X == 0 || size.Y == 0 {
		size = image.Pt(mat.Cols(), mat.Rows())
	}
	// x/127.5 - 1
	blob := gocv.BlobFromImage(mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	n.net.SetInput(blob, n.m.InputName)
	outs := n.net.ForwardLayers(n.m.Outputs)
	defer func() {
		for i := range outs {
			_ = outs[i].Close()
		}
	}()
	if len(outs) != 3 {
		return nil, fmt.Errorf("network returned %d outputs, want 3", len(outs))
	}
	flat := make([][]float32, 3)
	for i := range outs {
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", n.m.Outputs[i], err)
		}
		flat[i] = data
	}
	return TensorOutput(flat[0], flat[1], flat[2], n.m.Labels)
}

func (n *NetSource) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

// TensorOutput copies flat network outputs into a TensorOutput. Boxes are
// grouped by four; length mismatches are left for the decoder to reject.
func TensorOutput(boxes, classes, scores []float32, labels map[int]string) (*iface.TensorOutput, error) {
	if boxes == nil || classes == nil || scores == nil {
		return nil, errors.New("missing output tensor")
	}
	out := &iface.TensorOutput{
		Boxes:   make([][]float64, 0, (len(boxes)+3)/4),
		Classes: make([]float64, len(classes)),
		Scores:  make([]float64, len(scores)),
		Labels:  labels,
	}
	for i := 0; i < len(boxes); i += 4 {
		end := min(i+4, len(boxes))
		row := make([]float64, 0, 4)
		for _, v := range boxes[i:end] {
			row = append(row, float64(v))
		}
		out.Boxes = append(out.Boxes, row)
	}
	for i, v := range classes {
		out.Classes[i] = float64(v)
	}
	for i, v := range scores {
		out.Scores[i] = float64(v)
	}
	return out, nil
}
