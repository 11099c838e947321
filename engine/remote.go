package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	iface "LiveDet/interface"

	"github.com/go-resty/resty/v2"
)

type remoteResponse struct {
	Predictions []iface.Prediction `json:"predictions"`
}

// RemoteSource posts each frame as JPEG to a detection endpoint that
// answers with structured predictions in pixel space.
type RemoteSource struct {
	client   *resty.Client
	endpoint string
	format   iface.BoxFormat
	labels   map[int]string
	Quality  int
}

func NewRemoteSource(client *resty.Client, endpoint string, m Manifest) *RemoteSource {
	format := m.BoxFormat
	if format == "" {
		format = iface.BoxXYWH
	}
	return &RemoteSource{client: client, endpoint: endpoint, format: format, labels: m.Labels, Quality: 85}
}

func (r *RemoteSource) Infer(ctx context.Context, frame image.Image) (iface.RawPrediction, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	var body remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(buf.Bytes()).
		SetResult(&body).
		Post(r.endpoint)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detect endpoint returned %s: %s", resp.Status(), resp.String())
	}
	return &iface.PredictionList{Items: body.Predictions, Format: r.format, Labels: r.labels}, nil
}

func (r *RemoteSource) Close() error { return nil }
