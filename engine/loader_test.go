package engine

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	iface "LiveDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_Validate(t *testing.T) {
	cases := []struct {
		name string
		m    Manifest
		ok   bool
	}{
		{"tensors", Manifest{Format: FormatTensors, Weights: "w.pb", Outputs: []string{"a", "b", "c"}}, true},
		{"tensors no weights", Manifest{Format: FormatTensors, Outputs: []string{"a", "b", "c"}}, false},
		{"tensors two outputs", Manifest{Format: FormatTensors, Weights: "w.pb", Outputs: []string{"a", "b"}}, false},
		{"tensors negative size", Manifest{Format: FormatTensors, Weights: "w.pb", Outputs: []string{"a", "b", "c"}, InputWidth: -1}, false},
		{"structured", Manifest{Format: FormatStructured, Endpoint: "/detect"}, true},
		{"structured xyxy", Manifest{Format: FormatStructured, Endpoint: "/detect", BoxFormat: iface.BoxXYXY}, true},
		{"structured no endpoint", Manifest{Format: FormatStructured}, false},
		{"structured bad box format", Manifest{Format: FormatStructured, Endpoint: "/detect", BoxFormat: "cxcywh"}, false},
		{"unknown format", Manifest{Format: "yolo"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.m.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestReadLabels(t *testing.T) {
	p := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(p, []byte("person\r\nbicycle\n\ncar\n"), 0o644))
	labels, err := ReadLabels(p)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "person", 2: "bicycle", 4: "car"}, labels)

	_, err = ReadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestTensorOutput(t *testing.T) {
	out, err := TensorOutput(
		[]float32{0.1, 0.2, 0.5, 0.6, 0.3, 0.3, 0.4},
		[]float32{1, 2},
		[]float32{0.9, 0.1},
		map[int]string{1: "person"},
	)
	require.NoError(t, err)
	require.Len(t, out.Boxes, 2)
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.5, 0.6}, out.Boxes[0], 1e-6)
	assert.Len(t, out.Boxes[1], 3)
	assert.Equal(t, []float64{1, 2}, out.Classes)
	assert.InDeltaSlice(t, []float64{0.9, 0.1}, out.Scores, 1e-6)
	assert.Equal(t, "person", out.Labels[1])

	_, err = TensorOutput(nil, []float32{}, []float32{}, nil)
	assert.Error(t, err)
}

func TestManifestLoader_Structured(t *testing.T) {
	var gotType string
	var gotImage bool
	mux := http.NewServeMux()
	mux.HandleFunc("/models/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Manifest{
			Format:    FormatStructured,
			Endpoint:  "detect",
			BoxFormat: iface.BoxXYXY,
			Labels:    map[int]string{3: "kangaroo"},
		})
	})
	mux.HandleFunc("/models/detect", func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		_, err := jpeg.Decode(r.Body)
		gotImage = err == nil
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"predictions":[{"bbox":[10,10,50,30],"class":"","classId":3,"score":0.9}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := &ManifestLoader{URL: srv.URL + "/models/manifest.json"}
	src, err := l.Load(context.Background())
	require.NoError(t, err)
	defer src.Close()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	raw, err := src.Infer(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", gotType)
	assert.True(t, gotImage)

	list, ok := raw.(*iface.PredictionList)
	require.True(t, ok)
	assert.Equal(t, iface.BoxXYXY, list.Format)
	require.Len(t, list.Items, 1)
	assert.Equal(t, []float64{10, 10, 50, 30}, list.Items[0].Box)
	assert.Equal(t, 3, list.Items[0].ClassID)
	assert.Equal(t, "kangaroo", list.Labels[3])
}

func TestRemoteSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := &ManifestLoader{URL: srv.URL}
	src := NewRemoteSource(l.http(), srv.URL, Manifest{})
	assert.Equal(t, iface.BoxXYWH, src.format)
	_, err := src.Infer(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorContains(t, err, "503")
}

func TestManifestLoader_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad.json":
			_, _ = io.WriteString(w, "{not json")
		case "/invalid.json":
			_, _ = io.WriteString(w, `{"format":"tensors","outputs":["a"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	for _, p := range []string{"/missing.json", "/bad.json", "/invalid.json"} {
		t.Run(p, func(t *testing.T) {
			l := &ManifestLoader{URL: srv.URL + p}
			_, err := l.Load(context.Background())
			var mle *iface.ModelLoadError
			require.ErrorAs(t, err, &mle)
			assert.Equal(t, srv.URL+p, mle.Source)
		})
	}
}

func TestManifestLoader_TensorsDownload(t *testing.T) {
	var weightHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/m/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"format": "tensors",
			"weights": "frozen.pb",
			"labelsFile": "labels.txt",
			"inputName": "image_tensor",
			"inputWidth": 300,
			"inputHeight": 300,
			"outputs": ["boxes", "classes", "scores"]
		}`)
	})
	mux.HandleFunc("/m/frozen.pb", func(w http.ResponseWriter, r *http.Request) {
		weightHits++
		_, _ = io.WriteString(w, "weights-bytes")
	})
	mux.HandleFunc("/m/labels.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "person\nbicycle\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := t.TempDir()
	var gotWeights string
	var gotManifest Manifest
	l := &ManifestLoader{
		URL:      srv.URL + "/m/manifest.json",
		CacheDir: cache,
		OpenNet: func(weights, config string, m Manifest, useGPU bool) (iface.DetectionSource, error) {
			gotWeights = weights
			gotManifest = m
			return &fakeSource{}, nil
		},
	}

	_, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache, filepath.Dir(filepath.Dir(gotWeights)))
	assert.Equal(t, "frozen.pb", filepath.Base(gotWeights))
	b, err := os.ReadFile(gotWeights)
	require.NoError(t, err)
	assert.Equal(t, "weights-bytes", string(b))
	assert.Equal(t, map[int]string{1: "person", 2: "bicycle"}, gotManifest.Labels)
	assert.Equal(t, 300, gotManifest.InputWidth)

	// second load is served from the cache
	_, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, weightHits)
}

func TestManifestLoader_CacheKeyedByURL(t *testing.T) {
	mux := http.NewServeMux()
	for _, name := range []string{"a", "b"} {
		body := "weights-" + name
		mux.HandleFunc("/"+name+"/manifest.json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"format":"tensors","weights":"model.onnx","outputs":["a","b","c"]}`)
		})
		mux.HandleFunc("/"+name+"/model.onnx", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := t.TempDir()
	var opened []string
	open := func(weights, config string, m Manifest, useGPU bool) (iface.DetectionSource, error) {
		b, err := os.ReadFile(weights)
		if err != nil {
			return nil, err
		}
		opened = append(opened, string(b))
		return &fakeSource{}, nil
	}

	t.Run("Test Same Basename", func(t *testing.T) {
		for _, name := range []string{"a", "b", "a"} {
			l := &ManifestLoader{URL: srv.URL + "/" + name + "/manifest.json", CacheDir: cache, OpenNet: open}
			_, err := l.Load(context.Background())
			require.NoError(t, err)
		}
		assert.Equal(t, []string{"weights-a", "weights-b", "weights-a"}, opened)
	})

	t.Run("Test Partial Download Ignored", func(t *testing.T) {
		loc := srv.URL + "/b/model.onnx"
		u, err := url.Parse(loc)
		require.NoError(t, err)
		dst := cachePath(cache, loc, u)
		require.NoError(t, os.Remove(dst))
		require.NoError(t, os.WriteFile(dst+".part", []byte("weig"), 0o644))

		opened = nil
		l := &ManifestLoader{URL: srv.URL + "/b/manifest.json", CacheDir: cache, OpenNet: open}
		_, err = l.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"weights-b"}, opened)
		_, err = os.Stat(dst + ".part")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestManifestLoader_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.onnx"), []byte("x"), 0o644))
	manifest := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"format":"tensors","weights":"w.onnx","outputs":["a","b","c"]}`), 0o644))

	var gotWeights string
	l := &ManifestLoader{
		URL: "file://" + manifest,
		OpenNet: func(weights, config string, m Manifest, useGPU bool) (iface.DetectionSource, error) {
			gotWeights = weights
			return &fakeSource{}, nil
		},
	}
	_, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w.onnx"), gotWeights)

	require.NoError(t, os.Remove(filepath.Join(dir, "w.onnx")))
	_, err = l.Load(context.Background())
	assert.Error(t, err)
}
