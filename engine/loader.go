package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	iface "LiveDet/interface"
	"LiveDet/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// OpenNetFunc opens a tensors model from local files.
type OpenNetFunc func(weights, config string, m Manifest, useGPU bool) (iface.DetectionSource, error)

// ManifestLoader fetches a manifest from a URL (or local path), downloads
// the files it names into CacheDir and opens the matching DetectionSource.
type ManifestLoader struct {
	URL      string
	CacheDir string
	UseGPU   bool
	Timeout  time.Duration

	// OpenNet defaults to OpenNetSource.
	OpenNet OpenNetFunc

	client *resty.Client
}

func (l *ManifestLoader) Describe() string { return l.URL }

func (l *ManifestLoader) http() *resty.Client {
	if l.client == nil {
		timeout := l.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		l.client = resty.New().SetTimeout(timeout)
	}
	return l.client
}

func (l *ManifestLoader) fail(err error) error {
	return &iface.ModelLoadError{Source: l.URL, Err: err}
}

func (l *ManifestLoader) Load(ctx context.Context) (iface.DetectionSource, error) {
	raw, err := l.fetch(ctx, l.URL)
	if err != nil {
		return nil, l.fail(fmt.Errorf("fetch manifest: %w", err))
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, l.fail(fmt.Errorf("parse manifest: %w", err))
	}
	if err := m.Validate(); err != nil {
		return nil, l.fail(err)
	}

	switch m.Format {
	case FormatStructured:
		endpoint, err := l.resolve(m.Endpoint)
		if err != nil {
			return nil, l.fail(err)
		}
		return NewRemoteSource(l.http(), endpoint, m), nil
	default:
		weights, err := l.materialize(ctx, m.Weights)
		if err != nil {
			return nil, l.fail(fmt.Errorf("weights: %w", err))
		}
		var config string
		if m.Config != "" {
			if config, err = l.materialize(ctx, m.Config); err != nil {
				return nil, l.fail(fmt.Errorf("config: %w", err))
			}
		}
		if m.LabelsFile != "" {
			p, err := l.materialize(ctx, m.LabelsFile)
			if err != nil {
				return nil, l.fail(fmt.Errorf("labels: %w", err))
			}
			if m.Labels, err = ReadLabels(p); err != nil {
				return nil, l.fail(fmt.Errorf("labels: %w", err))
			}
		}
		open := l.OpenNet
		if open == nil {
			open = OpenNetSource
		}
		src, err := open(weights, config, m, l.UseGPU)
		if err != nil {
			return nil, l.fail(err)
		}
		return src, nil
	}
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (l *ManifestLoader) fetch(ctx context.Context, ref string) ([]byte, error) {
	if !isRemote(ref) {
		return os.ReadFile(strings.TrimPrefix(ref, "file://"))
	}
	resp, err := l.http().R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: %s", ref, resp.Status())
	}
	return resp.Body(), nil
}

// resolve turns a manifest-relative reference into an absolute URL or path.
func (l *ManifestLoader) resolve(ref string) (string, error) {
	if isRemote(ref) || filepath.IsAbs(ref) {
		return ref, nil
	}
	if isRemote(l.URL) {
		base, err := url.Parse(l.URL)
		if err != nil {
			return "", err
		}
		rel, err := url.Parse(ref)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(rel).String(), nil
	}
	return filepath.Join(filepath.Dir(strings.TrimPrefix(l.URL, "file://")), ref), nil
}

// cachePath places a remote file under a directory keyed by its full URL,
// so equal basenames from different manifests never collide.
func cachePath(dir, loc string, u *url.URL) string {
	sum := sha256.Sum256([]byte(loc))
	return filepath.Join(dir, hex.EncodeToString(sum[:8]), path.Base(u.Path))
}

// materialize returns a local path for ref, downloading remote files into
// the cache directory on first use.
func (l *ManifestLoader) materialize(ctx context.Context, ref string) (string, error) {
	loc, err := l.resolve(ref)
	if err != nil {
		return "", err
	}
	if !isRemote(loc) {
		if _, err := os.Stat(loc); err != nil {
			return "", err
		}
		return loc, nil
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	dir := l.CacheDir
	if dir == "" {
		dir = "models"
	}
	dst := cachePath(dir, loc, u)
	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	// only complete downloads are renamed into place
	part := dst + ".part"
	resp, err := l.http().R().SetContext(ctx).SetOutput(part).Get(loc)
	if err != nil {
		_ = os.Remove(part)
		return "", err
	}
	if resp.IsError() {
		_ = os.Remove(part)
		return "", fmt.Errorf("GET %s: %s", loc, resp.Status())
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return "", err
	}
	logger.Log().Info("model file downloaded", zap.String("url", loc), zap.String("path", dst))
	return dst, nil
}
