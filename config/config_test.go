package config

import (
	"os"
	"path/filepath"
	"testing"

	iface "LiveDet/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		p := write(t, `
httpPort: 9090
threshold: 0.66
model:
  manifestURL: https://example.com/kangaroo-detector/manifest.json
camera:
  facingMode: environment
  width: {min: 640, ideal: 1280, max: 1920}
loop:
  cadence: interval
  intervalMs: 250
`)
		cfg, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.HTTPPort)
		assert.Equal(t, 0.66, cfg.Threshold)
		assert.Equal(t, iface.FacingEnvironment, cfg.Camera.Constraints.FacingMode)
		assert.Equal(t, iface.Range{Min: 640, Ideal: 1280, Max: 1920}, cfg.Camera.Constraints.Width)
		assert.Equal(t, iface.Range{Min: 720, Ideal: 1080, Max: 1440}, cfg.Camera.Constraints.Height)
		assert.Equal(t, "interval", cfg.Loop.Cadence)
		assert.Equal(t, 250, cfg.Loop.IntervalMs)
		assert.Equal(t, 50051, cfg.RPCPort)
		assert.Equal(t, 1, cfg.Camera.Devices[iface.FacingEnvironment])
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(write(t, "threshold: [1"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Model.ManifestURL = "models/manifest.json"
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"threshold one":     func(c *Config) { c.Threshold = 1 },
		"negative":          func(c *Config) { c.Threshold = -0.1 },
		"no manifest":       func(c *Config) { c.Model.ManifestURL = "" },
		"facing":            func(c *Config) { c.Camera.Constraints.FacingMode = "left" },
		"min above max":     func(c *Config) { c.Camera.Constraints.Width = iface.Range{Min: 10, Max: 5} },
		"ideal out of band": func(c *Config) { c.Camera.Constraints.Height.Ideal = 5000 },
		"file without path": func(c *Config) { c.Camera.Source = "file" },
		"bad source":        func(c *Config) { c.Camera.Source = "rtsp" },
		"bad cadence":       func(c *Config) { c.Loop.Cadence = "vsync" },
		"zero hz":           func(c *Config) { c.Loop.RefreshHz = 0 },
		"zero gallery":      func(c *Config) { c.GalleryCapacity = 0 },
		"registry":          func(c *Config) { c.Registry.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			c.Camera.Devices = nil
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
