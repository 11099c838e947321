package config

import (
	"errors"
	"fmt"
	"os"

	iface "LiveDet/interface"
	"LiveDet/logger"

	"gopkg.in/yaml.v3"
)

type ModelConfig struct {
	ManifestURL    string `yaml:"manifestURL"`
	CacheDir       string `yaml:"cacheDir"`
	UseGPU         bool   `yaml:"useGPU"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type CameraConfig struct {
	// Source is "device" for a capture device or "file" for a video file.
	Source      string                   `yaml:"source"`
	File        string                   `yaml:"file"`
	Devices     map[iface.FacingMode]int `yaml:"devices"`
	Constraints iface.Constraints        `yaml:",inline"`
}

type LoopConfig struct {
	Cadence    string `yaml:"cadence"`
	RefreshHz  int    `yaml:"refreshHz"`
	IntervalMs int    `yaml:"intervalMs"`
}

type RegistryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
}

type LogConfig struct {
	Mode string             `yaml:"mode"`
	File logger.FileOptions `yaml:"file"`
}

type Config struct {
	HTTPPort         int            `yaml:"httpPort"`
	RPCPort          int            `yaml:"rpcPort"`
	MetricsPort      int            `yaml:"metricsPort"`
	Threshold        float64        `yaml:"threshold"`
	GalleryCapacity  int            `yaml:"galleryCapacity"`
	AdvertiseAddress string         `yaml:"advertiseAddress"`
	Model            ModelConfig    `yaml:"model"`
	Camera           CameraConfig   `yaml:"camera"`
	Loop             LoopConfig     `yaml:"loop"`
	Registry         RegistryConfig `yaml:"registry"`
	Log              LogConfig      `yaml:"log"`
}

// Default mirrors the demo page: 1280x720 min, 1920x1080 ideal,
// 2560x1440 max, front camera, threshold 0.5.
func Default() Config {
	return Config{
		HTTPPort:        8080,
		RPCPort:         50051,
		MetricsPort:     9100,
		Threshold:       0.5,
		GalleryCapacity: 20,
		Model: ModelConfig{
			CacheDir:       "models",
			TimeoutSeconds: 30,
		},
		Camera: CameraConfig{
			Source: "device",
			Devices: map[iface.FacingMode]int{
				iface.FacingUser:        0,
				iface.FacingEnvironment: 1,
			},
			Constraints: iface.Constraints{
				Width:      iface.Range{Min: 1280, Ideal: 1920, Max: 2560},
				Height:     iface.Range{Min: 720, Ideal: 1080, Max: 1440},
				FacingMode: iface.FacingUser,
			},
		},
		Loop: LoopConfig{
			Cadence:    "refresh",
			RefreshHz:  60,
			IntervalMs: 100,
		},
		Registry: RegistryConfig{IntervalSeconds: 5},
		Log:      LogConfig{Mode: "production"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in [0, 1), got %v", c.Threshold))
	}
	if c.Model.ManifestURL == "" {
		errs = append(errs, errors.New("model.manifestURL cannot be empty"))
	}
	if !c.Camera.Constraints.FacingMode.Valid() {
		errs = append(errs, fmt.Errorf("camera.facingMode must be user or environment, got %q", c.Camera.Constraints.FacingMode))
	}
	for name, r := range map[string]iface.Range{"width": c.Camera.Constraints.Width, "height": c.Camera.Constraints.Height} {
		if r.Min > 0 && r.Max > 0 && r.Min > r.Max {
			errs = append(errs, fmt.Errorf("camera.%s: min %d > max %d", name, r.Min, r.Max))
		}
		if r.Ideal > 0 && !r.Contains(r.Ideal) {
			errs = append(errs, fmt.Errorf("camera.%s: ideal %d outside [min, max]", name, r.Ideal))
		}
	}
	switch c.Camera.Source {
	case "device":
	case "file":
		if c.Camera.File == "" {
			errs = append(errs, errors.New("camera.file is required when camera.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("camera.source must be device or file, got %q", c.Camera.Source))
	}
	switch c.Loop.Cadence {
	case "refresh":
		if c.Loop.RefreshHz <= 0 {
			errs = append(errs, errors.New("loop.refreshHz must be positive"))
		}
	case "interval":
		if c.Loop.IntervalMs <= 0 {
			errs = append(errs, errors.New("loop.intervalMs must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("loop.cadence must be refresh or interval, got %q", c.Loop.Cadence))
	}
	if c.GalleryCapacity <= 0 {
		errs = append(errs, errors.New("galleryCapacity must be positive"))
	}
	if c.Registry.Enabled && (c.Registry.Host == "" || c.Registry.Port <= 0) {
		errs = append(errs, errors.New("registry.host and registry.port are required when registry is enabled"))
	}
	return errors.Join(errs...)
}
