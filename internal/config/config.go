package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/source"
)

// ExampleConfigPath is the annotated sample shipped with the repository.
const ExampleConfigPath = "config/csi-motion.example.yaml"

// maxFileSize bounds a config file (1MB).
const maxFileSize = 1 * 1024 * 1024

// Config is the runtime configuration for csi-motion. Pointer fields are
// optional; the Get* methods supply defaults for any field left unset, so
// partial files are safe.
type Config struct {
	// Pipeline params
	WindowSize          *int     `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	SmoothingSpan       *int     `json:"smoothing_span,omitempty" yaml:"smoothing_span,omitempty"`
	ThresholdScale      *float64 `json:"threshold_scale,omitempty" yaml:"threshold_scale,omitempty"`
	Reduction           *string  `json:"reduction,omitempty" yaml:"reduction,omitempty"` // average | indexed
	SubcarrierIndex     *int     `json:"subcarrier_index,omitempty" yaml:"subcarrier_index,omitempty"`
	Mode                *string  `json:"mode,omitempty" yaml:"mode,omitempty"` // windowed | streaming
	MinStreamingSamples *int     `json:"min_streaming_samples,omitempty" yaml:"min_streaming_samples,omitempty"`

	// Scheduling params, duration strings like "100ms"
	TickInterval *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`
	Pacing       *string `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	Source SourceConfig `json:"source" yaml:"source"`

	// Outputs
	HTTPListen *string    `json:"http_listen,omitempty" yaml:"http_listen,omitempty"`
	MQTT       MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

// SourceConfig selects where raw records come from.
type SourceConfig struct {
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty"` // file | serial | udp | pcap
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// MQTTConfig enables activity publishing when Broker is set.
type MQTTConfig struct {
	Broker         string `json:"broker,omitempty" yaml:"broker,omitempty"` // e.g. tcp://localhost:1883
	Topic          string `json:"topic,omitempty" yaml:"topic,omitempty"`
	ClientID       string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	StatusInterval string `json:"status_interval,omitempty" yaml:"status_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns a Config with every optional field populated.
func DefaultConfig() *Config {
	return &Config{
		WindowSize:          ptrInt(csi.DefaultCapacity),
		SmoothingSpan:       ptrInt(csi.DefaultSmoothingSpan),
		ThresholdScale:      ptrFloat64(csi.DefaultThresholdScale),
		Reduction:           ptrString(csi.PolicyAverage.String()),
		SubcarrierIndex:     ptrInt(150),
		Mode:                ptrString(csi.ModeWindowed.String()),
		MinStreamingSamples: ptrInt(csi.DefaultMinStreamingSamples),
		TickInterval:        ptrString(csi.DefaultTickInterval.String()),
		Pacing:              ptrString(csi.DefaultPacing.String()),
		Source: SourceConfig{
			Kind:     source.KindFile,
			Address:  ":5566",
			BaudRate: source.DefaultBaudRate,
		},
		HTTPListen: ptrString(":8080"),
		MQTT:       MQTTConfig{Topic: "csimotion", StatusInterval: "30s"},
	}
}

// Load reads a Config from a .json, .yaml or .yml file. Fields omitted from
// the file keep their zero value and fall back to defaults via Get*.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", *c.WindowSize)
	}
	if c.SmoothingSpan != nil && *c.SmoothingSpan < 1 {
		return fmt.Errorf("smoothing_span must be at least 1, got %d", *c.SmoothingSpan)
	}
	if c.ThresholdScale != nil && *c.ThresholdScale <= 0 {
		return fmt.Errorf("threshold_scale must be positive, got %g", *c.ThresholdScale)
	}
	if c.SubcarrierIndex != nil && *c.SubcarrierIndex < 0 {
		return fmt.Errorf("subcarrier_index must be non-negative, got %d", *c.SubcarrierIndex)
	}
	if c.Reduction != nil {
		if _, err := csi.ParsePolicy(*c.Reduction); err != nil {
			return err
		}
	}
	if c.Mode != nil {
		if _, err := csi.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.MinStreamingSamples != nil && *c.MinStreamingSamples < csi.DefaultMinStreamingSamples {
		return fmt.Errorf("min_streaming_samples must be at least %d, got %d",
			csi.DefaultMinStreamingSamples, *c.MinStreamingSamples)
	}

	for name, v := range map[string]*string{"tick_interval": c.TickInterval, "pacing": c.Pacing} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.MQTT.StatusInterval != "" {
		if _, err := time.ParseDuration(c.MQTT.StatusInterval); err != nil {
			return fmt.Errorf("invalid mqtt.status_interval '%s': %w", c.MQTT.StatusInterval, err)
		}
	}

	switch strings.ToLower(c.Source.Kind) {
	case "", source.KindFile, source.KindSerial, source.KindUDP, source.KindPCAP:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Source.Port < 0 || c.Source.Port > 65535 {
		return fmt.Errorf("source port out of range: %d", c.Source.Port)
	}
	if _, err := c.portOptions().Normalize(); err != nil {
		return fmt.Errorf("serial options: %w", err)
	}
	return nil
}

// GetWindowSize returns the window_size value or the default.
func (c *Config) GetWindowSize() int {
	if c.WindowSize == nil {
		return csi.DefaultCapacity
	}
	return *c.WindowSize
}

// GetSmoothingSpan returns the smoothing_span value or the default.
func (c *Config) GetSmoothingSpan() int {
	if c.SmoothingSpan == nil {
		return csi.DefaultSmoothingSpan
	}
	return *c.SmoothingSpan
}

// GetThresholdScale returns the threshold_scale value or the default.
func (c *Config) GetThresholdScale() float64 {
	if c.ThresholdScale == nil {
		return csi.DefaultThresholdScale
	}
	return *c.ThresholdScale
}

// GetReduction returns the reduction policy name or the default.
func (c *Config) GetReduction() string {
	if c.Reduction == nil || *c.Reduction == "" {
		return csi.PolicyAverage.String()
	}
	return *c.Reduction
}

// GetSubcarrierIndex returns the subcarrier_index value or the default.
func (c *Config) GetSubcarrierIndex() int {
	if c.SubcarrierIndex == nil {
		return 150
	}
	return *c.SubcarrierIndex
}

// GetMode returns the operating mode name or the default.
func (c *Config) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return csi.ModeWindowed.String()
	}
	return *c.Mode
}

// GetMinStreamingSamples returns the min_streaming_samples value or the default.
func (c *Config) GetMinStreamingSamples() int {
	if c.MinStreamingSamples == nil {
		return csi.DefaultMinStreamingSamples
	}
	return *c.MinStreamingSamples
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *Config) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, csi.DefaultTickInterval)
}

// GetPacing parses and returns the Pacing as a time.Duration.
func (c *Config) GetPacing() time.Duration {
	return parseDurationOr(c.Pacing, csi.DefaultPacing)
}

// GetHTTPListen returns the http_listen address or the default.
func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return ":8080"
	}
	return *c.HTTPListen
}

// GetStatusInterval parses the MQTT status period; 0 disables it.
func (m MQTTConfig) GetStatusInterval() time.Duration {
	if m.StatusInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(m.StatusInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// PipelineConfig maps the pipeline params onto a csi.Config.
func (c *Config) PipelineConfig() (csi.Config, error) {
	policy, err := csi.ParsePolicy(c.GetReduction())
	if err != nil {
		return csi.Config{}, err
	}
	mode, err := csi.ParseMode(c.GetMode())
	if err != nil {
		return csi.Config{}, err
	}
	cfg := csi.Config{
		Capacity:            c.GetWindowSize(),
		SmoothingSpan:       c.GetSmoothingSpan(),
		ThresholdScale:      c.GetThresholdScale(),
		Policy:              policy,
		Index:               c.GetSubcarrierIndex(),
		Mode:                mode,
		MinStreamingSamples: c.GetMinStreamingSamples(),
	}
	return cfg, cfg.Validate()
}

// SourceConfig maps the source section onto a source.Config.
func (c *Config) SourceConfig() source.Config {
	kind := c.Source.Kind
	if kind == "" {
		kind = source.KindFile
	}
	return source.Config{
		Kind:    kind,
		Path:    c.Source.Path,
		Address: c.Source.Address,
		Port:    c.Source.Port,
		Serial:  c.portOptions(),
	}
}

func (c *Config) portOptions() source.PortOptions {
	return source.PortOptions{
		BaudRate: c.Source.BaudRate,
		DataBits: c.Source.DataBits,
		StopBits: c.Source.StopBits,
		Parity:   c.Source.Parity,
	}
}
