package core

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultWindowWidth  uint32 = 1536
	DefaultWindowHeight uint32 = 768
	DefaultFenceTimeout        = 100 * time.Millisecond
)

// Duration lets durations be written as strings ("100ms") in the config file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "bad duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type WindowConfig struct {
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
}

type RenderConfig struct {
	ClearColor    [4]float32 `toml:"clear_color"`
	ClearDepth    float32    `toml:"clear_depth"`
	FenceTimeout  Duration   `toml:"fence_timeout"`
	Validation    bool       `toml:"validation"`
	PreferMailbox bool       `toml:"prefer_mailbox"`
}

type LogConfig struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report_caller"`
}

type PipelinesConfig struct {
	Mesh          bool   `toml:"mesh"`
	MeshGrid      uint32 `toml:"mesh_grid"`
	Signal        bool   `toml:"signal"`
	SignalBins    uint32 `toml:"signal_bins"`
	SignalAverage uint32 `toml:"signal_average"`
	SignalHistory uint32 `toml:"signal_history"`
	Text          bool   `toml:"text"`
	Font          string `toml:"font"`
	Shaders       string `toml:"shaders"`
}

// Config is the on-disk configuration of the application.
type Config struct {
	Window    WindowConfig    `toml:"window"`
	Render    RenderConfig    `toml:"render"`
	Log       LogConfig       `toml:"log"`
	Pipelines PipelinesConfig `toml:"pipelines"`
}

func DefaultConfig() *Config {
	return &Config{
		Window: WindowConfig{
			Name:   "envgraph",
			Width:  DefaultWindowWidth,
			Height: DefaultWindowHeight,
			PosX:   100,
			PosY:   100,
		},
		Render: RenderConfig{
			ClearColor:    [4]float32{0.2, 0.2, 0.2, 0.2},
			ClearDepth:    1.0,
			FenceTimeout:  Duration{DefaultFenceTimeout},
			Validation:    true,
			PreferMailbox: true,
		},
		Log: LogConfig{
			Level:        "info",
			ReportCaller: true,
		},
		Pipelines: PipelinesConfig{
			Mesh:          true,
			MeshGrid:      64,
			SignalBins:    512,
			SignalAverage: 4,
			SignalHistory: 256,
			Text:          true,
			Font:          "assets/fonts/default.fnt",
			Shaders:       "assets/shaders",
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not
// an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	cfg, err := decodeConfig(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes a TOML document on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	return decodeConfig(bytes.NewReader(data))
}

func decodeConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.Wrapf(ErrInvalidConfig, "unknown keys:\n%s", strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, errors.Wrapf(ErrInvalidConfig, "line %d column %d: %s", row, col, decodeErr.Error())
		}
		return nil, errors.Mark(err, ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return errors.Wrapf(ErrInvalidConfig, "window size %dx%d", c.Window.Width, c.Window.Height)
	}
	if c.Render.FenceTimeout.Duration <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "fence_timeout must be positive, got %s", c.Render.FenceTimeout)
	}
	for i, v := range c.Render.ClearColor {
		if v < 0 || v > 1 {
			return errors.Wrapf(ErrInvalidConfig, "clear_color[%d] = %f out of [0,1]", i, v)
		}
	}
	if c.Render.ClearDepth < 0 || c.Render.ClearDepth > 1 {
		return errors.Wrapf(ErrInvalidConfig, "clear_depth = %f out of [0,1]", c.Render.ClearDepth)
	}
	if c.Pipelines.Mesh && c.Pipelines.MeshGrid < 2 {
		return errors.Wrapf(ErrInvalidConfig, "mesh_grid must be at least 2, got %d", c.Pipelines.MeshGrid)
	}
	if c.Pipelines.Signal {
		if c.Pipelines.SignalBins < 2 {
			return errors.Wrapf(ErrInvalidConfig, "signal_bins must be at least 2, got %d", c.Pipelines.SignalBins)
		}
		if c.Pipelines.SignalAverage == 0 || c.Pipelines.SignalHistory == 0 {
			return errors.Wrapf(ErrInvalidConfig, "signal_average and signal_history must be positive, got %d and %d",
				c.Pipelines.SignalAverage, c.Pipelines.SignalHistory)
		}
	}
	return nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
