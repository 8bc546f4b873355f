package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Format    string `yaml:"format"`
	} `yaml:"logger"`
	Device    Device    `yaml:"device"`
	Kernels   Kernels   `yaml:"kernels"`
	Benchmark Benchmark `yaml:"benchmark"`
	Server    Server    `yaml:"server"`
}

type Device struct {
	// Kind is gpu, cpu or any.
	Kind             string `yaml:"kind"`
	ComputeUnits     int    `yaml:"computeUnits"`
	MemoryLimit      int64  `yaml:"memoryLimit"`
	MaxWorkGroupSize int    `yaml:"maxWorkGroupSize"`
	LocalMemSize     int64  `yaml:"localMemSize"`
}

type Kernels struct {
	TileSize  int `yaml:"tileSize"`
	GroupSize int `yaml:"groupSize"`
}

type Benchmark struct {
	Operation       string   `yaml:"operation"`
	N               int      `yaml:"n"`
	K               int      `yaml:"k"`
	M               int      `yaml:"m"`
	DType           string   `yaml:"dtype"`
	Order           string   `yaml:"order"`
	Min             float64  `yaml:"min"`
	Max             float64  `yaml:"max"`
	Scalar          float64  `yaml:"scalar"`
	Repetitions     int      `yaml:"repetitions"`
	Seed            int64    `yaml:"seed"`
	Variants        []string `yaml:"variants"`
	Tolerance       float64  `yaml:"tolerance"`
	ReferenceLimit  int64    `yaml:"referenceLimit"`
	FreivaldsRounds int      `yaml:"freivaldsRounds"`
}

type Server struct {
	ListenAddress string        `yaml:"listenAddress"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
}

// Default returns the configuration used for every key a file leaves unset.
func Default() *Config {
	c := &Config{
		Device: Device{
			Kind:             "gpu",
			ComputeUnits:     runtime.NumCPU(),
			MemoryLimit:      1 << 30,
			MaxWorkGroupSize: 256,
			LocalMemSize:     32 << 10,
		},
		Kernels: Kernels{TileSize: kernels.TileSize, GroupSize: 16},
		Benchmark: Benchmark{
			Operation:       "multiply",
			N:               256,
			K:               256,
			M:               256,
			DType:           "int32",
			Order:           "row-major",
			Min:             1,
			Max:             5,
			Repetitions:     1,
			Variants:        []string{"multiply_simple", "multiply"},
			Tolerance:       1e-4,
			ReferenceLimit:  1 << 27,
			FreivaldsRounds: 8,
		},
		Server: Server{
			ListenAddress: ":8090",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  5 * time.Minute,
		},
	}
	c.Logger.Verbosity = "info"
	c.Logger.Format = "json"
	return c
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	switch c.Device.Kind {
	case "gpu", "cpu", "any":
	default:
		return fmt.Errorf("device.kind must be gpu, cpu or any, got %q", c.Device.Kind)
	}
	if c.Device.ComputeUnits < 0 || c.Device.MemoryLimit < 0 || c.Device.MaxWorkGroupSize < 0 || c.Device.LocalMemSize < 0 {
		return fmt.Errorf("device limits must not be negative")
	}

	if c.Kernels.TileSize != kernels.TileSize {
		return fmt.Errorf("kernels.tileSize must be %d, the tile edge the multiply kernel is compiled for, got %d", kernels.TileSize, c.Kernels.TileSize)
	}
	if c.Kernels.GroupSize <= 0 {
		return fmt.Errorf("kernels.groupSize must be positive, got %d", c.Kernels.GroupSize)
	}
	if limit := c.Device.MaxWorkGroupSize; limit > 0 {
		if t := c.Kernels.TileSize; t*t > limit {
			return fmt.Errorf("device.maxWorkGroupSize %d cannot hold a %dx%d tile", limit, t, t)
		}
		if g := c.Kernels.GroupSize; g*g > limit {
			return fmt.Errorf("device.maxWorkGroupSize %d cannot hold a %dx%d elementwise group", limit, g, g)
		}
	}

	b := c.Benchmark
	if _, err := matrix.ParseDType(b.DType); err != nil {
		return fmt.Errorf("benchmark.dtype: %w", err)
	}
	if _, err := matrix.ParseOrder(b.Order); err != nil {
		return fmt.Errorf("benchmark.order: %w", err)
	}
	if b.N <= 0 || b.K <= 0 || b.M <= 0 {
		return fmt.Errorf("benchmark dimensions must be positive, got %dx%dx%d", b.N, b.K, b.M)
	}
	if b.Repetitions < 1 {
		return fmt.Errorf("benchmark.repetitions must be at least 1, got %d", b.Repetitions)
	}
	if b.Max < b.Min {
		return fmt.Errorf("benchmark range [%v, %v] is empty", b.Min, b.Max)
	}
	if b.Tolerance < 0 {
		return fmt.Errorf("benchmark.tolerance must not be negative")
	}

	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listenAddress is required")
	}
	return nil
}
