package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "console", config.Logger.Format)
		assert.Equal(t, "cpu", config.Device.Kind)
		assert.Equal(t, 8, config.Device.ComputeUnits)
		assert.Equal(t, int64(64<<20), config.Device.MemoryLimit)
		assert.Equal(t, 512, config.Device.MaxWorkGroupSize)
		assert.Equal(t, 8, config.Kernels.GroupSize)
		assert.Equal(t, 64, config.Benchmark.N)
		assert.Equal(t, 32, config.Benchmark.K)
		assert.Equal(t, 48, config.Benchmark.M)
		assert.Equal(t, "float32", config.Benchmark.DType)
		assert.Equal(t, "column-major", config.Benchmark.Order)
		assert.Equal(t, []string{"multiply"}, config.Benchmark.Variants)
		assert.Equal(t, int64(99), config.Benchmark.Seed)
		assert.Equal(t, "127.0.0.1:9000", config.Server.ListenAddress)
		assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)
	})

	t.Run("unset keys keep defaults", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)

		def := Default()
		assert.Equal(t, def.Kernels.TileSize, config.Kernels.TileSize)
		assert.Equal(t, def.Device.LocalMemSize, config.Device.LocalMemSize)
		assert.Equal(t, def.Benchmark.Repetitions, config.Benchmark.Repetitions)
		assert.Equal(t, def.Server.WriteTimeout, config.Server.WriteTimeout)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("kernels:\n  tileSize: 32\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kernels.tileSize")
	})
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.Equal(t, kernels.TileSize, Default().Kernels.TileSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"device kind", func(c *Config) { c.Device.Kind = "fpga" }, "device.kind"},
		{"negative memory limit", func(c *Config) { c.Device.MemoryLimit = -1 }, "negative"},
		{"tile does not fit group", func(c *Config) { c.Device.MaxWorkGroupSize = 128 }, "16x16 tile"},
		{"elementwise group too large", func(c *Config) { c.Kernels.GroupSize = 32 }, "elementwise group"},
		{"zero group size", func(c *Config) { c.Kernels.GroupSize = 0 }, "kernels.groupSize"},
		{"dtype", func(c *Config) { c.Benchmark.DType = "complex64" }, "benchmark.dtype"},
		{"order", func(c *Config) { c.Benchmark.Order = "zigzag" }, "benchmark.order"},
		{"dimensions", func(c *Config) { c.Benchmark.K = 0 }, "256x0x256"},
		{"repetitions", func(c *Config) { c.Benchmark.Repetitions = 0 }, "repetitions"},
		{"range", func(c *Config) { c.Benchmark.Min = 10 }, "range"},
		{"tolerance", func(c *Config) { c.Benchmark.Tolerance = -1 }, "tolerance"},
		{"listen address", func(c *Config) { c.Server.ListenAddress = "" }, "listenAddress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
