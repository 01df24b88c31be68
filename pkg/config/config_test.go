package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklet-app/linklet/pkg/config"
)

type testConfig struct {
	Addr  string `env:"TEST_CFG_ADDR" envDefault:":9090"`
	Level int    `env:"TEST_CFG_LEVEL" envDefault:"3"`
}

type requiredConfig struct {
	Secret string `env:"TEST_CFG_MISSING_SECRET,required"`
}

func TestLoadDefaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 3, cfg.Level)
}

func TestLoadCachesPerType(t *testing.T) {
	var first testConfig
	require.NoError(t, config.Load(&first))

	// Env changes after first load must not affect the cached value.
	t.Setenv("TEST_CFG_ADDR", ":1234")

	var second testConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, first.Addr, second.Addr)
}

func TestLoadRequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoadNilPointer(t *testing.T) {
	var cfg *testConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}
