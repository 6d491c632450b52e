package graindb

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the embedder-facing knob set. The core components take plain
// parameters at construction; this struct only exists so an embedder can
// source them from the environment in one place.
type Config struct {
	PoolSize               int           `mapstructure:"pool_size"`
	ReplacerK              int           `mapstructure:"replacer_k"`
	LeafMaxSize            int           `mapstructure:"leaf_max_size"`
	InternalMaxSize        int           `mapstructure:"internal_max_size"`
	CycleDetectionInterval time.Duration `mapstructure:"cycle_detection_interval"`
}

// DefaultConfig returns the defaults, overridable through GRAINDB_* env vars
// (GRAINDB_POOL_SIZE, GRAINDB_REPLACER_K, ...).
func DefaultConfig() (Config, error) {
	v := viper.New()
	v.SetDefault("pool_size", 64)
	v.SetDefault("replacer_k", 2)
	v.SetDefault("leaf_max_size", 128)
	v.SetDefault("internal_max_size", 128)
	v.SetDefault("cycle_detection_interval", 50*time.Millisecond)

	v.SetEnvPrefix("graindb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
