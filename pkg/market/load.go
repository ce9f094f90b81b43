package market

import (
	"fmt"

	"github.com/spf13/viper"
)

// fileConfig is the on-disk shape: a list of market configs under a
// top-level "markets" key, so one file can describe an entire
// deployment's market set.
type fileConfig struct {
	Markets []Config `mapstructure:"markets"`
}

// LoadRegistry reads market configs from a YAML file at path and
// registers each of them, erroring on the first invalid or duplicate
// entry.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load market config %s: %w", path, err)
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse market config %s: %w", path, err)
	}

	reg := NewRegistry()
	for i := range cfg.Markets {
		if err := reg.RegisterMarket(&cfg.Markets[i]); err != nil {
			return nil, fmt.Errorf("load market config %s: %w", path, err)
		}
	}
	return reg, nil
}
