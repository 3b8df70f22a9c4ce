// Package config loads pool definitions from a configuration file and the
// environment. A config file lists pools by name with a connection URL and
// optional pool settings. OXYDE_-prefixed environment variables are consulted
// for top-level keys only; values inside the pools list are not overridden
// from the environment.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/mr-fatalyst/oxyde/driver"
	"github.com/mr-fatalyst/oxyde/oxerr"
)

// PoolConfig is one pool entry of the configuration. Settings keys sit at
// the same level as name and url.
type PoolConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`

	driver.PoolSettings `mapstructure:",squash"`
}

// Load reads pool definitions from path. Supported formats are whatever
// viper recognises from the file extension (yaml, toml, json).
func Load(path string) ([]PoolConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OXYDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, oxerr.Wrap(oxerr.KindConfig, err, "reading config %q", path)
	}

	var raw struct {
		Pools []PoolConfig `mapstructure:"pools"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, oxerr.Wrap(oxerr.KindConfig, err, "parsing config %q", path)
	}
	if len(raw.Pools) == 0 {
		return nil, oxerr.New(oxerr.KindConfig, "config %q defines no pools", path)
	}

	seen := make(map[string]bool)
	for i := range raw.Pools {
		p := &raw.Pools[i]
		if p.Name == "" {
			return nil, oxerr.New(oxerr.KindConfig, "pool %d has no name", i)
		}
		if seen[p.Name] {
			return nil, oxerr.New(oxerr.KindConfig, "pool %q is defined twice", p.Name)
		}
		seen[p.Name] = true
		if _, _, err := driver.ParseURL(p.URL); err != nil {
			return nil, err
		}
		if err := p.PoolSettings.Validate(); err != nil {
			return nil, err
		}
	}
	return raw.Pools, nil
}
