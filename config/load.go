package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the config file at path when it exists and applies env overrides.
// An empty path reads the environment only.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *AppConfig) validate() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case "sqlite":
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("db_path is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.DBURL) == "" {
			return errors.New("db_url is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if strings.TrimSpace(c.Security.UserHeader) == "" {
		return errors.New("security.user_header is required")
	}
	if c.IsProduction() && c.Security.TrustAllPeers {
		return errors.New("security.trust_all_peers is not allowed in production")
	}
	return nil
}
