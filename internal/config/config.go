// Package config loads bom-sync settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"inventree_bom_sync/pkg/database"
	"inventree_bom_sync/pkg/logger"
)

// Config is the full runtime configuration.
type Config struct {
	InvenTree InvenTreeConfig `mapstructure:"inventree"`
	Mouser    MouserConfig    `mapstructure:"mouser"`
	LCSC      LCSCConfig      `mapstructure:"lcsc"`
	Database  database.Config `mapstructure:"database"`
	Log       logger.Config   `mapstructure:"log"`

	CategoryMap string `mapstructure:"category_map"` // empty uses the built-in map
	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables /metrics
}

type InvenTreeConfig struct {
	Host     string        `mapstructure:"host"`
	Token    string        `mapstructure:"token"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MouserConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LCSCConfig struct {
	Currency string        `mapstructure:"currency"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

var (
	ErrMissingHost      = errors.New("config: INVENTREE_API_HOST is required")
	ErrMissingMouserKey = errors.New("config: MOUSER_API_KEY is required")
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"inventree.host":     "INVENTREE_API_HOST",
	"inventree.token":    "INVENTREE_API_TOKEN",
	"inventree.username": "INVENTREE_API_USERNAME",
	"inventree.password": "INVENTREE_API_PASSWORD",
	"mouser.api_key":     "MOUSER_API_KEY",
	"lcsc.currency":      "BOM_SYNC_LCSC_CURRENCY",
	"category_map":       "BOM_SYNC_CATEGORY_MAP",
	"database.driver":    "BOM_SYNC_DB_DRIVER",
	"database.dsn":       "BOM_SYNC_DB_DSN",
	"log.level":          "BOM_SYNC_LOG_LEVEL",
	"log.format":         "BOM_SYNC_LOG_FORMAT",
	"metrics_addr":       "BOM_SYNC_METRICS_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inventree.timeout", 30*time.Second)
	v.SetDefault("mouser.timeout", 15*time.Second)
	v.SetDefault("lcsc.currency", "EUR")
	v.SetDefault("lcsc.timeout", 15*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "bom-sync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads .env (if present), then the config file at path (if non-empty),
// then the environment. Environment values win over the file.
func Load(path string) (*Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.InvenTree.Host = strings.TrimRight(strings.TrimSpace(cfg.InvenTree.Host), "/")
	return &cfg, nil
}

// Validate checks the settings the sync commands need, before any network call.
func (c *Config) Validate() error {
	if c.InvenTree.Host == "" {
		return ErrMissingHost
	}
	if c.InvenTree.Token == "" && c.InvenTree.Username == "" {
		return errors.New("config: set INVENTREE_API_TOKEN or INVENTREE_API_USERNAME/PASSWORD")
	}
	if strings.TrimSpace(c.Mouser.APIKey) == "" {
		return ErrMissingMouserKey
	}
	return nil
}
