package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/inkwell-notes/inkwell/internal/records"
)

const (
	envPrefix           = "INKWELL"
	defaultHTTPAddress  = "0.0.0.0:3000"
	defaultDatabasePath = "inkwell.db"
	defaultLogLevel     = "info"
	defaultVersionMode  = string(records.VersionModeCompat)
)

// AppConfig captures runtime configuration for the sync server and the
// one-shot sync client.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SyncKey         string
	SyncServerURL   string
	VersionMode     records.VersionMode
	SerializeWrites bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.version_mode", defaultVersionMode)
	configViper.SetDefault("store.serialize_writes", true)
	configViper.SetDefault("sync.server_url", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	versionMode, err := records.ParseVersionMode(configViper.GetString("store.version_mode"))
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SyncKey:         configViper.GetString("sync.key"),
		SyncServerURL:   configViper.GetString("sync.server_url"),
		VersionMode:     versionMode,
		SerializeWrites: configViper.GetBool("store.serialize_writes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SyncKey) == "" {
		return fmt.Errorf("sync.key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
