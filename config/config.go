// Package config contains the sync agent configuration definitions.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/svio-coop/go-svio/chat"
	"github.com/svio-coop/go-svio/filesystem"
	"github.com/svio-coop/go-svio/flags"
	"github.com/svio-coop/go-svio/orbits"
	"github.com/svio-coop/go-svio/presence"
	"github.com/svio-coop/go-svio/scenario"
	"github.com/svio-coop/go-svio/scheduler"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/transport"
	"github.com/svio-coop/go-svio/vessels"
	"github.com/svio-coop/go-svio/vote"
)

const (
	defaultConfigFileName = "./config.toml"
	defaultDataDirName    = "svio"
)

var defaultDataDir = filepath.Join("~", defaultDataDirName)

// Config defines the top level configuration for the sync agent.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Transport  transport.Config `mapstructure:"transport"`
	Scheduler  scheduler.Config `mapstructure:"scheduler"`
	Presence   presence.Config  `mapstructure:"presence"`
	Scenario   scenario.Config  `mapstructure:"scenario"`
	Vote       vote.Config      `mapstructure:"vote"`
	Flags      flags.Config     `mapstructure:"flags"`
	Vessels    vessels.Config   `mapstructure:"vessels"`
	Orbits     orbits.Config    `mapstructure:"orbits"`
	Chat       chat.Config      `mapstructure:"chat"`
	LOGGING    LoggerConfig     `mapstructure:"logging"`
}

// BaseConfig defines the agent-wide configuration options.
type BaseConfig struct {
	DataDirParent string `mapstructure:"data-folder"`

	ConfigFile string `mapstructure:"config"`

	// User is this player's display name on the store. Other clients
	// compare it case-insensitively.
	User string `mapstructure:"user"`
	// Color is this player's display color as #rrggbb.
	Color string `mapstructure:"color"`
	// Session names the shared save every channel syncs against.
	Session string `mapstructure:"session"`

	CollectMetrics bool   `mapstructure:"metrics"`
	MetricsListen  string `mapstructure:"metrics-listen"`
}

// DataDir returns the absolute path holding this session's local state:
// the tilde-expanded parent with a subfolder named after the session.
func (cfg *Config) DataDir() string {
	return filepath.Join(filesystem.CanonicalPath(cfg.DataDirParent), cfg.Session)
}

// Identity collects the player identity fields every channel shares.
func (cfg *Config) Identity() session.Identity {
	return session.Identity{User: cfg.User, Color: cfg.Color, Session: cfg.Session}
}

// DefaultConfig returns the default configuration for the sync agent.
func DefaultConfig() Config {
	return Config{
		BaseConfig: defaultBaseConfig(),
		Transport:  transport.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Presence:   presence.DefaultConfig(),
		Scenario:   scenario.DefaultConfig(),
		Vote:       vote.DefaultConfig(),
		Flags:      flags.DefaultConfig(),
		Vessels:    vessels.DefaultConfig(),
		Orbits:     orbits.DefaultConfig(),
		Chat:       chat.DefaultConfig(),
		LOGGING:    defaultLoggingConfig(),
	}
}

func defaultBaseConfig() BaseConfig {
	return BaseConfig{
		DataDirParent:  defaultDataDir,
		ConfigFile:     defaultConfigFileName,
		User:           "player",
		Color:          "#ffffff",
		Session:        "default",
		CollectMetrics: false,
		MetricsListen:  "127.0.0.1:9464",
	}
}

// LoadConfig reads the config file into vip.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		fileLocation = defaultConfigFileName
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", fileLocation, err)
	}
	return nil
}

// Unmarshal decodes whatever vip holds over the defaults. Durations
// accept strings like "45s" and string lists accept comma-separated
// values.
func Unmarshal(vip *viper.Viper) (Config, error) {
	conf := DefaultConfig()
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := vip.Unmarshal(&conf, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("unmarshal viper: %w", err)
	}
	return conf, nil
}
