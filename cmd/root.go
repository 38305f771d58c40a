// Package cmd is the base package for the executables built from go-svio.
package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/svio-coop/go-svio/config"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the app. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// AddFlags registers the agent CLI flags and binds each one to its
// config key, so command line values override file values. It returns
// the config file path flag.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) *string {
	configPath := flagSet.StringP("config", "c", "", "load configuration from file")

	/** ======================== BaseConfig Flags ========================== **/

	flagSet.StringP("data-folder", "d", cfg.DataDirParent,
		"directory for local session state")
	flagSet.StringP("user", "u", cfg.User,
		"display name on the store")
	flagSet.String("color", cfg.Color,
		"display color as #rrggbb")
	flagSet.StringP("session", "s", cfg.Session,
		"shared save name to sync against")
	flagSet.Bool("metrics", cfg.CollectMetrics,
		"expose prometheus metrics over http")
	flagSet.String("metrics-listen", cfg.MetricsListen,
		"listen address for the metrics server")

	/** ======================== Logging Flags ========================== **/

	flagSet.String("log-encoder", cfg.LOGGING.Encoder,
		"log encoder, console or json")
	flagSet.String("log-level", cfg.LOGGING.Level,
		"minimum level to log")

	/** ======================== Transport Flags ========================== **/

	flagSet.StringSlice("endpoints", cfg.Transport.Endpoints,
		"candidate store base URLs, tried in order on every request")
	flagSet.Duration("request-timeout", cfg.Transport.RequestTimeout,
		"timeout for a single store request attempt")

	/** ======================== Channel Flags ========================== **/

	flagSet.Duration("presence-interval", cfg.Presence.Interval,
		"cadence of presence rounds")
	flagSet.Duration("scenario-interval", cfg.Scenario.Interval,
		"cadence of scenario merge rounds")
	flagSet.Duration("vote-interval", cfg.Vote.Interval,
		"cadence of vote polling rounds")
	flagSet.Duration("flags-interval", cfg.Flags.Interval,
		"cadence of flag exchange rounds")
	flagSet.String("flags-dir", cfg.Flags.Dir,
		"staging directory for imported flags")
	flagSet.Duration("vessels-interval", cfg.Vessels.Interval,
		"cadence of vessel exchange rounds")
	flagSet.String("vessels-dir", cfg.Vessels.Dir,
		"staging directory for imported craft files")
	flagSet.Duration("orbits-interval", cfg.Orbits.Interval,
		"cadence of orbit marker rounds")
	flagSet.Duration("chat-interval", cfg.Chat.Interval,
		"cadence of chat rounds")

	bindings := map[string]string{
		"data-folder":       "main.data-folder",
		"user":              "main.user",
		"color":             "main.color",
		"session":           "main.session",
		"metrics":           "main.metrics",
		"metrics-listen":    "main.metrics-listen",
		"log-encoder":       "logging.log-encoder",
		"log-level":         "logging.level",
		"endpoints":         "transport.endpoints",
		"request-timeout":   "transport.request-timeout",
		"presence-interval": "presence.interval",
		"scenario-interval": "scenario.interval",
		"vote-interval":     "vote.interval",
		"flags-interval":    "flags.interval",
		"flags-dir":         "flags.dir",
		"vessels-interval":  "vessels.interval",
		"vessels-dir":       "vessels.dir",
		"orbits-interval":   "orbits.interval",
		"chat-interval":     "chat.interval",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			fmt.Println("an error has occurred while binding flags:", err)
		}
	}
	return configPath
}
