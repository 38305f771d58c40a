package presence

import "time"

// Config for the presence channel.
type Config struct {
	// Interval between presence rounds.
	Interval time.Duration `mapstructure:"interval"`
	// OnlineTimeout mirrors the store's freshness window for the online
	// flag.
	OnlineTimeout time.Duration `mapstructure:"online-timeout"`
	// StickyGrace extends the live window past OnlineTimeout so a missed
	// heartbeat does not flicker a player out of the session.
	StickyGrace time.Duration `mapstructure:"sticky-grace"`
	// MainMenuScene is the scene label that never counts as present.
	MainMenuScene string `mapstructure:"main-menu-scene"`
}

// DefaultConfig for the presence channel.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		OnlineTimeout: 30 * time.Second,
		StickyGrace:   15 * time.Second,
		MainMenuScene: "MainMenu",
	}
}
