// Package session holds the contract between the host simulation and
// the sync layer: who this player is, whether the host currently sits
// inside a synchronizable scene, and the host values carried along with
// presence.
package session

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Identity is this player's identity within a shared session.
type Identity struct {
	// User is the display name on the store, compared case-insensitively.
	User string `mapstructure:"user"`
	// Color is the display color shared through presence.
	Color string `mapstructure:"color"`
	// Session names the shared save on the store.
	Session string `mapstructure:"session"`
}

// SameUser reports whether other names this identity's user.
func (id Identity) SameUser(other string) bool {
	return strings.EqualFold(id.User, other)
}

// Gate reports whether the host is inside a synchronizable scene. All
// channel loops idle while the gate is closed.
type Gate interface {
	Ready() bool
}

// Flag is an atomic Gate toggled by host lifecycle callbacks.
type Flag struct {
	ready atomic.Bool
}

// Set the gate state.
func (f *Flag) Set(ready bool) {
	f.ready.Store(ready)
}

// Ready implements Gate.
func (f *Flag) Ready() bool {
	return f.ready.Load()
}

// Info supplies host values carried with presence pushes.
type Info interface {
	// Scene is the host's current scene label.
	Scene() string
	// SimTime is the host's simulation clock, in seconds.
	SimTime() float64
}

// Static is an Info with a fixed scene whose simulation clock advances
// with wall time. The headless agent runs on it.
type Static struct {
	scene string
	clock clockwork.Clock
	start time.Time
}

// NewStatic creates a Static pinned to the given scene label.
func NewStatic(scene string, clock clockwork.Clock) *Static {
	return &Static{scene: scene, clock: clock, start: clock.Now()}
}

// Scene implements Info.
func (s *Static) Scene() string {
	return s.scene
}

// SimTime implements Info.
func (s *Static) SimTime() float64 {
	return s.clock.Since(s.start).Seconds()
}
