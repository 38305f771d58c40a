// Package orbits shares live trajectory markers. Every player publishes
// at most one marker; the pull side keeps a table keyed by declaring user
// that only moves forward in publish time, so an out-of-date aggregate
// can never roll a marker back.
package orbits

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/svio-coop/go-svio/ownership"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const (
	channelName     = "orbits"
	contentTypeText = "text/plain"
)

var errStoreUnavailable = errors.New("store unavailable")

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostRaw(ctx context.Context, path string, query url.Values, contentType string, body []byte) ([]byte, bool)
}

// Source provides this client's current orbit. Reporting false means
// there is nothing to publish this round, typically because the player
// is not flying anything.
type Source interface {
	Marker() (Marker, bool)
}

// Channel is the sync channel for orbit markers.
type Channel struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	cfg      Config
	store    store
	source   Source
	guard    *ownership.Guard
	identity session.Identity

	mu      sync.RWMutex
	markers map[string]Marker
}

// Opt modifies a channel.
type Opt func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithConfig sets the channel configuration.
func WithConfig(cfg Config) Opt {
	return func(c *Channel) {
		c.cfg = cfg
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(c *Channel) {
		c.clock = clock
	}
}

// New returns an orbit channel for the session named by the identity.
func New(store store, source Source, identity session.Identity, opts ...Opt) *Channel {
	c := &Channel{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		cfg:      DefaultConfig(),
		store:    store,
		source:   source,
		guard:    ownership.New(identity.User),
		identity: identity,
		markers:  make(map[string]Marker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements scheduler.Channel.
func (c *Channel) Name() string {
	return channelName
}

// Interval is the cadence the scheduler should run this channel at.
func (c *Channel) Interval() time.Duration {
	return c.cfg.Interval
}

// Push publishes this client's marker, if it has one. The publish stamp
// comes from the wall clock, so a reloaded save still supersedes the
// marker it published before the reload.
func (c *Channel) Push(ctx context.Context) error {
	marker, ok := c.source.Marker()
	if !ok {
		return nil
	}
	marker.User = c.identity.User
	if marker.Color == "" {
		marker.Color = c.identity.Color
	}
	marker.Updated = float64(c.clock.Now().UnixMilli()) / 1000

	path := "/orbits/" + url.PathEscape(c.identity.Session)
	if _, ok := c.store.PostRaw(ctx, path, nil, contentTypeText, []byte(marker.encode())); !ok {
		return fmt.Errorf("%w: publishing orbit marker", errStoreUnavailable)
	}
	return nil
}

// Pull ingests the aggregate marker feed. Rows are tolerated one by one:
// comments and malformed rows are skipped, own rows ignored, and a known
// user's marker is replaced only by a newer-or-equal publish stamp.
func (c *Channel) Pull(ctx context.Context) error {
	body, ok := c.store.Get(ctx, "/orbits/"+url.PathEscape(c.identity.Session)+".txt")
	if !ok {
		return fmt.Errorf("%w: orbit feed", errStoreUnavailable)
	}

	var skipped int
	c.mu.Lock()
	for _, line := range wire.Lines(body) {
		if strings.HasPrefix(line, "#") {
			continue
		}
		marker, ok := parseMarker(line)
		if !ok {
			skipped++
			continue
		}
		if c.guard.Owns(marker.User) {
			continue
		}
		key := strings.ToLower(marker.User)
		if existing, ok := c.markers[key]; ok && marker.Updated < existing.Updated {
			continue
		}
		c.markers[key] = marker
	}
	trackedMarkers.Set(float64(len(c.markers)))
	c.mu.Unlock()

	if skipped > 0 {
		malformedRows.Add(float64(skipped))
		c.logger.Debug("skipped malformed orbit rows", zap.Int("count", skipped))
	}
	return nil
}

// Markers returns a snapshot of the foreign marker table ordered by user,
// for the renderer.
func (c *Channel) Markers() []Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := maps.Keys(c.markers)
	slices.Sort(keys)
	out := make([]Marker, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.markers[key])
	}
	return out
}

// Lookup returns the tracked marker for a user.
func (c *Channel) Lookup(user string) (Marker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	marker, ok := c.markers[strings.ToLower(user)]
	return marker, ok
}
