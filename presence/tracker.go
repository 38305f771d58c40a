// Package presence tracks who shares the session. Each round the
// tracker pushes this player's heartbeat and pulls everyone's records,
// folding them into a sticky live set that tolerates missed heartbeats
// without flickering players in and out.
package presence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const channelName = "presence"

var errStoreUnavailable = errors.New("store unavailable")

// Record is the last known state of one player. Records update
// additively: a field missing from an incoming line keeps its previous
// value.
type Record struct {
	User     string
	Scene    string
	Color    string
	Online   bool
	LastSeen time.Time
	SimTime  float64
}

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostForm(ctx context.Context, path string, form url.Values) ([]byte, bool)
	Delete(ctx context.Context, path string) ([]byte, bool)
}

// Tracker is the presence channel.
type Tracker struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	cfg      Config
	store    store
	identity session.Identity
	info     session.Info

	mu      sync.RWMutex
	records map[string]Record
	live    []Record
}

// Opt modifies a Tracker.
type Opt func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithConfig sets the tracker config.
func WithConfig(cfg Config) Opt {
	return func(t *Tracker) {
		t.cfg = cfg
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// New creates a presence tracker for this identity.
func New(store store, identity session.Identity, info session.Info, opts ...Opt) *Tracker {
	t := &Tracker{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		cfg:      DefaultConfig(),
		store:    store,
		identity: identity,
		info:     info,
		records:  make(map[string]Record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements scheduler.Channel.
func (t *Tracker) Name() string {
	return channelName
}

// Interval between presence rounds.
func (t *Tracker) Interval() time.Duration {
	return t.cfg.Interval
}

// Push publishes this player's heartbeat.
func (t *Tracker) Push(ctx context.Context) error {
	form := url.Values{
		"scene":   {t.info.Scene()},
		"ut":      {formatEpoch(t.clock.Now())},
		"ksp_ut":  {strconv.FormatFloat(t.info.SimTime(), 'f', -1, 64)},
		"session": {t.identity.Session},
	}
	if t.identity.Color != "" {
		form.Set("color", t.identity.Color)
	}
	if _, ok := t.store.PostForm(ctx, "/presence/"+url.PathEscape(t.identity.User), form); !ok {
		return fmt.Errorf("%w: presence push", errStoreUnavailable)
	}
	return nil
}

// Pull fetches everyone's records and rebuilds the live set.
func (t *Tracker) Pull(ctx context.Context) error {
	body, ok := t.store.Get(ctx, "/presence")
	if !ok {
		return fmt.Errorf("%w: presence pull", errStoreUnavailable)
	}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := make(map[string]struct{})
	for _, line := range wire.Lines(body) {
		fields, skipped := wire.ParseKV(line)
		if skipped > 0 {
			malformedPairs.Add(float64(skipped))
			t.logger.Debug("presence line had malformed pairs",
				zap.Int("skipped", skipped),
				zap.String("line", line),
			)
		}
		user := fields["user"]
		if user == "" {
			droppedLines.Inc()
			t.logger.Debug("presence line without user dropped", zap.String("line", line))
			continue
		}
		key := strings.ToLower(user)
		rec := t.records[key]
		rec.User = user
		if v, ok := fields["scene"]; ok {
			rec.Scene = v
		}
		if v, ok := fields["color"]; ok && v != "" {
			rec.Color = v
		}
		if v, ok := fields["online"]; ok {
			rec.Online = v == "1" || strings.EqualFold(v, "true")
		}
		if v, ok := fields["ut"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				rec.LastSeen = time.UnixMilli(int64(f * 1000))
			}
		}
		if v, ok := fields["ksp_ut"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				rec.SimTime = f
			}
		}
		t.records[key] = rec
		if rec.Online && !t.mainMenu(rec.Scene) {
			fresh[key] = struct{}{}
		}
	}
	t.rebuildLive(now, fresh)
	return nil
}

// Live returns the current live set, sorted by user.
func (t *Tracker) Live() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.live...)
}

// Lookup returns the last known record for a user, live or not.
func (t *Tracker) Lookup(user string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[strings.ToLower(user)]
	return rec, ok
}

// Close withdraws this player's presence from the store, best effort.
func (t *Tracker) Close(ctx context.Context) {
	if _, ok := t.store.Delete(ctx, "/presence/"+url.PathEscape(t.identity.User)); !ok {
		t.logger.Debug("presence withdrawal failed")
	}
}

// rebuildLive keeps the round's fresh records plus known records still
// inside the sticky window. Records without a last-seen value are never
// sticky, and the main menu never counts as present.
func (t *Tracker) rebuildLive(now time.Time, fresh map[string]struct{}) {
	live := make([]Record, 0, len(fresh))
	for key, rec := range t.records {
		if t.mainMenu(rec.Scene) {
			continue
		}
		if _, ok := fresh[key]; ok {
			live = append(live, rec)
			continue
		}
		if rec.LastSeen.IsZero() {
			continue
		}
		age := now.Sub(rec.LastSeen)
		if age > 0 && age <= t.cfg.OnlineTimeout+t.cfg.StickyGrace {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return strings.ToLower(live[i].User) < strings.ToLower(live[j].User)
	})
	t.live = live
	livePlayers.Set(float64(len(live)))
}

func (t *Tracker) mainMenu(scene string) bool {
	return strings.EqualFold(scene, t.cfg.MainMenuScene)
}

func formatEpoch(now time.Time) string {
	return strconv.FormatFloat(float64(now.UnixMilli())/1000, 'f', 3, 64)
}
