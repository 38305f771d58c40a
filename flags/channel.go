// Package flags replicates planted flag artifacts between players. Own
// flags are queued by the host and uploaded on push; the pull side walks
// the store listing, lets the ownership guard arbitrate and stages
// admitted files on disk for the host to place.
package flags

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/filesystem"
	"github.com/svio-coop/go-svio/ownership"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const channelName = "flags"

var (
	errStoreUnavailable = errors.New("store unavailable")
	errBadName          = errors.New("unusable flag name")
)

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostMultipart(ctx context.Context, path, field, filename string, data []byte) ([]byte, bool)
	Delete(ctx context.Context, path string) ([]byte, bool)
}

type reporter interface {
	ReportStatus(text string)
}

type planted struct {
	name string
	data []byte
}

// Channel is the sync channel for flag artifacts.
type Channel struct {
	logger   *zap.Logger
	cfg      Config
	fs       afero.Fs
	store    store
	guard    *ownership.Guard
	reporter reporter
	identity session.Identity

	mu    sync.Mutex
	queue []planted
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

// New returns a flag channel staging into the configured directory.
// Files already staged from earlier runs are seeded into the guard so
// they are not downloaded again.
func New(store store, fs afero.Fs, reporter reporter, identity session.Identity, opts ...Opt) *Channel {
	c := &Channel{
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		fs:       fs,
		store:    store,
		reporter: reporter,
		identity: identity,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.guard = ownership.New(identity.User, ownership.WithOwnerLookup(c.ownerOnDisk))
	c.guard.Seed(c.scanStaging()...)
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

// Plant queues a flag this player placed for upload on the next push.
func (c *Channel) Plant(name string, data []byte) error {
	if !filesystem.SafeSegment(name) {
		return fmt.Errorf("%w: %q", errBadName, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, planted{name: name, data: data})
	return nil
}

// Remove deletes this player's flag from the store, for when the flag is
// taken down locally.
func (c *Channel) Remove(ctx context.Context, name string) error {
	if !filesystem.SafeSegment(name) {
		return fmt.Errorf("%w: %q", errBadName, name)
	}
	path := "/flags/" + url.PathEscape(c.identity.User) + "/" + url.PathEscape(name)
	if _, ok := c.store.Delete(ctx, path); !ok {
		return fmt.Errorf("%w: removing flag %q", errStoreUnavailable, name)
	}
	c.logger.Info("flag removed", zap.String("name", name))
	return nil
}

// Push uploads queued flags. Undelivered flags stay queued so the next
// round tries again.
func (c *Channel) Push(ctx context.Context) error {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	var errs []error
	for _, flag := range queued {
		path := "/flags/" + url.PathEscape(c.identity.User)
		if _, ok := c.store.PostMultipart(ctx, path, "file", flag.name, flag.data); !ok {
			c.mu.Lock()
			c.queue = append(c.queue, flag)
			c.mu.Unlock()
			errs = append(errs, fmt.Errorf("%w: uploading flag %q", errStoreUnavailable, flag.name))
			continue
		}
		uploaded.Inc()
		c.logger.Info("flag uploaded", zap.String("name", flag.name))
	}
	return errors.Join(errs...)
}

// Pull walks the store listing and stages every admitted foreign flag.
func (c *Channel) Pull(ctx context.Context) error {
	body, ok := c.store.Get(ctx, "/flags")
	if !ok {
		return fmt.Errorf("%w: flag listing", errStoreUnavailable)
	}
	entries, skipped := wire.ParsePathListing(body)
	if skipped > 0 {
		malformedEntries.Add(float64(skipped))
		c.logger.Debug("skipped malformed flag entries", zap.Int("count", skipped))
	}

	var errs []error
	for _, entry := range entries {
		if !filesystem.SafeSegment(entry.User) || !filesystem.SafeSegment(entry.Name) {
			malformedEntries.Inc()
			c.logger.Debug("rejecting unsafe flag entry",
				zap.String("user", entry.User),
				zap.String("name", entry.Name),
			)
			continue
		}
		if decision := c.guard.Decide(entry.User, entry.Name); decision != ownership.Admit {
			c.logger.Debug("skipping flag",
				zap.String("user", entry.User),
				zap.String("name", entry.Name),
				zap.Stringer("decision", decision),
			)
			continue
		}
		if err := c.stage(ctx, entry); err != nil {
			c.guard.Forget(entry.Name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) stage(ctx context.Context, entry wire.PathEntry) error {
	path := "/flags/" + url.PathEscape(entry.User) + "/" + url.PathEscape(entry.Name)
	data, ok := c.store.Get(ctx, path)
	if !ok {
		return fmt.Errorf("%w: downloading flag %s/%s", errStoreUnavailable, entry.User, entry.Name)
	}
	dir := filepath.Join(c.cfg.Dir, entry.User)
	if err := filesystem.EnsureDir(c.fs, dir); err != nil {
		return err
	}
	if err := filesystem.WriteFileAtomic(c.fs, filepath.Join(dir, entry.Name), data); err != nil {
		return err
	}
	imported.Inc()
	c.logger.Info("flag imported", zap.String("user", entry.User), zap.String("name", entry.Name))
	c.reporter.ReportStatus(fmt.Sprintf("flag imported: %s/%s", entry.User, entry.Name))
	return nil
}

// ownerOnDisk reports which user's staging directory already holds a
// flag with this name, if any.
func (c *Channel) ownerOnDisk(subject string) (string, bool) {
	users, err := afero.ReadDir(c.fs, c.cfg.Dir)
	if err != nil {
		return "", false
	}
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		if ok, _ := afero.Exists(c.fs, filepath.Join(c.cfg.Dir, user.Name(), subject)); ok {
			return user.Name(), true
		}
	}
	return "", false
}

func (c *Channel) scanStaging() []string {
	users, err := afero.ReadDir(c.fs, c.cfg.Dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		files, err := afero.ReadDir(c.fs, filepath.Join(c.cfg.Dir, user.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			if !file.IsDir() {
				names = append(names, file.Name())
			}
		}
	}
	return names
}
