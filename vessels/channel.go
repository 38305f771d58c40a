// Package vessels shares exported craft files. Exports and removals are
// user actions and report their outcome either way; imports follow the
// usual listing walk with the ownership guard arbitrating per owner and
// name.
package vessels

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/filesystem"
	"github.com/svio-coop/go-svio/ownership"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const channelName = "vessels"

var (
	errStoreUnavailable = errors.New("store unavailable")
	errBadName          = errors.New("unusable vessel name")
)

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostMultipart(ctx context.Context, path, field, filename string, data []byte) ([]byte, bool)
	Delete(ctx context.Context, path string) ([]byte, bool)
}

type reporter interface {
	ReportStatus(text string)
	ReportError(text string)
}

type export struct {
	name string
	data []byte
}

// Channel is the sync channel for craft files.
type Channel struct {
	logger   *zap.Logger
	cfg      Config
	fs       afero.Fs
	store    store
	guard    *ownership.Guard
	reporter reporter
	identity session.Identity

	mu    sync.Mutex
	queue []export
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

// New returns a vessel channel staging imports into the configured
// directory. Files already staged from earlier runs are seeded into the
// guard so they are not downloaded again.
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

// Export uploads a craft right away and reports the outcome to the user.
// An undelivered export is queued and retried by the scheduled push.
func (c *Channel) Export(ctx context.Context, name string, data []byte) error {
	if !filesystem.SafeSegment(name) {
		return fmt.Errorf("%w: %q", errBadName, name)
	}
	if c.upload(ctx, export{name: name, data: data}) {
		return nil
	}
	c.mu.Lock()
	c.queue = append(c.queue, export{name: name, data: data})
	c.mu.Unlock()
	c.reporter.ReportError(fmt.Sprintf("vessel export failed, will retry: %s", name))
	return fmt.Errorf("%w: exporting vessel %q", errStoreUnavailable, name)
}

// Remove deletes this player's craft from the store.
func (c *Channel) Remove(ctx context.Context, name string) error {
	if !filesystem.SafeSegment(name) {
		return fmt.Errorf("%w: %q", errBadName, name)
	}
	path := "/vessels/" + url.PathEscape(c.identity.User) + "/" + escapeName(name)
	if _, ok := c.store.Delete(ctx, path); !ok {
		c.reporter.ReportError(fmt.Sprintf("vessel removal failed: %s", name))
		return fmt.Errorf("%w: removing vessel %q", errStoreUnavailable, name)
	}
	c.logger.Info("vessel removed", zap.String("name", name))
	c.reporter.ReportStatus(fmt.Sprintf("vessel removed: %s", name))
	return nil
}

// Push retries queued exports that could not be delivered immediately.
func (c *Channel) Push(ctx context.Context) error {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	var errs []error
	for _, item := range queued {
		if c.upload(ctx, item) {
			continue
		}
		c.mu.Lock()
		c.queue = append(c.queue, item)
		c.mu.Unlock()
		errs = append(errs, fmt.Errorf("%w: exporting vessel %q", errStoreUnavailable, item.name))
	}
	return errors.Join(errs...)
}

// Pull walks the store listing and stages every admitted foreign craft.
func (c *Channel) Pull(ctx context.Context) error {
	body, ok := c.store.Get(ctx, "/vessels")
	if !ok {
		return fmt.Errorf("%w: vessel listing", errStoreUnavailable)
	}
	entries, skipped := wire.ParseNameListing(body)
	if skipped > 0 {
		malformedEntries.Add(float64(skipped))
		c.logger.Debug("skipped malformed vessel entries", zap.Int("count", skipped))
	}

	var errs []error
	for _, entry := range entries {
		if c.guard.Owns(entry.User) {
			continue
		}
		if !filesystem.SafeSegment(entry.User) {
			malformedEntries.Inc()
			continue
		}
		for _, name := range entry.Names {
			if !filesystem.SafeSegment(name) {
				malformedEntries.Inc()
				c.logger.Debug("rejecting unsafe vessel entry",
					zap.String("user", entry.User),
					zap.String("name", name),
				)
				continue
			}
			subject := entry.User + "/" + name
			if decision := c.guard.Decide(entry.User, subject); decision != ownership.Admit {
				c.logger.Debug("skipping vessel",
					zap.String("subject", subject),
					zap.Stringer("decision", decision),
				)
				continue
			}
			if err := c.stage(ctx, entry.User, name); err != nil {
				c.guard.Forget(subject)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) upload(ctx context.Context, item export) bool {
	path := "/upload/" + url.PathEscape(c.identity.User)
	if _, ok := c.store.PostMultipart(ctx, path, "file", item.name, item.data); !ok {
		return false
	}
	exported.Inc()
	c.logger.Info("vessel exported", zap.String("name", item.name))
	c.reporter.ReportStatus(fmt.Sprintf("vessel exported: %s", item.name))
	return true
}

func (c *Channel) stage(ctx context.Context, user, name string) error {
	path := "/vessels/" + url.PathEscape(user) + "/" + escapeName(name)
	data, ok := c.store.Get(ctx, path)
	if !ok {
		return fmt.Errorf("%w: downloading vessel %s/%s", errStoreUnavailable, user, name)
	}
	dir := filepath.Join(c.cfg.Dir, user)
	if err := filesystem.EnsureDir(c.fs, dir); err != nil {
		return err
	}
	if err := filesystem.WriteFileAtomic(c.fs, filepath.Join(dir, name), data); err != nil {
		return err
	}
	imported.Inc()
	c.logger.Info("vessel imported", zap.String("user", user), zap.String("name", name))
	c.reporter.ReportStatus(fmt.Sprintf("vessel imported: %s/%s", user, name))
	return nil
}

// ownerOnDisk reports which user's staging directory already holds a
// craft with this subject, if any. Subjects are "user/name" pairs.
func (c *Channel) ownerOnDisk(subject string) (string, bool) {
	user, name, ok := strings.Cut(subject, "/")
	if !ok {
		return "", false
	}
	if ok, _ := afero.Exists(c.fs, filepath.Join(c.cfg.Dir, user, name)); ok {
		return user, true
	}
	return "", false
}

func (c *Channel) scanStaging() []string {
	users, err := afero.ReadDir(c.fs, c.cfg.Dir)
	if err != nil {
		return nil
	}
	var subjects []string
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
				subjects = append(subjects, user.Name()+"/"+file.Name())
			}
		}
	}
	return subjects
}

// escapeName escapes a craft name for use as a path segment. The store
// decodes vessel names with plus semantics, so a literal plus must be
// percent-encoded or it comes back as a space.
func escapeName(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), "+", "%2B")
}
