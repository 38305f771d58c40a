// Package scenario reconciles the shared research ledgers. The store keeps
// three fragments per session: a scalar point balance, the research tree
// and the discovery archive. Both ledgers are append-only, so the merge is
// additive: remote entries unknown locally are applied, local entries the
// store does not know about are left alone, and the balance moves by the
// signed difference rather than wholesale replacement.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const (
	channelName     = "scenario"
	contentTypeText = "text/plain"
)

var (
	errStoreUnavailable  = errors.New("store unavailable")
	errMalformedFragment = errors.New("malformed fragment")
	errUnknownSubject    = errors.New("unknown subject")
)

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostRaw(ctx context.Context, path string, query url.Values, contentType string, body []byte) ([]byte, bool)
}

// Delta is the outcome of one merge round before it is applied: the
// balance the store reports and the remote entries of both ledgers, with
// archive records already deduplicated within the batch and against
// local state.
type Delta struct {
	Target   float64
	Nodes    []Node
	Archives []ArchiveRecord
}

// Engine is the sync channel for the scenario fragments.
type Engine struct {
	logger  *zap.Logger
	cfg     Config
	store   store
	state   State
	session string
}

// Opt modifies an engine.
type Opt func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Opt {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// New returns a merge engine for the session named by the identity.
func New(store store, state State, identity session.Identity, opts ...Opt) *Engine {
	e := &Engine{
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		store:   store,
		state:   state,
		session: identity.Session,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements scheduler.Channel.
func (e *Engine) Name() string {
	return channelName
}

// Interval is the cadence the scheduler should run this channel at.
func (e *Engine) Interval() time.Duration {
	return e.cfg.Interval
}

// Pull downloads all three fragments and applies the merged delta. The
// round is abandoned outright if any fragment is unavailable or
// malformed, so a partial merge is never applied.
func (e *Engine) Pull(ctx context.Context) error {
	points, ok := e.store.Get(ctx, e.path(fragmentPoints))
	if !ok {
		return fmt.Errorf("%w: %s", errStoreUnavailable, fragmentPoints)
	}
	tree, ok := e.store.Get(ctx, e.path(fragmentTree))
	if !ok {
		return fmt.Errorf("%w: %s", errStoreUnavailable, fragmentTree)
	}
	archives, ok := e.store.Get(ctx, e.path(fragmentArchives))
	if !ok {
		return fmt.Errorf("%w: %s", errStoreUnavailable, fragmentArchives)
	}

	delta, err := e.buildDelta(points, tree, archives)
	if err != nil {
		return err
	}
	adjust, unlocked, added := e.apply(delta)
	if adjust != 0 || unlocked > 0 || added > 0 {
		e.logger.Debug("merged scenario delta",
			zap.Float64("balance_adjust", adjust),
			zap.Int("unlocked", unlocked),
			zap.Int("archives_added", added),
		)
	}
	return nil
}

// Push serializes the local ledgers and uploads each fragment on its own.
// One fragment failing does not block the other. The point balance is
// never uploaded; the store derives it.
func (e *Engine) Push(ctx context.Context) error {
	var errs []error
	unlocked := make([]Node, 0)
	for _, node := range e.state.Nodes() {
		if Unlocked(node.State) {
			unlocked = append(unlocked, node)
		}
	}
	if _, ok := e.store.PostRaw(ctx, e.path(fragmentTree), nil, contentTypeText, renderTree(unlocked)); !ok {
		errs = append(errs, fmt.Errorf("%w: %s", errStoreUnavailable, fragmentTree))
	}
	if _, ok := e.store.PostRaw(ctx, e.path(fragmentArchives), nil, contentTypeText, renderArchives(e.state.Archives())); !ok {
		errs = append(errs, fmt.Errorf("%w: %s", errStoreUnavailable, fragmentArchives))
	}
	return errors.Join(errs...)
}

// PushSubject uploads a single tree entry. The vote coordinator uses it
// when a proposal resolves, so the store learns about one unlock without
// waiting for a full round. The store merges tree uploads by entry id.
func (e *Engine) PushSubject(ctx context.Context, id string) error {
	node, ok := e.state.Node(id)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownSubject, id)
	}
	if _, ok := e.store.PostRaw(ctx, e.path(fragmentTree), nil, contentTypeText, renderTree([]Node{node})); !ok {
		return fmt.Errorf("%w: %s for %q", errStoreUnavailable, fragmentTree, id)
	}
	return nil
}

func (e *Engine) path(fragment string) string {
	return "/scenarios/" + url.PathEscape(e.session) + "/" + fragment
}

func (e *Engine) buildDelta(points, tree, archives []byte) (Delta, error) {
	target, ok := wire.ParseKeyFloat(points, "sci")
	if !ok {
		return Delta{}, fmt.Errorf("%w: %s carries no balance", errMalformedFragment, fragmentPoints)
	}
	nodes, nodesSkipped := parseTree(tree)
	recs, recsSkipped := parseArchives(archives)
	if skipped := nodesSkipped + recsSkipped; skipped > 0 {
		malformedBlocks.Add(float64(skipped))
		e.logger.Debug("skipped malformed fragment blocks", zap.Int("count", skipped))
	}

	seen := make(map[string]struct{}, len(recs))
	kept := make([]ArchiveRecord, 0, len(recs))
	for _, rec := range recs {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if _, exists := e.state.Archive(rec.ID); exists {
			continue
		}
		kept = append(kept, rec)
	}
	return Delta{Target: target, Nodes: nodes, Archives: kept}, nil
}

// apply commits a delta to local state. Entries already unlocked locally
// and archive ids already present are left untouched, which makes
// re-applying the same delta a no-op.
func (e *Engine) apply(delta Delta) (adjust float64, unlocked, added int) {
	e.state.Ensure()

	adjust = delta.Target - e.state.Balance()
	if adjust != 0 {
		e.state.AdjustBalance(adjust)
	}
	balanceGauge.Set(e.state.Balance())

	for _, rec := range delta.Archives {
		if _, ok := e.state.Archive(rec.ID); ok {
			continue
		}
		e.state.AddArchive(rec)
		added++
	}
	archivesAdded.Add(float64(added))

	for _, node := range delta.Nodes {
		if !Unlocked(node.State) {
			continue
		}
		current, ok := e.state.Node(node.ID)
		if ok && Unlocked(current.State) {
			continue
		}
		if !ok {
			current = node
		}
		current.State = NodeStateUnlocked
		e.state.SetNode(current)
		unlocked++
	}
	nodesUnlocked.Add(float64(unlocked))
	return adjust, unlocked, added
}
