// Package vote drives the shared research decision protocol. Proposing
// provisionally reverts the local purchase, then the store collects
// answers and decides. Every participant polls: the proposer finalizes
// its own proposals, everyone else surfaces prompts for newly opened
// votes and mirrors approved outcomes locally.
package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/events"
	"github.com/svio-coop/go-svio/scenario"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const (
	channelName = "votes"

	// finalizedEntries bounds the memory of decided subjects, which keeps
	// a re-observed status from finalizing twice.
	finalizedEntries = 512

	// castAttempts bounds resubmission of a queued answer. The store
	// rejects casts for closed votes with the same failure the transport
	// reports when unreachable, so retrying forever would never settle.
	castAttempts = 2
)

var (
	errStoreUnavailable = errors.New("store unavailable")
	errAlreadyOpen      = errors.New("vote already open for subject")
	errUnknownVote      = errors.New("no open vote for subject")
	errNotProposer      = errors.New("not the proposer of subject")
)

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostJSON(ctx context.Context, path string, payload any) ([]byte, bool)
}

// uploader publishes a single tree entry after an approval, without
// waiting for the next full scenario round.
type uploader interface {
	PushSubject(ctx context.Context, id string) error
}

type reporter interface {
	ReportStatus(text string)
	ReportPrompt(prompt events.Prompt)
}

type startPayload struct {
	User  string  `json:"user"`
	Title string  `json:"title"`
	Cost  float64 `json:"cost"`
}

type castPayload struct {
	User string `json:"user"`
	Vote bool   `json:"vote"`
}

type cancelPayload struct {
	User string `json:"user"`
}

// status is the store's answer for one subject. A body without requester
// and title means the store does not know the vote.
type status struct {
	Title     string `json:"title"`
	Requester string `json:"requester"`
	Yes       int    `json:"yes"`
	No        int    `json:"no"`
	Decided   bool   `json:"decided"`
	Approved  *bool  `json:"approved"`
}

func (s *status) vanished() bool {
	return s.Title == "" && s.Requester == ""
}

// snapshot captures everything needed to put a subject back exactly as it
// was before its proposal.
type snapshot struct {
	state string
	cost  float64
}

type proposal struct {
	id       uuid.UUID
	subject  string
	title    string
	cost     float64
	snapshot *snapshot
}

type cast struct {
	subject  string
	approve  bool
	attempts int
}

// Coordinator is the sync channel for research votes.
type Coordinator struct {
	logger   *zap.Logger
	cfg      Config
	store    store
	state    scenario.State
	uploader uploader
	reporter reporter
	identity session.Identity

	mu        sync.Mutex
	mine      map[string]*proposal
	prompted  map[string]events.Prompt
	pending   []cast
	finalized *lru.Cache[string, struct{}]
}

// Opt modifies a coordinator.
type Opt func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConfig sets the coordinator configuration.
func WithConfig(cfg Config) Opt {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// New returns a coordinator for the session named by the identity.
func New(
	store store,
	state scenario.State,
	uploader uploader,
	reporter reporter,
	identity session.Identity,
	opts ...Opt,
) *Coordinator {
	finalized, err := lru.New[string, struct{}](finalizedEntries)
	if err != nil {
		panic(err)
	}
	c := &Coordinator{
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		store:     store,
		state:     state,
		uploader:  uploader,
		reporter:  reporter,
		identity:  identity,
		mine:      make(map[string]*proposal),
		prompted:  make(map[string]events.Prompt),
		finalized: finalized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements scheduler.Channel.
func (c *Coordinator) Name() string {
	return channelName
}

// Interval is the cadence the scheduler should run this channel at.
func (c *Coordinator) Interval() time.Duration {
	return c.cfg.Interval
}

// Propose opens a vote for a subject this client wants to unlock. The
// subject's current state and the cost the host already advanced are
// snapshotted, the purchase is provisionally reverted, and the proposer's
// own yes is cast right away so a two-player session can resolve with a
// single further answer. On store failure the snapshot is restored and
// nothing is tracked.
func (c *Coordinator) Propose(ctx context.Context, subject, title string, cost float64) error {
	if title == "" {
		title = subject
	}

	c.mu.Lock()
	if _, ok := c.mine[subject]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", errAlreadyOpen, subject)
	}
	if _, ok := c.prompted[subject]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", errAlreadyOpen, subject)
	}

	node, ok := c.state.Node(subject)
	if !ok {
		node = scenario.Node{ID: subject, Cost: cost, State: scenario.NodeStateLocked}
	}
	snap := &snapshot{state: node.State, cost: cost}
	node.State = scenario.NodeStateLocked
	c.state.SetNode(node)
	c.state.AdjustBalance(cost)
	c.mu.Unlock()

	payload := startPayload{User: c.identity.User, Title: title, Cost: cost}
	if _, ok := c.store.PostJSON(ctx, c.votePath("start", subject), payload); !ok {
		c.mu.Lock()
		node.State = snap.state
		c.state.SetNode(node)
		c.state.AdjustBalance(-snap.cost)
		c.mu.Unlock()
		return fmt.Errorf("%w: starting vote for %q", errStoreUnavailable, subject)
	}

	prop := &proposal{
		id:       uuid.New(),
		subject:  subject,
		title:    title,
		cost:     cost,
		snapshot: snap,
	}
	c.mu.Lock()
	c.mine[subject] = prop
	c.mu.Unlock()
	proposalsStarted.Inc()
	c.logger.Info("vote opened",
		zap.Stringer("proposal", prop.id),
		zap.String("subject", subject),
		zap.Float64("cost", cost),
	)
	c.reporter.ReportStatus(fmt.Sprintf("vote opened: %s", title))

	// second the proposal immediately
	if !c.submitCast(ctx, cast{subject: subject, approve: true}) {
		c.mu.Lock()
		c.pending = append(c.pending, cast{subject: subject, approve: true, attempts: 1})
		c.mu.Unlock()
	}
	return nil
}

// Answer queues this client's yes or no for a prompted vote. The answer
// goes out with the next push, so callers wanting immediacy should burst
// the channel afterwards. Answering again before the vote closes replaces
// the earlier answer.
func (c *Coordinator) Answer(subject string, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.prompted[subject]; !ok {
		return fmt.Errorf("%w: %q", errUnknownVote, subject)
	}
	c.pending = append(c.pending, cast{subject: subject, approve: approve})
	return nil
}

// Cancel withdraws this client's own proposal and puts the subject back
// exactly as the snapshot recorded it. Without a snapshot the subject is
// left non-actionable; an unearned unlock is worse than a stuck entry.
func (c *Coordinator) Cancel(ctx context.Context, subject string) error {
	c.mu.Lock()
	prop, ok := c.mine[subject]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", errNotProposer, subject)
	}

	if _, ok := c.store.PostJSON(ctx, c.votePath("cancel", subject), cancelPayload{User: c.identity.User}); !ok {
		return fmt.Errorf("%w: cancelling vote for %q", errStoreUnavailable, subject)
	}

	c.mu.Lock()
	delete(c.mine, subject)
	c.finalized.Add(subject, struct{}{})
	if prop.snapshot == nil {
		c.mu.Unlock()
		finalizedVanished.Inc()
		c.logger.Warn("no snapshot for cancelled vote, leaving subject locked",
			zap.Stringer("proposal", prop.id),
			zap.String("subject", subject),
		)
		return nil
	}
	node, ok := c.state.Node(subject)
	if !ok {
		node = scenario.Node{ID: subject, Cost: prop.cost}
	}
	node.State = prop.snapshot.state
	c.state.SetNode(node)
	c.state.AdjustBalance(-prop.snapshot.cost)
	c.mu.Unlock()

	finalizedCancelled.Inc()
	c.logger.Info("vote cancelled",
		zap.Stringer("proposal", prop.id),
		zap.String("subject", subject),
	)
	c.reporter.ReportStatus(fmt.Sprintf("vote cancelled: %s", prop.title))
	return nil
}

// Push submits queued answers. A failed cast is retried on the next push
// and dropped after that: the store answers a cast for a closed vote the
// same way as one it never received.
func (c *Coordinator) Push(ctx context.Context) error {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	var errs []error
	for _, item := range queued {
		if c.submitCast(ctx, item) {
			continue
		}
		item.attempts++
		if item.attempts < castAttempts {
			c.mu.Lock()
			c.pending = append(c.pending, item)
			c.mu.Unlock()
		} else {
			c.logger.Warn("dropping undeliverable vote answer", zap.String("subject", item.subject))
		}
		errs = append(errs, fmt.Errorf("%w: casting for %q", errStoreUnavailable, item.subject))
	}
	return errors.Join(errs...)
}

// Pull reconciles with the store: the open listing drives prompt
// lifecycle, then every tracked subject's status is polled and decided
// ones are finalized.
func (c *Coordinator) Pull(ctx context.Context) error {
	if err := c.pullOpen(ctx); err != nil {
		return err
	}
	return c.pollTracked(ctx)
}

func (c *Coordinator) pullOpen(ctx context.Context) error {
	body, ok := c.store.Get(ctx, "/vote/open/"+url.PathEscape(c.identity.Session))
	if !ok {
		return fmt.Errorf("%w: open votes", errStoreUnavailable)
	}

	open := make(map[string]events.Prompt)
	for _, line := range wire.Lines(body) {
		fields, ok := wire.SplitFields(line, '|', 3)
		if !ok {
			c.logger.Debug("skipping malformed open vote line", zap.String("line", line))
			continue
		}
		subject := fields[0]
		if _, dup := open[subject]; dup {
			// first line for a subject is canonical
			continue
		}
		open[subject] = events.Prompt{Subject: subject, Title: fields[1], Requester: fields[2]}
	}

	var emit []events.Prompt
	c.mu.Lock()
	for subject, prompt := range open {
		if strings.EqualFold(prompt.Requester, c.identity.User) {
			continue
		}
		if _, ok := c.mine[subject]; ok {
			continue
		}
		if _, ok := c.prompted[subject]; ok {
			continue
		}
		// a subject opening again voids any earlier decision memory,
		// re-proposals after a rejection are legitimate
		c.finalized.Remove(subject)
		c.prompted[subject] = prompt
		emit = append(emit, prompt)
	}
	for subject, prompt := range c.prompted {
		if _, ok := open[subject]; ok {
			continue
		}
		delete(c.prompted, subject)
		prompt.Withdrawn = true
		emit = append(emit, prompt)
	}
	c.mu.Unlock()

	for _, prompt := range emit {
		c.reporter.ReportPrompt(prompt)
	}
	return nil
}

func (c *Coordinator) pollTracked(ctx context.Context) error {
	c.mu.Lock()
	targets := make([]string, 0, len(c.mine)+len(c.prompted))
	for subject := range c.mine {
		targets = append(targets, subject)
	}
	for subject := range c.prompted {
		targets = append(targets, subject)
	}
	c.mu.Unlock()

	var errs []error
	for _, subject := range targets {
		body, ok := c.store.Get(ctx, c.votePath("status", subject))
		if !ok {
			// unreachable is not the same as vanished, keep tracking
			errs = append(errs, fmt.Errorf("%w: status of %q", errStoreUnavailable, subject))
			continue
		}
		var st status
		if err := json.Unmarshal(body, &st); err != nil {
			st = status{}
		}
		c.resolve(ctx, subject, st)
	}
	return errors.Join(errs...)
}

// resolve applies one polled status to a tracked subject.
func (c *Coordinator) resolve(ctx context.Context, subject string, st status) {
	c.mu.Lock()
	prop, isMine := c.mine[subject]
	prompt, isPrompted := c.prompted[subject]
	if !isMine && !isPrompted {
		// cancelled or finalized while the poll was in flight
		c.mu.Unlock()
		return
	}

	switch {
	case st.vanished():
		if isMine {
			delete(c.mine, subject)
			c.mu.Unlock()
			finalizedVanished.Inc()
			c.logger.Info("vote vanished, provisional revert stands",
				zap.Stringer("proposal", prop.id),
				zap.String("subject", subject),
			)
			c.reporter.ReportStatus(fmt.Sprintf("vote vanished: %s", prop.title))
			return
		}
		delete(c.prompted, subject)
		c.mu.Unlock()
		prompt.Withdrawn = true
		c.reporter.ReportPrompt(prompt)
		return

	case !st.Decided:
		c.mu.Unlock()
		return

	case isMine:
		approved := st.Approved != nil && *st.Approved
		delete(c.mine, subject)
		c.finalized.Add(subject, struct{}{})
		if approved {
			c.commitUnlock(subject, prop.cost, true)
		}
		c.mu.Unlock()

		if approved {
			finalizedApproved.Inc()
			c.logger.Info("vote approved",
				zap.Stringer("proposal", prop.id),
				zap.String("subject", subject),
				zap.Int("yes", st.Yes),
				zap.Int("no", st.No),
			)
			c.reporter.ReportStatus(fmt.Sprintf("vote approved: %s", prop.title))
			if err := c.uploader.PushSubject(ctx, subject); err != nil {
				// the next full scenario push covers it
				c.logger.Warn("failed to publish approved subject", zap.String("subject", subject), zap.Error(err))
			}
		} else {
			finalizedRejected.Inc()
			c.logger.Info("vote rejected, provisional revert stands",
				zap.Stringer("proposal", prop.id),
				zap.String("subject", subject),
				zap.Int("yes", st.Yes),
				zap.Int("no", st.No),
			)
			c.reporter.ReportStatus(fmt.Sprintf("vote rejected: %s", prop.title))
		}
		return

	default:
		approved := st.Approved != nil && *st.Approved
		delete(c.prompted, subject)
		alreadyDone := false
		if _, ok := c.finalized.Get(subject); ok {
			alreadyDone = true
		} else {
			c.finalized.Add(subject, struct{}{})
		}
		if approved && !alreadyDone {
			// mirror the outcome, the proposer pays the cost
			c.commitUnlock(subject, 0, false)
		}
		c.mu.Unlock()

		prompt.Withdrawn = true
		c.reporter.ReportPrompt(prompt)
		if alreadyDone {
			return
		}
		if approved {
			finalizedApproved.Inc()
			c.reporter.ReportStatus(fmt.Sprintf("vote approved: %s", prompt.Title))
		} else {
			finalizedRejected.Inc()
			c.reporter.ReportStatus(fmt.Sprintf("vote rejected: %s", prompt.Title))
		}
	}
}

// commitUnlock advances a subject to unlocked, debiting the balance when
// this client proposed it. Callers hold the coordinator lock.
func (c *Coordinator) commitUnlock(subject string, cost float64, debit bool) {
	if debit {
		c.state.AdjustBalance(-cost)
	}
	node, ok := c.state.Node(subject)
	if !ok {
		node = scenario.Node{ID: subject, Cost: cost}
	}
	node.State = scenario.NodeStateUnlocked
	c.state.SetNode(node)
}

func (c *Coordinator) submitCast(ctx context.Context, item cast) bool {
	payload := castPayload{User: c.identity.User, Vote: item.approve}
	if _, ok := c.store.PostJSON(ctx, c.votePath("cast", item.subject), payload); !ok {
		return false
	}
	castsSubmitted.Inc()
	return true
}

func (c *Coordinator) votePath(op, subject string) string {
	return "/vote/" + op + "/" + url.PathEscape(c.identity.Session) + "/" + url.PathEscape(subject)
}
