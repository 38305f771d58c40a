// Package events carries user-facing happenings out of the sync layer:
// short status lines for the host UI and vote prompts awaiting an
// answer. The Reporter is an explicitly owned instance handed to the
// components that publish through it; subscribers receive over buffered
// channels and slow consumers lose events rather than stall a sync
// round.
package events

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Status is a short, human-readable notice for the host UI.
type Status struct {
	Time  time.Time
	Text  string
	Error bool
}

// Prompt asks the local player to approve or reject another player's
// proposal. Withdrawn reports a previously raised prompt that no longer
// applies.
type Prompt struct {
	Subject   string
	Title     string
	Requester string
	Withdrawn bool
}

// Reporter fans events out to subscribers.
type Reporter struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	bufSize int

	mu      sync.Mutex
	closed  bool
	status  []chan Status
	prompts []chan Prompt
}

// Opt modifies a Reporter.
type Opt func(*Reporter)

// WithLogger sets the reporter logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithBufferSize overrides the subscription channel capacity.
func WithBufferSize(n int) Opt {
	return func(r *Reporter) {
		r.bufSize = n
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(r *Reporter) {
		r.clock = clock
	}
}

// NewReporter creates a reporter.
func NewReporter(opts ...Opt) *Reporter {
	r := &Reporter{
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		bufSize: 32,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SubscribeStatus returns a channel of status notices.
func (r *Reporter) SubscribeStatus() <-chan Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Status, r.bufSize)
	if r.closed {
		close(ch)
		return ch
	}
	r.status = append(r.status, ch)
	return ch
}

// SubscribePrompts returns a channel of vote prompts.
func (r *Reporter) SubscribePrompts() <-chan Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Prompt, r.bufSize)
	if r.closed {
		close(ch)
		return ch
	}
	r.prompts = append(r.prompts, ch)
	return ch
}

// ReportStatus publishes an informational notice.
func (r *Reporter) ReportStatus(text string) {
	r.publishStatus(Status{Time: r.clock.Now(), Text: text})
}

// ReportError publishes a failure notice.
func (r *Reporter) ReportError(text string) {
	r.publishStatus(Status{Time: r.clock.Now(), Text: text, Error: true})
}

func (r *Reporter) publishStatus(ev Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.status {
		select {
		case ch <- ev:
		default:
			r.logger.Debug("status subscriber full, dropping event", zap.String("text", ev.Text))
		}
	}
}

// ReportPrompt publishes a vote prompt.
func (r *Reporter) ReportPrompt(ev Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.prompts {
		select {
		case ch <- ev:
		default:
			r.logger.Debug("prompt subscriber full, dropping event", zap.String("subject", ev.Subject))
		}
	}
}

// Close closes all subscription channels. Publishing after Close is a
// no-op.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.status {
		close(ch)
	}
	for _, ch := range r.prompts {
		close(ch)
	}
	r.status = nil
	r.prompts = nil
}
