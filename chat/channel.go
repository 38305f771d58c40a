// Package chat relays session chat through the store's append-only
// message log. Outgoing messages are queued locally and posted on the
// next push; the pull side reads the whole log, remembers how many
// lines it has already consumed and hands only the new ones to
// subscribers. The conversation every client renders is the store's
// echo, own messages included, so all players see the same history.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/wire"
)

const (
	channelName     = "chat"
	contentTypeText = "text/plain"

	// maxMessageLen is the store's truncation limit. Sending longer
	// text would just be cut server-side, so the client cuts first.
	maxMessageLen = 300

	subscriberBuffer = 64
)

var (
	errStoreUnavailable = errors.New("store unavailable")
	errEmptyMessage     = errors.New("empty message")
)

type store interface {
	Get(ctx context.Context, path string) ([]byte, bool)
	PostRaw(ctx context.Context, path string, query url.Values, contentType string, body []byte) ([]byte, bool)
}

// Message is one line of session chat.
type Message struct {
	Time time.Time
	User string
	Text string
}

// Channel is the sync channel for session chat.
type Channel struct {
	logger   *zap.Logger
	cfg      Config
	store    store
	identity session.Identity

	mu       sync.Mutex
	outgoing []string
	consumed int
	backlog  []Message
	subs     []chan Message
	closed   bool
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

// New returns a chat channel for the session named by the identity.
func New(store store, identity session.Identity, opts ...Opt) *Channel {
	c := &Channel{
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		store:    store,
		identity: identity,
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

// Send queues a message for the next push. The text is trimmed and cut
// to the store's length limit.
func (c *Channel) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptyMessage
	}
	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen])
	}
	c.mu.Lock()
	c.outgoing = append(c.outgoing, text)
	c.mu.Unlock()
	return nil
}

// Push delivers queued messages in order. On a store failure the
// undelivered tail stays queued for the next round.
func (c *Channel) Push(ctx context.Context) error {
	c.mu.Lock()
	pending := c.outgoing
	c.outgoing = nil
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	path := "/chat/" + url.PathEscape(c.identity.Session)
	query := url.Values{"u": {c.identity.User}}
	for i, text := range pending {
		if _, ok := c.store.PostRaw(ctx, path, query, contentTypeText, []byte(text)); !ok {
			c.mu.Lock()
			c.outgoing = append(pending[i:], c.outgoing...)
			c.mu.Unlock()
			return fmt.Errorf("%w: sending chat", errStoreUnavailable)
		}
		messagesSent.Inc()
	}
	return nil
}

// Pull reads the message log and hands lines past the consumed mark to
// subscribers. A log shorter than the mark means the store was reset,
// so the whole log counts as new again.
func (c *Channel) Pull(ctx context.Context) error {
	body, ok := c.store.Get(ctx, "/chat/"+url.PathEscape(c.identity.Session))
	if !ok {
		return fmt.Errorf("%w: chat log", errStoreUnavailable)
	}
	lines := wire.Lines(body)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(lines) < c.consumed {
		c.logger.Info("chat log shrank, replaying from the start",
			zap.Int("consumed", c.consumed),
			zap.Int("lines", len(lines)),
		)
		c.consumed = 0
	}
	fresh := lines[c.consumed:]
	c.consumed = len(lines)

	var skipped int
	for _, line := range fresh {
		msg, ok := parseMessage(line)
		if !ok {
			skipped++
			continue
		}
		c.remember(msg)
		c.publish(msg)
		messagesReceived.Inc()
	}
	if skipped > 0 {
		malformedLines.Add(float64(skipped))
		c.logger.Debug("skipped malformed chat lines", zap.Int("count", skipped))
	}
	return nil
}

func (c *Channel) remember(msg Message) {
	c.backlog = append(c.backlog, msg)
	if over := len(c.backlog) - c.cfg.Backlog; over > 0 {
		c.backlog = append(c.backlog[:0:0], c.backlog[over:]...)
	}
}

func (c *Channel) publish(msg Message) {
	if c.closed {
		return
	}
	for _, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			c.logger.Debug("chat subscriber full, dropping message", zap.String("user", msg.User))
		}
	}
}

// Subscribe returns a channel of newly pulled messages.
func (c *Channel) Subscribe() <-chan Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Message, subscriberBuffer)
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Backlog returns a snapshot of the recent conversation, oldest first.
func (c *Channel) Backlog() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.backlog))
	copy(out, c.backlog)
	return out
}

// Close closes all subscription channels. Pulls after Close still
// maintain the backlog but deliver nothing.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

// parseMessage decodes one "ts|base64(user)|base64(text)" log line.
func parseMessage(line string) (Message, bool) {
	fields, ok := wire.SplitFields(line, '|', 3)
	if !ok {
		return Message{}, false
	}
	ts, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return Message{}, false
	}
	user, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return Message{}, false
	}
	text, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return Message{}, false
	}
	return Message{Time: ts.UTC(), User: string(user), Text: string(text)}, true
}
