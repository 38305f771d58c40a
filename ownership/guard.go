// Package ownership arbitrates which remotely declared artifacts this
// client imports. The placement channels share one policy: never re-import
// your own artifacts, never place the same subject twice and never
// overwrite a subject some other player already owns.
package ownership

import (
	"strings"
	"sync"
)

// Decision is the outcome of an admission check.
type Decision uint8

const (
	// Admit lets the artifact through and records its subject as placed.
	Admit Decision = iota
	// SkipOwn rejects artifacts declared by this client itself.
	SkipOwn
	// SkipKnown rejects subjects that are already placed.
	SkipKnown
	// SkipForeignOwner rejects subjects whose local copy carries a
	// different owner tag.
	SkipForeignOwner
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case SkipOwn:
		return "skip-own"
	case SkipKnown:
		return "skip-known"
	case SkipForeignOwner:
		return "skip-foreign-owner"
	default:
		return "unknown"
	}
}

// OwnerLookup reports the owner tag attached to an already placed subject.
type OwnerLookup func(subject string) (owner string, ok bool)

// Opt modifies a guard.
type Opt func(*Guard)

// WithOwnerLookup consults existing local placements that predate this
// guard, typically files found on disk from an earlier run.
func WithOwnerLookup(lookup OwnerLookup) Opt {
	return func(g *Guard) {
		g.lookup = lookup
	}
}

// Guard decides, per subject, whether a remote artifact may be placed
// locally. First writer wins: once a subject is admitted, every later
// declaration of it is skipped no matter who declares it. Owner and
// subject comparisons are case-insensitive.
type Guard struct {
	self   string
	lookup OwnerLookup

	mu    sync.Mutex
	known map[string]struct{}
}

// New returns a guard for the given local identity.
func New(self string, opts ...Opt) *Guard {
	g := &Guard{
		self:  self,
		known: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Owns reports whether the declared owner is this client. It records
// nothing.
func (g *Guard) Owns(owner string) bool {
	return strings.EqualFold(owner, g.self)
}

// Seed marks subjects as already placed without admitting anything,
// typically from a staging directory scan at startup.
func (g *Guard) Seed(subjects ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, subject := range subjects {
		g.known[strings.ToLower(subject)] = struct{}{}
	}
}

// Decide returns the admission outcome for a remote artifact. Admit
// records the subject as placed, so a placement that fails afterwards
// must be followed by Forget for the next round to retry it.
func (g *Guard) Decide(owner, subject string) Decision {
	if g.Owns(owner) {
		decisionsOwn.Inc()
		return SkipOwn
	}
	key := strings.ToLower(subject)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.known[key]; ok {
		decisionsKnown.Inc()
		return SkipKnown
	}
	if g.lookup != nil {
		if existing, ok := g.lookup(subject); ok && !strings.EqualFold(existing, owner) {
			decisionsForeign.Inc()
			return SkipForeignOwner
		}
	}
	g.known[key] = struct{}{}
	decisionsAdmit.Inc()
	return Admit
}

// Forget drops a subject from the placed set so it may be admitted again.
func (g *Guard) Forget(subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.known, strings.ToLower(subject))
}
