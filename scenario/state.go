package scenario

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/svio-coop/go-svio/wire"
)

// Node state labels used on the wire and in local state.
const (
	NodeStateUnlocked = "Available"
	NodeStateLocked   = "Unavailable"
)

// Unlocked reports whether a node state label counts as researched.
// Hosts are not consistent about the label they report, so the
// comparison is loose.
func Unlocked(state string) bool {
	return strings.EqualFold(state, NodeStateUnlocked) ||
		strings.EqualFold(state, "Researched") ||
		strings.EqualFold(state, "Unlocked")
}

// Node is one research tree entry.
type Node struct {
	ID    string
	State string
	Cost  float64
	// Extra carries host fields this layer does not interpret, such as
	// part entries, preserved across a round trip.
	Extra []wire.Field
}

// ArchiveRecord is one accumulated discovery entry. Points may be capped
// by the host.
type ArchiveRecord struct {
	ID     string
	Points float64
	Cap    float64
	Extra  []wire.Field
}

// State is the host adapter through which the engine reads and mutates
// simulation progress. Implementations must be safe for concurrent use.
type State interface {
	// Ensure creates the backing scenario object if the host has not
	// done so yet. Calling it again is a no-op.
	Ensure()

	Balance() float64
	// AdjustBalance adds delta to the balance. Delta may be negative.
	AdjustBalance(delta float64)

	Node(id string) (Node, bool)
	SetNode(node Node)
	Nodes() []Node

	Archive(id string) (ArchiveRecord, bool)
	AddArchive(rec ArchiveRecord)
	Archives() []ArchiveRecord
}

// MemState is an in-memory State used by the headless agent and in tests.
type MemState struct {
	mu       sync.RWMutex
	created  bool
	balance  float64
	nodes    map[string]Node
	archives map[string]ArchiveRecord
}

// NewMemState returns an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{
		nodes:    make(map[string]Node),
		archives: make(map[string]ArchiveRecord),
	}
}

func (s *MemState) Ensure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = true
}

// Created reports whether Ensure has run.
func (s *MemState) Created() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}

func (s *MemState) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

func (s *MemState) AdjustBalance(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance += delta
}

func (s *MemState) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	return node, ok
}

func (s *MemState) SetNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = node
}

// Nodes returns all tree entries ordered by id.
func (s *MemState) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := maps.Keys(s.nodes)
	slices.Sort(ids)
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, s.nodes[id])
	}
	return nodes
}

func (s *MemState) Archive(id string) (ArchiveRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.archives[id]
	return rec, ok
}

func (s *MemState) AddArchive(rec ArchiveRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[rec.ID]; ok {
		return
	}
	s.archives[rec.ID] = rec
}

// Archives returns all discovery records ordered by id.
func (s *MemState) Archives() []ArchiveRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := maps.Keys(s.archives)
	slices.Sort(ids)
	recs := make([]ArchiveRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.archives[id])
	}
	return recs
}
