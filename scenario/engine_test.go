package scenario

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/svio-coop/go-svio/session"
)

type fakeStore struct {
	mu    sync.Mutex
	gets  map[string][]byte
	fail  map[string]bool
	posts map[string][][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		gets:  map[string][]byte{},
		fail:  map[string]bool{},
		posts: map[string][][]byte{},
	}
}

func (f *fakeStore) Get(ctx context.Context, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return nil, false
	}
	body, ok := f.gets[path]
	return body, ok
}

func (f *fakeStore) PostRaw(ctx context.Context, path string, query url.Values, contentType string, body []byte) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[path] {
		return nil, false
	}
	f.posts[path] = append(f.posts[path], body)
	return nil, true
}

const (
	pointsPath   = "/scenarios/save1/SciencePoints"
	treePath     = "/scenarios/save1/TechTree"
	archivesPath = "/scenarios/save1/ScienceArchives"
)

func newEngine(tb testing.TB, store *fakeStore, state State) *Engine {
	tb.Helper()
	return New(store, state, session.Identity{User: "kerb", Session: "save1"},
		WithLogger(zaptest.NewLogger(tb)),
	)
}

func seedStore(store *fakeStore) {
	store.gets[pointsPath] = []byte("sci = 120.500000\n")
	store.gets[treePath] = []byte(
		"Tech\n{\n\tid = basicRocketry\n\tstate = Available\n\tcost = 45\n}\n" +
			"Tech\n{\n\tid = stability\n\tstate = Unavailable\n\tcost = 18\n}\n",
	)
	store.gets[archivesPath] = []byte(
		"Science\n{\n\tid = crewReport@Kerbin\n\tsci = 1.5\n\tcap = 1.5\n}\n" +
			"Science\n{\n\tid = crewReport@Kerbin\n\tsci = 1.5\n\tcap = 1.5\n}\n" +
			"Science\n{\n\tid = mysteryGoo@Mun\n\tsci = 4\n\tcap = 6\n}\n",
	)
}

func TestPullMergesAllFragments(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	seedStore(store)
	state := NewMemState()
	state.AdjustBalance(100)
	state.AddArchive(ArchiveRecord{ID: "mysteryGoo@Mun", Points: 4, Cap: 6})

	eng := newEngine(t, store, state)
	require.NoError(t, eng.Pull(context.Background()))

	require.True(t, state.Created())
	require.InDelta(t, 120.5, state.Balance(), 1e-9, "balance moved by the signed difference")

	node, ok := state.Node("basicRocketry")
	require.True(t, ok)
	require.Equal(t, NodeStateUnlocked, node.State)
	_, ok = state.Node("stability")
	require.False(t, ok, "locked remote entries are not placed")

	recs := state.Archives()
	require.Len(t, recs, 2, "duplicate ids collapse, known ids skipped")
}

func TestPullIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	seedStore(store)
	state := NewMemState()
	eng := newEngine(t, store, state)

	require.NoError(t, eng.Pull(context.Background()))
	balance := state.Balance()
	nodes := state.Nodes()
	recs := state.Archives()

	require.NoError(t, eng.Pull(context.Background()))
	require.InDelta(t, balance, state.Balance(), 1e-9)
	require.Equal(t, nodes, state.Nodes())
	require.Equal(t, recs, state.Archives())
}

func TestPullAbandonsRoundOnMissingFragment(t *testing.T) {
	t.Parallel()
	for _, path := range []string{pointsPath, treePath, archivesPath} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			store := newFakeStore()
			seedStore(store)
			store.fail[path] = true
			state := NewMemState()
			state.AdjustBalance(100)

			eng := newEngine(t, store, state)
			require.ErrorIs(t, eng.Pull(context.Background()), errStoreUnavailable)

			require.InDelta(t, 100, state.Balance(), 1e-9, "no partial merge")
			require.Empty(t, state.Nodes())
			require.Empty(t, state.Archives())
		})
	}
}

func TestPullRejectsMalformedBalance(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	seedStore(store)
	store.gets[pointsPath] = []byte("no balance here\n")
	state := NewMemState()

	eng := newEngine(t, store, state)
	require.ErrorIs(t, eng.Pull(context.Background()), errMalformedFragment)
	require.Empty(t, state.Nodes())
}

func TestPullLeavesLocalOnlyEntriesAlone(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	seedStore(store)
	state := NewMemState()
	state.SetNode(Node{ID: "localOnly", State: NodeStateUnlocked, Cost: 10})
	state.AddArchive(ArchiveRecord{ID: "localScience", Points: 2, Cap: 2})

	eng := newEngine(t, store, state)
	require.NoError(t, eng.Pull(context.Background()))

	_, ok := state.Node("localOnly")
	require.True(t, ok)
	_, ok = state.Archive("localScience")
	require.True(t, ok)
}

func TestPushUploadsUnlockedEntriesOnly(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	state := NewMemState()
	state.SetNode(Node{ID: "basicRocketry", State: NodeStateUnlocked, Cost: 45})
	state.SetNode(Node{ID: "pending", State: NodeStateLocked, Cost: 18})
	state.AddArchive(ArchiveRecord{ID: "crewReport@Kerbin", Points: 1.5, Cap: 1.5})

	eng := newEngine(t, store, state)
	require.NoError(t, eng.Push(context.Background()))

	require.Len(t, store.posts[treePath], 1)
	tree := string(store.posts[treePath][0])
	require.Contains(t, tree, "id = basicRocketry")
	require.NotContains(t, tree, "id = pending")

	require.Len(t, store.posts[archivesPath], 1)
	require.Contains(t, string(store.posts[archivesPath][0]), "id = crewReport@Kerbin")
}

func TestPushFragmentsIndependent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.fail[treePath] = true
	state := NewMemState()
	state.AddArchive(ArchiveRecord{ID: "crewReport@Kerbin", Points: 1.5, Cap: 1.5})

	eng := newEngine(t, store, state)
	err := eng.Push(context.Background())
	require.ErrorIs(t, err, errStoreUnavailable)
	require.Contains(t, err.Error(), fragmentTree)
	require.Len(t, store.posts[archivesPath], 1, "archive upload proceeds despite the tree failure")
}

func TestPushSubject(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	state := NewMemState()
	state.SetNode(Node{ID: "basicRocketry", State: NodeStateUnlocked, Cost: 45})

	eng := newEngine(t, store, state)
	require.ErrorIs(t, eng.PushSubject(context.Background(), "nope"), errUnknownSubject)

	require.NoError(t, eng.PushSubject(context.Background(), "basicRocketry"))
	require.Len(t, store.posts[treePath], 1)
	body := string(store.posts[treePath][0])
	require.Contains(t, body, "id = basicRocketry")
	require.Equal(t, 1, strings.Count(body, "Tech"), "exactly one entry uploaded")
}
