package presence

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/svio-coop/go-svio/session"
)

type fakeStore struct {
	mu      sync.Mutex
	body    []byte
	ok      bool
	forms   map[string]url.Values
	deletes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{ok: true, forms: map[string]url.Values{}}
}

func (f *fakeStore) Get(ctx context.Context, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return nil, false
	}
	return f.body, true
}

func (f *fakeStore) PostForm(ctx context.Context, path string, form url.Values) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return nil, false
	}
	f.forms[path] = form
	return nil, true
}

func (f *fakeStore) Delete(ctx context.Context, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, path)
	return nil, f.ok
}

func (f *fakeStore) setBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = []byte(body)
}

func epoch(tm time.Time) string {
	return strconv.FormatFloat(float64(tm.UnixMilli())/1000, 'f', 3, 64)
}

func newTracker(tb testing.TB, store *fakeStore) (*Tracker, clockwork.FakeClock) {
	tb.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	identity := session.Identity{User: "kerb", Color: "#aabbcc", Session: "save1"}
	tr := New(store, identity, session.NewStatic("Flight", clock),
		WithLogger(zaptest.NewLogger(tb)),
		withClock(clock),
	)
	return tr, clock
}

func TestPushSendsHeartbeat(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	clock.Advance(42 * time.Second)

	require.NoError(t, tr.Push(context.Background()))
	form, ok := store.forms["/presence/kerb"]
	require.True(t, ok)
	require.Equal(t, "Flight", form.Get("scene"))
	require.Equal(t, "save1", form.Get("session"))
	require.Equal(t, "#aabbcc", form.Get("color"))
	require.Equal(t, epoch(clock.Now()), form.Get("ut"))
	simTime, err := strconv.ParseFloat(form.Get("ksp_ut"), 64)
	require.NoError(t, err)
	require.InDelta(t, 42, simTime, 1e-9)
}

func TestPushStoreDown(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.ok = false
	tr, _ := newTracker(t, store)
	require.ErrorIs(t, tr.Push(context.Background()), errStoreUnavailable)
}

func TestOwnHeartbeatEchoedIntoLiveSet(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, _ := newTracker(t, store)

	require.NoError(t, tr.Push(context.Background()))
	form := store.forms["/presence/kerb"]
	store.setBody(fmt.Sprintf("user=kerb,scene=%s,ut=%s,online=1\n",
		form.Get("scene"), form.Get("ut")))
	require.NoError(t, tr.Pull(context.Background()))

	live := tr.Live()
	require.Len(t, live, 1)
	require.Equal(t, "kerb", live[0].User)
	require.Equal(t, "Flight", live[0].Scene)
	require.True(t, live[0].Online)
}

func TestPullBuildsLiveSet(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	now := clock.Now()

	store.setBody(fmt.Sprintf(
		"user=val,scene=Flight,ut=%s,online=1\n"+
			"user=bob,scene=VAB,ut=%s,online=0\n"+
			"user=bill,scene=Flight,ut=%s,online=0\n",
		epoch(now.Add(-5*time.Second)),
		epoch(now.Add(-40*time.Second)),
		epoch(now.Add(-50*time.Second)),
	))
	require.NoError(t, tr.Pull(context.Background()))

	live := tr.Live()
	require.Len(t, live, 2)
	require.Equal(t, "bob", live[0].User, "inside sticky window")
	require.Equal(t, "val", live[1].User, "fresh")

	// bill expired but is still known
	rec, ok := tr.Lookup("bill")
	require.True(t, ok)
	require.Equal(t, "Flight", rec.Scene)
}

func TestMainMenuNeverLive(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	store.setBody(fmt.Sprintf("user=val,scene=MAINMENU,ut=%s,online=1\n", epoch(clock.Now())))

	require.NoError(t, tr.Pull(context.Background()))
	require.Empty(t, tr.Live())

	rec, ok := tr.Lookup("val")
	require.True(t, ok)
	require.Equal(t, "MAINMENU", rec.Scene)
}

func TestAdditiveRecordMerge(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	now := clock.Now()

	store.setBody(fmt.Sprintf("user=val,scene=Flight,color=#ff0000,ut=%s,online=1\n", epoch(now)))
	require.NoError(t, tr.Pull(context.Background()))

	// next line misses color and flips online off with a recent heartbeat
	store.setBody(fmt.Sprintf("user=val,scene=VAB,ut=%s,online=0\n", epoch(now)))
	require.NoError(t, tr.Pull(context.Background()))

	live := tr.Live()
	require.Len(t, live, 1, "sticky window keeps a recently seen player live")
	require.Equal(t, "#ff0000", live[0].Color, "missing field keeps previous value")
	require.Equal(t, "VAB", live[0].Scene)
	require.False(t, live[0].Online)
}

func TestZeroLastSeenNeverSticky(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, _ := newTracker(t, store)

	store.setBody("user=val,scene=Flight,online=1\n")
	require.NoError(t, tr.Pull(context.Background()))
	require.Len(t, tr.Live(), 1, "fresh by online flag even without a heartbeat")

	store.setBody("user=val,scene=Flight,online=0\n")
	require.NoError(t, tr.Pull(context.Background()))
	require.Empty(t, tr.Live(), "no last-seen value, no sticky grace")
}

func TestStickyExpiresAsClockAdvances(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	seen := clock.Now()

	store.setBody(fmt.Sprintf("user=val,scene=Flight,ut=%s,online=0\n", epoch(seen)))
	require.NoError(t, tr.Pull(context.Background()))
	require.Len(t, tr.Live(), 1)

	clock.Advance(46 * time.Second) // beyond 30s timeout + 15s grace
	require.NoError(t, tr.Pull(context.Background()))
	require.Empty(t, tr.Live())
}

func TestUserKeyedCaseInsensitively(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	now := clock.Now()

	store.setBody(fmt.Sprintf("user=Val,scene=Flight,ut=%s,online=1\n", epoch(now)))
	require.NoError(t, tr.Pull(context.Background()))
	store.setBody(fmt.Sprintf("user=VAL,scene=Flight,ut=%s,online=1\n", epoch(now)))
	require.NoError(t, tr.Pull(context.Background()))

	require.Len(t, tr.Live(), 1)
	rec, ok := tr.Lookup("val")
	require.True(t, ok)
	require.Equal(t, "VAL", rec.User, "latest display casing wins")
}

func TestMalformedLinesSkippedNotFatal(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	store.setBody(fmt.Sprintf(
		"scene=Flight,online=1\n"+ // no user
			"garbage without pairs\n"+
			"user=val,scene=Flight,broken,ut=%s,online=1\n",
		epoch(clock.Now()),
	))
	require.NoError(t, tr.Pull(context.Background()))
	live := tr.Live()
	require.Len(t, live, 1)
	require.Equal(t, "val", live[0].User)
}

func TestPullStoreDown(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, clock := newTracker(t, store)
	store.setBody(fmt.Sprintf("user=val,scene=Flight,ut=%s,online=1\n", epoch(clock.Now())))
	require.NoError(t, tr.Pull(context.Background()))
	require.Len(t, tr.Live(), 1)

	store.mu.Lock()
	store.ok = false
	store.mu.Unlock()
	require.ErrorIs(t, tr.Pull(context.Background()), errStoreUnavailable)
	require.Len(t, tr.Live(), 1, "failed round leaves the live set untouched")
}

func TestCloseWithdrawsPresence(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	tr, _ := newTracker(t, store)
	tr.Close(context.Background())
	require.Equal(t, []string{"/presence/kerb"}, store.deletes)
}
