package flags

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/svio-coop/go-svio/session"
)

type upload struct {
	path     string
	filename string
	data     []byte
}

type fakeStore struct {
	mu       sync.Mutex
	gets     map[string][]byte
	failGet  map[string]bool
	failPost bool
	uploads  []upload
	deletes  []string
}

func newStore() *fakeStore {
	return &fakeStore{
		gets:    map[string][]byte{"/flags": []byte("")},
		failGet: map[string]bool{},
	}
}

func (f *fakeStore) Get(ctx context.Context, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet[path] {
		return nil, false
	}
	body, ok := f.gets[path]
	return body, ok
}

func (f *fakeStore) PostMultipart(ctx context.Context, path, field, filename string, data []byte) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPost {
		return nil, false
	}
	f.uploads = append(f.uploads, upload{path: path, filename: filename, data: data})
	return nil, true
}

func (f *fakeStore) Delete(ctx context.Context, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, path)
	return nil, true
}

type statusRecorder struct {
	mu     sync.Mutex
	status []string
}

func (r *statusRecorder) ReportStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, text)
}

const stagingDir = "/data/flags"

func newChannel(tb testing.TB, store *fakeStore, fs afero.Fs) (*Channel, *statusRecorder) {
	tb.Helper()
	rep := &statusRecorder{}
	c := New(store, fs, rep, session.Identity{User: "kerb", Session: "save1"},
		WithLogger(zaptest.NewLogger(tb)),
		WithConfig(Config{Interval: time.Minute, Dir: stagingDir}),
	)
	return c, rep
}

func TestPlantAndPush(t *testing.T) {
	t.Parallel()
	store := newStore()
	c, _ := newChannel(t, store, afero.NewMemMapFs())

	require.ErrorIs(t, c.Plant("../evil.png", nil), errBadName)
	require.NoError(t, c.Plant("flag.png", []byte("png")))
	require.NoError(t, c.Push(context.Background()))

	require.Len(t, store.uploads, 1)
	require.Equal(t, "/flags/kerb", store.uploads[0].path)
	require.Equal(t, "flag.png", store.uploads[0].filename)
	require.Equal(t, "png", string(store.uploads[0].data))

	require.NoError(t, c.Push(context.Background()))
	require.Len(t, store.uploads, 1, "queue drained")
}

func TestPushKeepsUndeliveredFlags(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.failPost = true
	c, _ := newChannel(t, store, afero.NewMemMapFs())

	require.NoError(t, c.Plant("flag.png", []byte("png")))
	require.ErrorIs(t, c.Push(context.Background()), errStoreUnavailable)

	store.mu.Lock()
	store.failPost = false
	store.mu.Unlock()
	require.NoError(t, c.Push(context.Background()))
	require.Len(t, store.uploads, 1)
}

func TestPullStagesForeignFlags(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.gets["/flags"] = []byte("val/flag_a.png;kerb/mine.png;val/flag_a.png")
	store.gets["/flags/val/flag_a.png"] = []byte("bytes")
	fs := afero.NewMemMapFs()
	c, rep := newChannel(t, store, fs)

	require.NoError(t, c.Pull(context.Background()))

	data, err := afero.ReadFile(fs, filepath.Join(stagingDir, "val", "flag_a.png"))
	require.NoError(t, err)
	require.Equal(t, "bytes", string(data))

	ok, err := afero.Exists(fs, filepath.Join(stagingDir, "kerb", "mine.png"))
	require.NoError(t, err)
	require.False(t, ok, "own flags are never imported")

	require.Equal(t, []string{"flag imported: val/flag_a.png"}, rep.status, "one import despite the duplicate entry")

	require.NoError(t, c.Pull(context.Background()))
	require.Len(t, rep.status, 1, "already staged, not downloaded again")
}

func TestPullRejectsUnsafeEntries(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.gets["/flags"] = []byte("val/../../etc/passwd;val/flag.png")
	store.gets["/flags/val/flag.png"] = []byte("bytes")
	fs := afero.NewMemMapFs()
	c, rep := newChannel(t, store, fs)

	require.NoError(t, c.Pull(context.Background()))
	require.Equal(t, []string{"flag imported: val/flag.png"}, rep.status)

	ok, err := afero.Exists(fs, "/etc/passwd")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPullStoreDown(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.failGet["/flags"] = true
	c, _ := newChannel(t, store, afero.NewMemMapFs())
	require.ErrorIs(t, c.Pull(context.Background()), errStoreUnavailable)
}

func TestFailedDownloadRetriedNextRound(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.gets["/flags"] = []byte("val/flag.png")
	store.failGet["/flags/val/flag.png"] = true
	fs := afero.NewMemMapFs()
	c, rep := newChannel(t, store, fs)

	require.ErrorIs(t, c.Pull(context.Background()), errStoreUnavailable)
	require.Empty(t, rep.status)

	store.mu.Lock()
	store.failGet["/flags/val/flag.png"] = false
	store.gets["/flags/val/flag.png"] = []byte("bytes")
	store.mu.Unlock()

	require.NoError(t, c.Pull(context.Background()))
	require.Len(t, rep.status, 1)
}

func TestStagedFilesSeededAtStartup(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.gets["/flags"] = []byte("val/old.png")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(stagingDir, "val", "old.png"), []byte("old"), 0o600))
	c, rep := newChannel(t, store, fs)

	require.NoError(t, c.Pull(context.Background()))
	require.Empty(t, rep.status, "files from earlier runs are known already")
}

func TestForeignOwnerOnDiskBlocksImport(t *testing.T) {
	t.Parallel()
	store := newStore()
	store.gets["/flags"] = []byte("val/shared.png")
	fs := afero.NewMemMapFs()
	c, rep := newChannel(t, store, fs)

	// dropped in by someone else after startup
	require.NoError(t, afero.WriteFile(fs, filepath.Join(stagingDir, "bob", "shared.png"), []byte("x"), 0o600))

	require.NoError(t, c.Pull(context.Background()))
	require.Empty(t, rep.status)
	data, err := afero.ReadFile(fs, filepath.Join(stagingDir, "bob", "shared.png"))
	require.NoError(t, err)
	require.Equal(t, "x", string(data), "established copy untouched")
}

func TestRemove(t *testing.T) {
	t.Parallel()
	store := newStore()
	c, _ := newChannel(t, store, afero.NewMemMapFs())

	require.ErrorIs(t, c.Remove(context.Background(), "a/b"), errBadName)
	require.NoError(t, c.Remove(context.Background(), "flag.png"))
	require.Equal(t, []string{"/flags/kerb/flag.png"}, store.deletes)
}
