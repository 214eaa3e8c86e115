package metadata

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/gitsync"
)

// fakeRepo is an in-memory Repo: a flat path -> bytes map where every
// WriteAndCommit applies atomically.
type fakeRepo struct {
	mu      sync.Mutex
	files   map[string][]byte
	commits int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{files: make(map[string][]byte)}
}

func (r *fakeRepo) ReadFile(ctx context.Context, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.files[path]
	if !ok {
		return nil, verrors.E("fake.read", path, verrors.KindNotFound, nil)
	}
	return data, nil
}

func (r *fakeRepo) WriteAndCommit(ctx context.Context, changes []gitsync.Change, message string, author gitsync.Author) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, change := range changes {
		if change.Delete {
			delete(r.files, change.Path)
			continue
		}
		r.files[change.Path] = change.Content
	}
	r.commits++
	return "commit-n", nil
}

func (r *fakeRepo) ListControl(ctx context.Context, sub string) ([]gitsync.FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := gitsync.ControlDir + "/" + sub + "/"
	var files []gitsync.FileInfo
	for path, data := range r.files {
		if strings.HasPrefix(path, prefix) {
			files = append(files, gitsync.FileInfo{Path: path, Size: int64(len(data))})
		}
	}
	return files, nil
}

func TestSidecarPaths(t *testing.T) {
	assert.Equal(t, ".vaultd/meta/parts/1234567.mcam.json", MetaPath("parts/1234567.mcam"))
	assert.Equal(t, ".vaultd/locks/parts/1234567.mcam.json", LockPath("parts/1234567.mcam"))
	assert.Equal(t, ".vaultd/links/alias.mcam.json", LinkPath("alias.mcam"))

	assert.Equal(t, "parts/1234567.mcam", pathFromSidecar(".vaultd/locks/parts/1234567.mcam.json", lockPrefix))
	assert.Equal(t, "", pathFromSidecar(".vaultd/meta/x.json", lockPrefix))
}

func TestMeta_RoundTrip(t *testing.T) {
	store := NewStore(newFakeRepo())
	ctx := context.Background()
	author := gitsync.Author{Name: "alice", Email: "a@shop"}

	_, err := store.Meta(ctx, "parts/1234567.mcam")
	assert.True(t, verrors.IsKind(err, verrors.KindNotFound))

	meta := &FileMeta{Description: "bracket fixture", Revision: "1.0"}
	require.NoError(t, store.SaveMeta(ctx, "parts/1234567.mcam", meta, "set description", author))

	got, err := store.Meta(ctx, "parts/1234567.mcam")
	require.NoError(t, err)
	assert.Equal(t, "bracket fixture", got.Description)
	assert.Equal(t, "1.0", got.Revision)
}

func TestLock_RoundTrip(t *testing.T) {
	store := NewStore(newFakeRepo())
	ctx := context.Background()
	author := gitsync.Author{Name: "alice", Email: "a@shop"}

	rec, err := store.Lock(ctx, "parts/1234567.mcam")
	require.NoError(t, err)
	assert.Nil(t, rec, "unlocked file yields a nil record, not an error")

	lock := &LockRecord{Path: "parts/1234567.mcam", User: "alice", AcquiredAt: time.Now().UTC()}
	require.NoError(t, store.SaveLock(ctx, lock, "checkout", author))

	rec, err = store.Lock(ctx, "parts/1234567.mcam")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, "parts/1234567.mcam", rec.Path)

	require.NoError(t, store.RemoveLock(ctx, "parts/1234567.mcam", "checkin", author))

	rec, err = store.Lock(ctx, "parts/1234567.mcam")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLocks_Enumerates(t *testing.T) {
	store := NewStore(newFakeRepo())
	ctx := context.Background()
	author := gitsync.Author{Name: "x", Email: "x@shop"}

	for _, path := range []string{"a.mcam", "parts/b.mcam", "deep/nested/c.vnc"} {
		rec := &LockRecord{Path: path, User: "u-" + path, AcquiredAt: time.Now().UTC()}
		require.NoError(t, store.SaveLock(ctx, rec, "checkout", author))
	}

	locks, err := store.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 3)

	paths := make([]string, 0, 3)
	for _, rec := range locks {
		paths = append(paths, rec.Path)
	}
	assert.ElementsMatch(t, []string{"a.mcam", "parts/b.mcam", "deep/nested/c.vnc"}, paths)
}

func TestLinks(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(repo)
	ctx := context.Background()
	author := gitsync.Author{Name: "admin", Email: "a@shop"}

	_, err := repo.WriteAndCommit(ctx, []gitsync.Change{
		LinkChange(&LinkRecord{AliasPath: "alias1.mcam", MasterPath: "master.mcam"}),
		LinkChange(&LinkRecord{AliasPath: "alias2.mcam", MasterPath: "master.mcam"}),
		LinkChange(&LinkRecord{AliasPath: "other.mcam", MasterPath: "unrelated.mcam"}),
	}, "create links", author)
	require.NoError(t, err)

	rec, err := store.Link(ctx, "alias1.mcam")
	require.NoError(t, err)
	assert.Equal(t, "master.mcam", rec.MasterPath)
	assert.Equal(t, "alias1.mcam", rec.AliasPath)

	to, err := store.LinksTo(ctx, "master.mcam")
	require.NoError(t, err)
	assert.Len(t, to, 2)

	// Lock operations resolve aliases to their master.
	master, err := store.ResolveMaster(ctx, "alias2.mcam")
	require.NoError(t, err)
	assert.Equal(t, "master.mcam", master)

	master, err = store.ResolveMaster(ctx, "master.mcam")
	require.NoError(t, err)
	assert.Equal(t, "master.mcam", master)
}

func TestChangeConstructors_CoCommit(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()

	// A check-in stages content, metadata, and lock removal in one commit.
	changes := []gitsync.Change{
		{Path: "parts/1234567.mcam", Content: []byte("new content")},
		MetaChange("parts/1234567.mcam", &FileMeta{Description: "fixture", Revision: "1.1"}),
		RemoveLockChange("parts/1234567.mcam"),
	}

	_, err := repo.WriteAndCommit(ctx, changes, "checkin", gitsync.Author{Name: "a", Email: "a@b"})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.commits, "content and sidecars must land in one transaction")

	store := NewStore(repo)
	meta, err := store.Meta(ctx, "parts/1234567.mcam")
	require.NoError(t, err)
	assert.Equal(t, "1.1", meta.Revision)
}
