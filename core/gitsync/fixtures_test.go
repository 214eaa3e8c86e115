package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/go-git/go-git/v5/storage/memory"
)

// The tests run against an in-process "test://" transport backed by
// in-memory remote storage, so push and pull paths are exercised without a
// network or a git binary.

var (
	remoteLoader  = server.MapLoader{}
	installOnce   sync.Once
	remoteCounter atomic.Int64
)

// newTestRemote registers a fresh empty remote and returns its URL.
func newTestRemote(t *testing.T) string {
	t.Helper()

	installOnce.Do(func() {
		client.InstallProtocol("test", server.NewServer(remoteLoader))
	})

	url := fmt.Sprintf("test://vault/repo-%d.git", remoteCounter.Add(1))
	remoteLoader[url] = memory.NewStorage()
	return url
}

// newTestSync builds a synchronizer against the given remote with its
// working copy in a temp dir.
func newTestSync(t *testing.T, remoteURL string) *Synchronizer {
	t.Helper()

	s, err := New(context.Background(), Config{
		RemoteURL: remoteURL,
		Branch:    "main",
		Workdir:   t.TempDir(),
	}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// seedRemote pushes an initial file through a throwaway synchronizer so the
// remote has a first commit.
func seedRemote(t *testing.T, remoteURL, path string, content []byte) string {
	t.Helper()

	seeder := newTestSync(t, remoteURL)
	commitID, err := seeder.WriteAndCommit(context.Background(),
		[]Change{{Path: path, Content: content}}, "seed", Author{Name: "seeder", Email: "seed@test"})
	if err != nil {
		t.Fatalf("seed WriteAndCommit() error = %v", err)
	}
	return commitID
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
