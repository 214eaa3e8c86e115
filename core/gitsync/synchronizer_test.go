package gitsync

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

func TestNew_EmptyRemoteInitializes(t *testing.T) {
	remote := newTestRemote(t)
	s := newTestSync(t, remote)

	// No commits yet anywhere.
	_, err := s.Head(context.Background())
	assert.Error(t, err)

	head, err := s.RemoteHead(context.Background())
	require.NoError(t, err)
	assert.Empty(t, head, "empty remote has no branch tip")
}

func TestWriteAndCommit_RoundTrip(t *testing.T) {
	remote := newTestRemote(t)
	s := newTestSync(t, remote)

	content := []byte("G0 X0 Y0\nG1 X10 Y10\n")
	commitID, err := s.WriteAndCommit(context.Background(),
		[]Change{{Path: "parts/1234567.mcam", Content: content}},
		"check in 1234567.mcam rev 1.0", Author{Name: "alice", Email: "alice@shop"})
	require.NoError(t, err)
	require.NotEmpty(t, commitID)

	got, err := s.ReadFile(context.Background(), "parts/1234567.mcam")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "ReadFile must return exactly the bytes written")

	head, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, commitID, head)
}

func TestReadFile_NotFound(t *testing.T) {
	remote := newTestRemote(t)
	seedRemote(t, remote, "exists.mcam", []byte("x"))
	s := newTestSync(t, remote)

	_, err := s.ReadFile(context.Background(), "missing.mcam")
	assert.True(t, verrors.IsKind(err, verrors.KindNotFound), "err = %v", err)
}

func TestReadFile_RejectsTraversal(t *testing.T) {
	remote := newTestRemote(t)
	s := newTestSync(t, remote)

	for _, path := range []string{"../etc/passwd", "/etc/passwd", "."} {
		_, err := s.ReadFile(context.Background(), path)
		assert.True(t, verrors.IsKind(err, verrors.KindInvalid), "path %q: err = %v", path, err)
	}
}

func TestPull_SeesRemoteAdvance(t *testing.T) {
	remote := newTestRemote(t)
	seedRemote(t, remote, "a.mcam", []byte("v1"))

	reader := newTestSync(t, remote)
	writer := newTestSync(t, remote)

	_, err := writer.WriteAndCommit(context.Background(),
		[]Change{{Path: "a.mcam", Content: []byte("v2")}}, "update", Author{Name: "bob", Email: "bob@shop"})
	require.NoError(t, err)

	require.NoError(t, reader.Pull(context.Background()))

	got, err := reader.ReadFile(context.Background(), "a.mcam")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestPull_NoOpWhenCurrent(t *testing.T) {
	remote := newTestRemote(t)
	seedRemote(t, remote, "a.mcam", []byte("v1"))
	s := newTestSync(t, remote)

	head1, err := s.Head(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Pull(context.Background()))
	require.NoError(t, s.Pull(context.Background()))

	head2, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, head1, head2)
}

func TestListFiles(t *testing.T) {
	remote := newTestRemote(t)
	s := newTestSync(t, remote)

	_, err := s.WriteAndCommit(context.Background(), []Change{
		{Path: "parts/1234567.mcam", Content: []byte("a")},
		{Path: "parts/7654321.mcam", Content: []byte("b")},
		{Path: "fixtures/bracket.vnc", Content: []byte("c")},
		{Path: ControlDir + "/meta/parts/1234567.mcam.json", Content: []byte("{}")},
	}, "populate", Author{Name: "alice", Email: "a@shop"})
	require.NoError(t, err)

	all, err := s.ListFiles(context.Background(), "")
	require.NoError(t, err)

	paths := make([]string, 0, len(all))
	for _, f := range all {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"parts/1234567.mcam", "parts/7654321.mcam", "fixtures/bracket.vnc"}, paths,
		"control dir and .git must be excluded")

	mcam, err := s.ListFiles(context.Background(), "parts/*.mcam")
	require.NoError(t, err)
	assert.Len(t, mcam, 2)
	for _, f := range mcam {
		assert.Positive(t, f.Size)
		assert.False(t, f.ModifiedAt.IsZero())
	}
}

func TestWriteAndCommit_Delete(t *testing.T) {
	remote := newTestRemote(t)
	seedRemote(t, remote, "old.mcam", []byte("legacy"))
	s := newTestSync(t, remote)

	_, err := s.WriteAndCommit(context.Background(),
		[]Change{{Path: "old.mcam", Delete: true}}, "delete old.mcam", Author{Name: "admin", Email: "a@shop"})
	require.NoError(t, err)

	_, err = s.ReadFile(context.Background(), "old.mcam")
	assert.True(t, verrors.IsKind(err, verrors.KindNotFound))
}

func TestWriteAndCommit_DeleteAbsentIsNoOp(t *testing.T) {
	remote := newTestRemote(t)
	seedRemote(t, remote, "keep.mcam", []byte("x"))
	s := newTestSync(t, remote)

	head, err := s.Head(context.Background())
	require.NoError(t, err)

	commitID, err := s.WriteAndCommit(context.Background(),
		[]Change{{Path: "ghost.mcam", Delete: true}}, "noop", Author{Name: "admin", Email: "a@shop"})
	require.NoError(t, err)
	assert.Equal(t, head, commitID, "deleting an absent file must not create a commit")
}

func TestWriteAndCommit_NoChangesIsInvalid(t *testing.T) {
	remote := newTestRemote(t)
	s := newTestSync(t, remote)

	_, err := s.WriteAndCommit(context.Background(), nil, "empty", Author{Name: "a", Email: "a@b"})
	assert.True(t, verrors.IsKind(err, verrors.KindInvalid))
}

func TestRemoteHead_MatchesAfterPush(t *testing.T) {
	remote := newTestRemote(t)
	commitID := seedRemote(t, remote, "a.mcam", []byte("v1"))

	s := newTestSync(t, remote)
	head, err := s.RemoteHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, commitID, head)
}
