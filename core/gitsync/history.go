package gitsync

import (
	"context"
	"errors"
	"io"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// Commit is one entry of a file's commit history.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// History returns the commits that touched path, newest first, up to limit
// (limit <= 0 means all).
func (s *Synchronizer) History(ctx context.Context, path string, limit int) ([]Commit, error) {
	rel, err := cleanPath(path)
	if err != nil {
		return nil, verrors.E("gitsync.history", path, verrors.KindInvalid, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	head, err := s.headLocked()
	if err != nil {
		return nil, verrors.E("gitsync.history", path, verrors.KindNotFound, err)
	}

	iter, err := s.repo.Log(&gogit.LogOptions{
		From:     head,
		FileName: &rel,
		Order:    gogit.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, s.wrapSync("gitsync.history", err)
	}
	defer iter.Close()

	var commits []Commit
	for {
		if limit > 0 && len(commits) >= limit {
			break
		}

		c, iterErr := iter.Next()
		if iterErr != nil {
			if errors.Is(iterErr, io.EOF) {
				break
			}
			return nil, s.wrapSync("gitsync.history", iterErr)
		}

		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			Message: c.Message,
			When:    c.Author.When.UTC(),
		})
	}

	return commits, nil
}

// FileAt returns the bytes of path as of the given commit. Used by admin
// revert, which re-commits historical content forward rather than rewriting
// history.
func (s *Synchronizer) FileAt(ctx context.Context, commitID, path string) ([]byte, error) {
	rel, err := cleanPath(path)
	if err != nil {
		return nil, verrors.E("gitsync.file_at", path, verrors.KindInvalid, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	commit, err := s.repo.CommitObject(plumbing.NewHash(commitID))
	if err != nil {
		return nil, verrors.E("gitsync.file_at", path, verrors.KindNotFound, err)
	}

	file, err := commit.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, verrors.E("gitsync.file_at", path, verrors.KindNotFound, err)
		}
		return nil, s.wrapSync("gitsync.file_at", err)
	}

	contents, err := file.Contents()
	if err != nil {
		return nil, s.wrapSync("gitsync.file_at", err)
	}
	return []byte(contents), nil
}
