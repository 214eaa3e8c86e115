package gitsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// =============================================================================
// Write types
// =============================================================================

// Change is one staged mutation inside a WriteAndCommit transaction.
type Change struct {
	// Path is the repository-relative file, forward-slash form.
	Path string

	// Content is the new file body. Ignored when Delete is set.
	Content []byte

	// Delete stages removal of the file instead of a write.
	Delete bool
}

// Author identifies who a commit is attributed to.
type Author struct {
	Name  string
	Email string
}

// =============================================================================
// WriteAndCommit
// =============================================================================

// WriteAndCommit applies all changes, commits them as one commit, and pushes.
// The whole pull -> write -> commit -> push sequence runs under the
// working-copy write lock, so no reader observes a half-applied state and
// no two writers interleave.
//
// A push rejected because the remote advanced triggers a bounded retry:
// re-pull (which discards the local commit), re-apply, re-push. The content
// therefore lands in exactly one commit or none. When the budget is
// exhausted, the working copy is hard-reset to the last known remote state
// and a KindCommit error is surfaced. Auth failures abort immediately.
func (s *Synchronizer) WriteAndCommit(ctx context.Context, changes []Change, message string, author Author) (string, error) {
	if len(changes) == 0 {
		return "", verrors.E("gitsync.write", "", verrors.KindInvalid, errors.New("no changes"))
	}
	for _, change := range changes {
		if _, err := cleanPath(change.Path); err != nil {
			return "", verrors.E("gitsync.write", change.Path, verrors.KindInvalid, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	policy := verrors.Policy{
		MaxAttempts:   s.config.PushAttempts,
		BaseDelay:     s.config.RetryBaseDelay,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}

	var commitID string
	err := verrors.Retry(ctx, policy, retryableWrite, func() error {
		id, attemptErr := s.attemptWrite(ctx, changes, message, author)
		if attemptErr != nil {
			s.resetToRemoteLocked()
			return attemptErr
		}
		commitID = id
		return nil
	})
	if err != nil {
		s.resetToRemoteLocked()
		return "", s.flattenWriteError(err)
	}

	return commitID, nil
}

// retryableWrite allows another attempt for push rejections and transient
// sync failures; auth and invalid errors stop the loop.
func retryableWrite(err error) bool {
	return errors.Is(err, ErrPushRejected) || verrors.Retryable(err)
}

// flattenWriteError maps an exhausted retry loop to the taxonomy.
func (s *Synchronizer) flattenWriteError(err error) error {
	if errors.Is(err, ErrPushRejected) {
		return verrors.E("gitsync.write", "", verrors.KindCommit, err)
	}
	var oe *verrors.OpError
	if errors.As(err, &oe) {
		return err
	}
	return verrors.E("gitsync.write", "", verrors.KindSync, err)
}

// attemptWrite is one full pull -> apply -> commit -> push attempt.
// Callers hold the write lock.
func (s *Synchronizer) attemptWrite(ctx context.Context, changes []Change, message string, author Author) (string, error) {
	if err := s.pullLocked(ctx); err != nil {
		return "", err
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", s.wrapSync("gitsync.write", err)
	}

	staged, err := s.applyChanges(wt, changes)
	if err != nil {
		return "", err
	}

	if !staged {
		// Every change was already in effect (e.g. deleting an absent
		// file); the current head is the answer.
		head, headErr := s.headLocked()
		if headErr != nil {
			return "", s.wrapSync("gitsync.write", headErr)
		}
		return head.String(), nil
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", s.wrapSync("gitsync.commit", err)
	}

	if err := s.callPush(ctx); err != nil {
		return "", err
	}

	s.logger.Debug("committed and pushed", "commit", hash.String(), "message", message)
	return hash.String(), nil
}

// applyChanges writes or removes each change and stages it. Reports whether
// anything was actually staged.
func (s *Synchronizer) applyChanges(wt *gogit.Worktree, changes []Change) (bool, error) {
	staged := false

	for _, change := range changes {
		rel, _ := cleanPath(change.Path)

		if change.Delete {
			ok, err := s.stageRemoval(wt, rel)
			if err != nil {
				return false, err
			}
			staged = staged || ok
			continue
		}

		if err := s.stageWrite(wt, rel, change.Content); err != nil {
			return false, err
		}
		staged = true
	}

	return staged, nil
}

// stageWrite writes the file bytes and adds them to the index.
func (s *Synchronizer) stageWrite(wt *gogit.Worktree, rel string, content []byte) error {
	abs := filepath.Join(s.config.Workdir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return verrors.E("gitsync.write", rel, verrors.KindInternal, err)
	}
	if err := os.WriteFile(abs, content, 0644); err != nil {
		return verrors.E("gitsync.write", rel, verrors.KindInternal, err)
	}
	if _, err := wt.Add(rel); err != nil {
		return s.wrapSync("gitsync.stage", err)
	}
	return nil
}

// stageRemoval deletes the file from worktree and index. Removing a file
// that does not exist is a no-op, not an error.
func (s *Synchronizer) stageRemoval(wt *gogit.Worktree, rel string) (bool, error) {
	abs := filepath.Join(s.config.Workdir, filepath.FromSlash(rel))
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return false, nil
	}

	if _, err := wt.Remove(rel); err != nil {
		return false, s.wrapSync("gitsync.stage", err)
	}
	return true, nil
}

// callPush routes through the test hook when set.
func (s *Synchronizer) callPush(ctx context.Context) error {
	if s.pushHook != nil {
		return s.pushHook(ctx)
	}
	return s.push(ctx)
}

// push sends the local branch to the remote.
func (s *Synchronizer) push(ctx context.Context) error {
	netctx, cancel := s.netCtx(ctx)
	defer cancel()

	refspec := gitconfig.RefSpec("refs/heads/" + s.config.Branch + ":refs/heads/" + s.config.Branch)
	err := s.repo.PushContext(netctx, &gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       s.auth,
	})
	if err == nil || errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}

	if isAuthErr(err) {
		return verrors.E("gitsync.push", "", verrors.KindAuth, err)
	}
	if isPushRejected(err) {
		return ErrPushRejected
	}
	return s.wrapSync("gitsync.push", err)
}
