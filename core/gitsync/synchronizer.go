// Package gitsync wraps the git remote behind the synchronizer contract the
// vault core consumes: pull-to-remote-tip, read, enumerate, and atomic
// write-commit-push with bounded retry on push rejection.
//
// The working copy is the single most contended resource in the system. A
// sync.RWMutex guards it: many concurrent readers (listing, content reads)
// or exactly one writer for the whole pull -> write -> commit -> push
// critical section, never both.
package gitsync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/gobwas/glob"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// ControlDir is the in-repository directory holding lock, metadata, and
// link sidecars. It is excluded from file listings.
const ControlDir = ".vaultd"

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPushRejected indicates the remote refused a push because it has
	// diverged. Retried internally by WriteAndCommit.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrInvalidPath indicates a path that escapes the working copy.
	ErrInvalidPath = errors.New("path escapes the working copy")

	// ErrNoCommits indicates the repository has no commits yet.
	ErrNoCommits = errors.New("repository has no commits")
)

// =============================================================================
// Config
// =============================================================================

// Config describes the remote and the local working copy.
type Config struct {
	// RemoteURL is the git remote holding vault state.
	RemoteURL string

	// Branch is the branch the vault operates on.
	Branch string

	// Workdir is the local clone path.
	Workdir string

	// TokenUser and Token form basic-auth credentials for the remote.
	// Both empty means unauthenticated (local and test transports).
	TokenUser string
	Token     string

	// NetworkTimeout bounds each individual remote call.
	NetworkTimeout time.Duration

	// PushAttempts bounds the re-pull-and-retry loop on push rejection.
	PushAttempts int

	// RetryBaseDelay is the first backoff delay between attempts.
	RetryBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = "main"
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = 20 * time.Second
	}
	if c.PushAttempts < 1 {
		c.PushAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
}

// FileInfo describes one listed file.
type FileInfo struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// =============================================================================
// Synchronizer
// =============================================================================

// Synchronizer owns the working copy and every interaction with the remote.
type Synchronizer struct {
	config Config
	repo   *gogit.Repository
	auth   transport.AuthMethod
	logger *slog.Logger
	cache  *contentCache

	// mu is the working-copy read-write lock described in the package doc.
	mu sync.RWMutex

	// pushHook, when set, replaces push. Used by tests to simulate a
	// remote that advances between pull and push.
	pushHook func(context.Context) error
}

// New opens the working copy, cloning from the remote if it does not exist
// yet. An empty remote is initialized locally so the first upload can
// establish the branch.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Synchronizer, error) {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Synchronizer{
		config: config,
		logger: logger,
		auth:   buildAuth(config),
	}

	cache, err := newContentCache()
	if err != nil {
		return nil, verrors.E("gitsync.new", "", verrors.KindInternal, err)
	}
	s.cache = cache

	if err := s.openOrClone(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// buildAuth constructs basic auth when a token is configured.
func buildAuth(config Config) transport.AuthMethod {
	if config.Token == "" {
		return nil
	}

	user := config.TokenUser
	if user == "" {
		user = "oauth2"
	}
	return &githttp.BasicAuth{Username: user, Password: config.Token}
}

// openOrClone opens an existing working copy, clones, or initializes an
// empty one against an empty remote.
func (s *Synchronizer) openOrClone(ctx context.Context) error {
	repo, err := gogit.PlainOpen(s.config.Workdir)
	if err == nil {
		s.repo = repo
		return nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return s.wrapSync("gitsync.open", err)
	}

	return s.clone(ctx)
}

// clone performs the initial clone of the remote.
func (s *Synchronizer) clone(ctx context.Context) error {
	netctx, cancel := s.netCtx(ctx)
	defer cancel()

	repo, err := gogit.PlainCloneContext(netctx, s.config.Workdir, false, &gogit.CloneOptions{
		URL:           s.config.RemoteURL,
		Auth:          s.auth,
		ReferenceName: plumbing.NewBranchReferenceName(s.config.Branch),
		SingleBranch:  true,
	})
	if err == nil {
		s.repo = repo
		s.logger.Info("cloned working copy", "remote", s.config.RemoteURL, "workdir", s.config.Workdir)
		return nil
	}

	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return s.initEmpty()
	}
	return s.wrapSync("gitsync.clone", err)
}

// initEmpty initializes a fresh working copy pointed at an empty remote.
// The branch comes into existence with the first commit.
func (s *Synchronizer) initEmpty() error {
	repo, err := gogit.PlainInit(s.config.Workdir, false)
	if err != nil {
		return s.wrapSync("gitsync.init", err)
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{s.config.RemoteURL},
	}); err != nil {
		return s.wrapSync("gitsync.init", err)
	}

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(s.config.Branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return s.wrapSync("gitsync.init", err)
	}

	s.repo = repo
	s.logger.Info("initialized empty working copy", "remote", s.config.RemoteURL, "branch", s.config.Branch)
	return nil
}

// Workdir returns the working copy path, for the filesystem watcher.
func (s *Synchronizer) Workdir() string {
	return s.config.Workdir
}

// netCtx derives the per-call network timeout context.
func (s *Synchronizer) netCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.NetworkTimeout)
}

// =============================================================================
// Pull
// =============================================================================

// Pull fetches and hard-resets the working copy to the remote tip. Cheap
// no-op when already current, so it is safe to call frequently.
func (s *Synchronizer) Pull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pullLocked(ctx)
}

// pullLocked is Pull without taking the working-copy lock. Callers already
// inside the write critical section use it directly.
func (s *Synchronizer) pullLocked(ctx context.Context) error {
	if err := s.fetch(ctx); err != nil {
		return err
	}

	remoteHash, ok := s.remoteRefLocked()
	if !ok {
		// Remote has no commits for our branch yet; nothing to reset to.
		return nil
	}

	localHash, err := s.headLocked()
	if err == nil && localHash == remoteHash {
		return nil
	}

	return s.resetLocked(remoteHash)
}

// fetch updates the remote-tracking ref, tolerating an up-to-date or empty
// remote.
func (s *Synchronizer) fetch(ctx context.Context) error {
	netctx, cancel := s.netCtx(ctx)
	defer cancel()

	refspec := gitconfig.RefSpec("+refs/heads/" + s.config.Branch + ":refs/remotes/origin/" + s.config.Branch)
	err := s.repo.FetchContext(netctx, &gogit.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       s.auth,
		Force:      true,
	})
	if err == nil || errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if errors.Is(err, transport.ErrEmptyRemoteRepository) || isNoMatchingRef(err) {
		return nil
	}
	return s.classifyRemote("gitsync.fetch", err)
}

// remoteRefLocked resolves the remote-tracking ref for the vault branch.
func (s *Synchronizer) remoteRefLocked() (plumbing.Hash, bool) {
	ref, err := s.repo.Reference(plumbing.NewRemoteReferenceName("origin", s.config.Branch), true)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}

// resetLocked hard-resets the working copy to the given commit and removes
// untracked files so the tree mirrors the remote exactly.
func (s *Synchronizer) resetLocked(hash plumbing.Hash) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return s.wrapSync("gitsync.reset", err)
	}

	if err := wt.Reset(&gogit.ResetOptions{Commit: hash, Mode: gogit.HardReset}); err != nil {
		return s.wrapSync("gitsync.reset", err)
	}

	if err := wt.Clean(&gogit.CleanOptions{Dir: true}); err != nil {
		return s.wrapSync("gitsync.reset", err)
	}

	return nil
}

// resetToRemoteLocked restores the working copy to the last known remote
// state after a failed write, so retries start clean.
func (s *Synchronizer) resetToRemoteLocked() {
	remoteHash, ok := s.remoteRefLocked()
	if !ok {
		return
	}
	if err := s.resetLocked(remoteHash); err != nil {
		s.logger.Error("failed to reset working copy after write failure", "error", err)
	}
}

// =============================================================================
// Heads
// =============================================================================

// Head returns the local tip commit hash, or ErrNoCommits.
func (s *Synchronizer) Head(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, err := s.headLocked()
	if err != nil {
		return "", verrors.E("gitsync.head", "", verrors.KindNotFound, err)
	}
	return hash.String(), nil
}

func (s *Synchronizer) headLocked() (plumbing.Hash, error) {
	ref, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, ErrNoCommits
		}
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

// RemoteHead asks the remote for its tip of the vault branch without
// touching the working copy. This is the change notifier's fingerprint;
// an empty string means the remote branch does not exist yet.
func (s *Synchronizer) RemoteHead(ctx context.Context) (string, error) {
	remote, err := s.repo.Remote("origin")
	if err != nil {
		return "", s.wrapSync("gitsync.remote_head", err)
	}

	netctx, cancel := s.netCtx(ctx)
	defer cancel()

	refs, err := remote.ListContext(netctx, &gogit.ListOptions{Auth: s.auth})
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return "", nil
		}
		return "", s.classifyRemote("gitsync.remote_head", err)
	}

	want := plumbing.NewBranchReferenceName(s.config.Branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String(), nil
		}
	}
	return "", nil
}

// =============================================================================
// Reads
// =============================================================================

// ReadFile returns the bytes of a working-copy file at the current head.
// Results are cached by (head, path); the key changes when the head moves,
// so stale content is never served.
func (s *Synchronizer) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rel, err := cleanPath(path)
	if err != nil {
		return nil, verrors.E("gitsync.read", path, verrors.KindInvalid, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	head, _ := s.headLocked()
	if data, ok := s.cache.get(head.String(), rel); ok {
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(s.config.Workdir, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.E("gitsync.read", path, verrors.KindNotFound, err)
		}
		return nil, verrors.E("gitsync.read", path, verrors.KindInternal, err)
	}

	s.cache.set(head.String(), rel, data)
	return data, nil
}

// ListFiles enumerates working-copy files matching the glob pattern (empty
// matches everything), excluding .git and the vault control directory.
func (s *Synchronizer) ListFiles(ctx context.Context, pattern string) ([]FileInfo, error) {
	var matcher glob.Glob
	if pattern != "" {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, verrors.E("gitsync.list", "", verrors.KindInvalid, err)
		}
		matcher = compiled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []FileInfo
	root := s.config.Workdir

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ControlDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher != nil && !matcher.Match(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		files = append(files, FileInfo{
			Path:       rel,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, verrors.E("gitsync.list", "", verrors.KindInternal, err)
	}

	return files, nil
}

// ListControl enumerates files under a subdirectory of the vault control
// directory (e.g. "locks" or "links"). Paths are returned relative to the
// working copy root, so they can be fed straight back into ReadFile.
func (s *Synchronizer) ListControl(ctx context.Context, sub string) ([]FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := filepath.Join(s.config.Workdir, ControlDir, filepath.FromSlash(sub))
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(s.config.Workdir, path)
		if relErr != nil {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		files = append(files, FileInfo{
			Path:       filepath.ToSlash(rel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, verrors.E("gitsync.list_control", sub, verrors.KindInternal, err)
	}

	return files, nil
}

// =============================================================================
// Error classification
// =============================================================================

// classifyRemote flattens a go-git remote error into the taxonomy: auth
// failures are fatal, everything else transient sync.
func (s *Synchronizer) classifyRemote(op string, err error) error {
	if isAuthErr(err) {
		return verrors.E(op, "", verrors.KindAuth, err)
	}
	return verrors.E(op, "", verrors.KindSync, err)
}

func (s *Synchronizer) wrapSync(op string, err error) error {
	return verrors.E(op, "", verrors.KindSync, err)
}

// isAuthErr recognizes credential rejections from the transport layer.
func isAuthErr(err error) bool {
	if errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "authentication required") ||
		strings.Contains(msg, "authorization failed")
}

// isPushRejected recognizes a non-fast-forward rejection.
func isPushRejected(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") ||
		strings.Contains(msg, "fetch first") ||
		strings.Contains(msg, "cannot lock ref")
}

// isNoMatchingRef recognizes a fetch against a branch the remote does not
// have yet.
func isNoMatchingRef(err error) bool {
	var noMatch gogit.NoMatchingRefSpecError
	if errors.As(err, &noMatch) {
		return true
	}
	return strings.Contains(err.Error(), "couldn't find remote ref")
}

// cleanPath normalizes a repository-relative path and rejects traversal.
func cleanPath(path string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if cleaned == "." || cleaned == "" {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
