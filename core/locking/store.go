package locking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/gitsync"
	"github.com/adalundhe/vaultd/core/metadata"
)

// =============================================================================
// Dependencies
// =============================================================================

// Sidecars is the durable lock-record backend, satisfied by *metadata.Store.
// Lock records are committed through the synchronizer, so they survive
// restarts and appear in repository history.
type Sidecars interface {
	Lock(ctx context.Context, path string) (*metadata.LockRecord, error)
	SaveLock(ctx context.Context, rec *metadata.LockRecord, message string, author gitsync.Author) error
	RemoveLock(ctx context.Context, path, message string, author gitsync.Author) error
	Locks(ctx context.Context) ([]*metadata.LockRecord, error)
}

// =============================================================================
// Store
// =============================================================================

// Store enforces at-most-one-holder-per-path on top of the sidecar backend.
// All mutations for one path run inside that path's critical section, so
// two concurrent checkouts can never both observe "unlocked" and both win.
type Store struct {
	sidecars Sidecars
	keyed    *KeyedMutex
	logger   *slog.Logger

	// authorEmail is stamped on lock commits next to the acting user's name.
	authorEmail string

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewStore creates a lock store over the sidecar backend.
func NewStore(sidecars Sidecars, authorEmail string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if authorEmail == "" {
		authorEmail = "vaultd@localhost"
	}

	return &Store{
		sidecars:    sidecars,
		keyed:       NewKeyedMutex(),
		logger:      logger,
		authorEmail: authorEmail,
		now:         time.Now,
	}
}

// WithPath runs fn inside the path's critical section. Composite operations
// (check-in: verify holder, write content, release) use this so the whole
// sequence is atomic with respect to other lock mutations on the path.
func (s *Store) WithPath(path string, fn func() error) error {
	return s.keyed.WithKey(path, fn)
}

// =============================================================================
// Acquire / Release
// =============================================================================

// Acquire takes the lock on path for user. Re-acquiring a lock you already
// hold is an idempotent success returning the existing record; a lock held
// by anyone else fails with KindAlreadyLocked.
func (s *Store) Acquire(ctx context.Context, path, user string) (*metadata.LockRecord, error) {
	var acquired *metadata.LockRecord

	err := s.keyed.WithKey(path, func() error {
		existing, err := s.sidecars.Lock(ctx, path)
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.User == user {
				acquired = existing
				return nil
			}
			return verrors.E("lock.acquire", path, verrors.KindAlreadyLocked,
				fmt.Errorf("held by %s since %s", existing.User, existing.AcquiredAt.Format(time.RFC3339)))
		}

		rec := &metadata.LockRecord{
			Path:       path,
			User:       user,
			AcquiredAt: s.now().UTC(),
		}

		message := fmt.Sprintf("%s checked out %s", user, path)
		if err := s.sidecars.SaveLock(ctx, rec, message, s.authorFor(user)); err != nil {
			return err
		}

		s.logger.Info("lock acquired", "path", path, "user", user)
		acquired = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acquired, nil
}

// Release drops the lock on path, failing with KindNotHolder unless user
// holds it. Releasing an unlocked path is KindNotFound.
func (s *Store) Release(ctx context.Context, path, user string) error {
	return s.keyed.WithKey(path, func() error {
		existing, err := s.sidecars.Lock(ctx, path)
		if err != nil {
			return err
		}

		if existing == nil {
			return verrors.E("lock.release", path, verrors.KindNotFound, nil)
		}
		if existing.User != user {
			return verrors.E("lock.release", path, verrors.KindNotHolder,
				fmt.Errorf("held by %s, not %s", existing.User, user))
		}

		message := fmt.Sprintf("%s released %s", user, path)
		if err := s.sidecars.RemoveLock(ctx, path, message, s.authorFor(user)); err != nil {
			return err
		}

		s.logger.Info("lock released", "path", path, "user", user)
		return nil
	})
}

// ForceRelease drops the lock regardless of holder, for admin override.
// Returns the displaced record so the caller can log the OVERRIDE event,
// or nil when there was nothing to release.
func (s *Store) ForceRelease(ctx context.Context, path, admin string) (*metadata.LockRecord, error) {
	var displaced *metadata.LockRecord

	err := s.keyed.WithKey(path, func() error {
		existing, err := s.sidecars.Lock(ctx, path)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}

		message := fmt.Sprintf("%s overrode %s's lock on %s", admin, existing.User, path)
		if err := s.sidecars.RemoveLock(ctx, path, message, s.authorFor(admin)); err != nil {
			return err
		}

		s.logger.Warn("lock overridden", "path", path, "holder", existing.User, "admin", admin)
		displaced = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return displaced, nil
}

// =============================================================================
// Queries
// =============================================================================

// Get returns the current lock record for path, or nil when unlocked.
func (s *Store) Get(ctx context.Context, path string) (*metadata.LockRecord, error) {
	return s.sidecars.Lock(ctx, path)
}

// List returns every active lock record.
func (s *Store) List(ctx context.Context) ([]*metadata.LockRecord, error) {
	return s.sidecars.Locks(ctx)
}

func (s *Store) authorFor(user string) gitsync.Author {
	return gitsync.Author{Name: user, Email: s.authorEmail}
}
