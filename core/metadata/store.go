package metadata

import (
	"context"
	"encoding/json"

	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/gitsync"
)

// =============================================================================
// Repo dependency
// =============================================================================

// Repo is the slice of the synchronizer the metadata store needs. Satisfied
// by *gitsync.Synchronizer; tests substitute fakes.
type Repo interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteAndCommit(ctx context.Context, changes []gitsync.Change, message string, author gitsync.Author) (string, error)
	ListControl(ctx context.Context, sub string) ([]gitsync.FileInfo, error)
}

// =============================================================================
// Store
// =============================================================================

// Store reads and writes sidecar records through the synchronizer.
type Store struct {
	repo Repo
}

// NewStore creates a metadata store over the given repository.
func NewStore(repo Repo) *Store {
	return &Store{repo: repo}
}

// =============================================================================
// File metadata
// =============================================================================

// Meta returns the metadata sidecar for a content path, or KindNotFound.
func (s *Store) Meta(ctx context.Context, path string) (*FileMeta, error) {
	var meta FileMeta
	if err := s.readJSON(ctx, MetaPath(path), path, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveMeta commits a metadata sidecar on its own, used for description
// edits outside a check-in.
func (s *Store) SaveMeta(ctx context.Context, path string, meta *FileMeta, message string, author gitsync.Author) error {
	_, err := s.repo.WriteAndCommit(ctx, []gitsync.Change{MetaChange(path, meta)}, message, author)
	return err
}

// =============================================================================
// Lock records
// =============================================================================

// Lock returns the lock record for a content path, or nil when unlocked.
func (s *Store) Lock(ctx context.Context, path string) (*LockRecord, error) {
	var rec LockRecord
	if err := s.readJSON(ctx, LockPath(path), path, &rec); err != nil {
		if verrors.IsKind(err, verrors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec.Path = path
	return &rec, nil
}

// SaveLock commits a lock sidecar.
func (s *Store) SaveLock(ctx context.Context, rec *LockRecord, message string, author gitsync.Author) error {
	_, err := s.repo.WriteAndCommit(ctx, []gitsync.Change{LockChange(rec)}, message, author)
	return err
}

// RemoveLock commits removal of a lock sidecar.
func (s *Store) RemoveLock(ctx context.Context, path, message string, author gitsync.Author) error {
	_, err := s.repo.WriteAndCommit(ctx, []gitsync.Change{RemoveLockChange(path)}, message, author)
	return err
}

// Locks enumerates every active lock record.
func (s *Store) Locks(ctx context.Context) ([]*LockRecord, error) {
	files, err := s.repo.ListControl(ctx, "locks")
	if err != nil {
		return nil, err
	}

	records := make([]*LockRecord, 0, len(files))
	for _, f := range files {
		path := pathFromSidecar(f.Path, lockPrefix)
		if path == "" {
			continue
		}

		rec, lockErr := s.Lock(ctx, path)
		if lockErr != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// =============================================================================
// Link records
// =============================================================================

// Link returns the link record for an alias path, or KindNotFound.
func (s *Store) Link(ctx context.Context, alias string) (*LinkRecord, error) {
	var rec LinkRecord
	if err := s.readJSON(ctx, LinkPath(alias), alias, &rec); err != nil {
		return nil, err
	}
	rec.AliasPath = alias
	return &rec, nil
}

// Links enumerates every link record.
func (s *Store) Links(ctx context.Context) ([]*LinkRecord, error) {
	files, err := s.repo.ListControl(ctx, "links")
	if err != nil {
		return nil, err
	}

	records := make([]*LinkRecord, 0, len(files))
	for _, f := range files {
		alias := pathFromSidecar(f.Path, linkPrefix)
		if alias == "" {
			continue
		}

		rec, linkErr := s.Link(ctx, alias)
		if linkErr != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// LinksTo returns the links whose master is the given content path. Admin
// delete uses this to refuse (or force) a cascading delete.
func (s *Store) LinksTo(ctx context.Context, master string) ([]*LinkRecord, error) {
	all, err := s.Links(ctx)
	if err != nil {
		return nil, err
	}

	var out []*LinkRecord
	for _, rec := range all {
		if rec.MasterPath == master {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ResolveMaster maps an alias to its master path; a non-alias path maps to
// itself. Lock operations always target the master.
func (s *Store) ResolveMaster(ctx context.Context, path string) (string, error) {
	rec, err := s.Link(ctx, path)
	if err != nil {
		if verrors.IsKind(err, verrors.KindNotFound) {
			return path, nil
		}
		return "", err
	}
	return rec.MasterPath, nil
}

// =============================================================================
// Helpers
// =============================================================================

// readJSON reads and decodes a sidecar, attributing errors to the content
// path rather than the sidecar path.
func (s *Store) readJSON(ctx context.Context, sidecarPath, path string, v any) error {
	data, err := s.repo.ReadFile(ctx, sidecarPath)
	if err != nil {
		if verrors.IsKind(err, verrors.KindNotFound) {
			return verrors.E("metadata.read", path, verrors.KindNotFound, nil)
		}
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return verrors.E("metadata.read", path, verrors.KindInternal, err)
	}
	return nil
}
