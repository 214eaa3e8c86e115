package vault

import (
	"context"
	"path"
	"sort"
	"time"

	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/metadata"
	"github.com/adalundhe/vaultd/core/revision"
)

// Entry is one row of the grouped listing.
type Entry struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	Revision    string    `json:"revision,omitempty"`
	Description string    `json:"description,omitempty"`

	LockedBy string     `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	// IsLink marks aliases; Master is the real file they resolve to.
	// Revision and lock state are the master's.
	IsLink bool   `json:"is_link,omitempty"`
	Master string `json:"master,omitempty"`
}

// Group is a named bucket of listing entries.
type Group struct {
	Name  string  `json:"name"`
	Files []Entry `json:"files"`
}

// Listing builds the grouped file listing: real files plus link aliases,
// each annotated with revision, description, and lock state, bucketed by
// the filename classifier and sorted for stable output.
func (s *Service) Listing(ctx context.Context) ([]Group, error) {
	files, err := s.repo.ListFiles(ctx, "")
	if err != nil {
		return nil, err
	}

	locks, err := s.locks.List(ctx)
	if err != nil {
		return nil, err
	}
	lockByPath := make(map[string]*metadata.LockRecord, len(locks))
	for _, rec := range locks {
		lockByPath[rec.Path] = rec
	}

	links, err := s.meta.Links(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files)+len(links))
	byPath := make(map[string]Entry, len(files))

	for _, f := range files {
		if s.excluded(f.Path) {
			continue
		}

		entry := Entry{
			Path:       f.Path,
			Size:       f.Size,
			ModifiedAt: f.ModifiedAt,
		}
		s.annotate(ctx, &entry, f.Path, lockByPath)

		entries = append(entries, entry)
		byPath[f.Path] = entry
	}

	for _, link := range links {
		if s.excluded(link.AliasPath) {
			continue
		}

		entry := Entry{
			Path:   link.AliasPath,
			IsLink: true,
			Master: link.MasterPath,
		}
		if master, ok := byPath[link.MasterPath]; ok {
			entry.Size = master.Size
			entry.ModifiedAt = master.ModifiedAt
			entry.Revision = master.Revision
			entry.Description = master.Description
			entry.LockedBy = master.LockedBy
			entry.LockedAt = master.LockedAt
		}
		entries = append(entries, entry)
	}

	return groupEntries(entries), nil
}

// annotate fills in sidecar-derived fields for a content path.
func (s *Service) annotate(ctx context.Context, entry *Entry, filePath string, locks map[string]*metadata.LockRecord) {
	if meta, err := s.meta.Meta(ctx, filePath); err == nil {
		entry.Revision = meta.Revision
		entry.Description = meta.Description
	} else if !verrors.IsKind(err, verrors.KindNotFound) {
		s.logger.Warn("failed to read metadata sidecar", "path", filePath, "error", err)
	}

	if rec, ok := locks[filePath]; ok {
		entry.LockedBy = rec.User
		at := rec.AcquiredAt
		entry.LockedAt = &at
	}
}

// excluded reports whether a path is filtered out of listings by config.
func (s *Service) excluded(filePath string) bool {
	for _, matcher := range s.exclude {
		if matcher.Match(filePath) {
			return true
		}
	}
	return false
}

// groupEntries buckets entries by the filename classifier and sorts both
// levels so repeated listings compare equal.
func groupEntries(entries []Entry) []Group {
	buckets := make(map[string][]Entry)
	for _, entry := range entries {
		key := revision.ClassifyGroup(path.Base(entry.Path))
		buckets[key] = append(buckets[key], entry)
	}

	groups := make([]Group, 0, len(buckets))
	for name, files := range buckets {
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		groups = append(groups, Group{Name: name, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })

	return groups
}
