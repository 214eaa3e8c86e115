// Package metadata manages the JSON sidecar records stored inside the
// working copy under the vault control directory: per-file description and
// revision, lock records, and link (alias) records.
//
// Sidecars live in the repository itself so they ride in the same commit as
// the content they describe and can never drift from it.
package metadata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/adalundhe/vaultd/core/gitsync"
)

// Control-directory layout. Each sidecar mirrors the content tree:
// parts/1234567.mcam has its metadata at .vaultd/meta/parts/1234567.mcam.json.
const (
	metaPrefix = gitsync.ControlDir + "/meta/"
	lockPrefix = gitsync.ControlDir + "/locks/"
	linkPrefix = gitsync.ControlDir + "/links/"

	sidecarExt = ".json"
)

// =============================================================================
// Records
// =============================================================================

// FileMeta is the per-file description and revision sidecar.
type FileMeta struct {
	Description string `json:"description"`
	Revision    string `json:"revision"`
}

// LockRecord marks a file as checked out. Path is derived from the sidecar
// location, not stored in the body.
type LockRecord struct {
	Path       string    `json:"-"`
	User       string    `json:"user"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LinkRecord is a virtual alias pointing at a master file. Links never own
// locks or content of their own.
type LinkRecord struct {
	AliasPath  string `json:"-"`
	MasterPath string `json:"master"`
}

// =============================================================================
// Sidecar paths
// =============================================================================

// MetaPath maps a content path to its metadata sidecar path.
func MetaPath(path string) string {
	return metaPrefix + path + sidecarExt
}

// LockPath maps a content path to its lock sidecar path.
func LockPath(path string) string {
	return lockPrefix + path + sidecarExt
}

// LinkPath maps an alias path to its link sidecar path.
func LinkPath(alias string) string {
	return linkPrefix + alias + sidecarExt
}

// pathFromSidecar recovers the content path from a sidecar path, given its
// prefix. Returns "" for paths outside the prefix.
func pathFromSidecar(sidecarPath, prefix string) string {
	if !strings.HasPrefix(sidecarPath, prefix) || !strings.HasSuffix(sidecarPath, sidecarExt) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(sidecarPath, prefix), sidecarExt)
}

// =============================================================================
// Change constructors
// =============================================================================

// Composite operations (check-in, upload, delete) stage sidecar changes next
// to content changes so everything lands in one synchronizer transaction.

// MetaChange stages a metadata sidecar write.
func MetaChange(path string, meta *FileMeta) gitsync.Change {
	return gitsync.Change{Path: MetaPath(path), Content: marshal(meta)}
}

// RemoveMetaChange stages removal of a metadata sidecar.
func RemoveMetaChange(path string) gitsync.Change {
	return gitsync.Change{Path: MetaPath(path), Delete: true}
}

// LockChange stages a lock sidecar write.
func LockChange(rec *LockRecord) gitsync.Change {
	return gitsync.Change{Path: LockPath(rec.Path), Content: marshal(rec)}
}

// RemoveLockChange stages removal of a lock sidecar.
func RemoveLockChange(path string) gitsync.Change {
	return gitsync.Change{Path: LockPath(path), Delete: true}
}

// LinkChange stages a link sidecar write.
func LinkChange(rec *LinkRecord) gitsync.Change {
	return gitsync.Change{Path: LinkPath(rec.AliasPath), Content: marshal(rec)}
}

// RemoveLinkChange stages removal of a link sidecar.
func RemoveLinkChange(alias string) gitsync.Change {
	return gitsync.Change{Path: LinkPath(alias), Delete: true}
}

func marshal(v any) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// All sidecar types marshal cleanly; this is unreachable.
		panic(err)
	}
	return append(data, '\n')
}
