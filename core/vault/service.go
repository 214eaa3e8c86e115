// Package vault is the orchestrator: it ties the synchronizer, lock store,
// metadata sidecars, activity log, and change notifier together into the
// operations clients actually invoke — checkout, check-in, cancel, upload,
// delete, links, admin override and revert, and the grouped listing.
package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gobwas/glob"

	"github.com/adalundhe/vaultd/core/activity"
	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/gitsync"
	"github.com/adalundhe/vaultd/core/locking"
	"github.com/adalundhe/vaultd/core/messaging"
	"github.com/adalundhe/vaultd/core/metadata"
	"github.com/adalundhe/vaultd/core/notify"
	"github.com/adalundhe/vaultd/core/revision"
)

// =============================================================================
// Dependencies
// =============================================================================

// Repo is the slice of the synchronizer the service consumes. Satisfied by
// *gitsync.Synchronizer.
type Repo interface {
	Pull(ctx context.Context) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListFiles(ctx context.Context, pattern string) ([]gitsync.FileInfo, error)
	WriteAndCommit(ctx context.Context, changes []gitsync.Change, message string, author gitsync.Author) (string, error)
	History(ctx context.Context, path string, limit int) ([]gitsync.Commit, error)
	FileAt(ctx context.Context, commitID, path string) ([]byte, error)
	RemoteHead(ctx context.Context) (string, error)
}

// Options carries the service dependencies. Repo, Meta, and Locks are
// required; everything else is optional and skipped when nil.
type Options struct {
	Repo     Repo
	Meta     *metadata.Store
	Locks    *locking.Store
	Activity *activity.Store
	Messages *messaging.Store
	Hub      *notify.Hub
	Metrics  *Metrics
	Logger   *slog.Logger

	// Kick requests an immediate notifier check after successful writes.
	Kick func()

	// AuthorEmail is stamped on vault commits next to the acting user.
	AuthorEmail string

	// ExcludeGlobs filters paths out of the grouped listing.
	ExcludeGlobs []string
}

// Service implements the vault operations. It also satisfies notify.Source,
// feeding the change notifier its fingerprint and refresh payloads.
type Service struct {
	repo     Repo
	meta     *metadata.Store
	locks    *locking.Store
	activity *activity.Store
	messages *messaging.Store
	hub      *notify.Hub
	metrics  *Metrics
	logger   *slog.Logger

	kick        func()
	authorEmail string
	exclude     []glob.Glob
}

// New constructs the service.
func New(opts Options) (*Service, error) {
	if opts.Repo == nil || opts.Meta == nil || opts.Locks == nil {
		return nil, verrors.E("vault.new", "", verrors.KindInternal,
			fmt.Errorf("repo, metadata, and lock stores are required"))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "vaultd@localhost"
	}

	exclude := make([]glob.Glob, 0, len(opts.ExcludeGlobs))
	for _, pattern := range opts.ExcludeGlobs {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, verrors.E("vault.new", "", verrors.KindInvalid,
				fmt.Errorf("exclude glob %q: %w", pattern, err))
		}
		exclude = append(exclude, compiled)
	}

	return &Service{
		repo:        opts.Repo,
		meta:        opts.Meta,
		locks:       opts.Locks,
		activity:    opts.Activity,
		messages:    opts.Messages,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		kick:        opts.Kick,
		authorEmail: opts.AuthorEmail,
		exclude:     exclude,
	}, nil
}

// =============================================================================
// Checkout / Check-in / Cancel
// =============================================================================

// Checkout acquires the exclusive lock on a file for editing. Aliases
// resolve to their master first, so locking a link locks the real file.
func (s *Service) Checkout(ctx context.Context, path, user string) (rec *metadata.LockRecord, err error) {
	defer func() { s.metrics.observe("checkout", err) }()

	if user == "" {
		return nil, verrors.E("vault.checkout", path, verrors.KindInvalid,
			fmt.Errorf("user is required"))
	}

	// Freshen the working copy so the lock check sees recent remote state.
	// A failed pull is not fatal: the lock commit itself pulls again.
	if pullErr := s.repo.Pull(ctx); pullErr != nil {
		s.logger.Warn("pre-checkout pull failed", "path", path, "error", pullErr)
	}

	master, err := s.meta.ResolveMaster(ctx, path)
	if err != nil {
		return nil, err
	}

	if _, err = s.repo.ReadFile(ctx, master); err != nil {
		return nil, err
	}

	rec, err = s.locks.Acquire(ctx, master, user)
	if err != nil {
		return nil, err
	}

	s.record(activity.NewEvent(activity.EventCheckOut, user, master))
	s.publish(notify.NewEvent(notify.EventLockChanged, rec))
	s.wake()
	return rec, nil
}

// CheckInRequest describes one check-in.
type CheckInRequest struct {
	Path    string
	User    string
	Content []byte

	// Kind and ExplicitMajor drive the revision calculator. ExplicitMajor
	// is revision.NoExplicitMajor when not given.
	Kind          revision.Kind
	ExplicitMajor int

	// Description replaces the file's description when non-empty.
	Description string
}

// CheckIn uploads new content for a locked file, assigns the next revision,
// and releases the lock — content, metadata sidecar, and lock removal all
// land in one commit. Only the lock holder may check in.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (newRevision string, err error) {
	defer func() { s.metrics.observe("checkin", err) }()

	master, err := s.meta.ResolveMaster(ctx, req.Path)
	if err != nil {
		return "", err
	}

	err = s.locks.WithPath(master, func() error {
		rec, lockErr := s.locks.Get(ctx, master)
		if lockErr != nil {
			return lockErr
		}
		if rec == nil {
			return verrors.E("vault.checkin", master, verrors.KindNotFound,
				fmt.Errorf("file is not checked out"))
		}
		if rec.User != req.User {
			return verrors.E("vault.checkin", master, verrors.KindNotHolder,
				fmt.Errorf("held by %s, not %s", rec.User, req.User))
		}

		current, description, metaErr := s.currentMeta(ctx, master)
		if metaErr != nil {
			return metaErr
		}
		if req.Description != "" {
			description = req.Description
		}

		newRevision = revision.Next(current, req.Kind, req.ExplicitMajor)

		changes := []gitsync.Change{
			{Path: master, Content: req.Content},
			metadata.MetaChange(master, &metadata.FileMeta{
				Description: description,
				Revision:    newRevision,
			}),
			metadata.RemoveLockChange(master),
		}

		message := fmt.Sprintf("%s checked in %s rev %s", req.User, master, newRevision)
		_, commitErr := s.repo.WriteAndCommit(ctx, changes, message, s.authorFor(req.User))
		return commitErr
	})
	if err != nil {
		// Clients may be staring at state the failed write disturbed;
		// force a corrective broadcast either way.
		s.wake()
		return "", err
	}

	s.logger.Info("check-in complete", "path", master, "user", req.User, "revision", newRevision)
	s.record(activity.NewEvent(activity.EventCheckIn, req.User, master).WithRevision(newRevision))
	s.wake()
	return newRevision, nil
}

// currentMeta returns the file's revision and description, zero-valued when
// no sidecar exists yet.
func (s *Service) currentMeta(ctx context.Context, path string) (rev, description string, err error) {
	meta, err := s.meta.Meta(ctx, path)
	if err != nil {
		if verrors.IsKind(err, verrors.KindNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	return meta.Revision, meta.Description, nil
}

// Cancel releases a checkout without writing content. Only the holder may
// cancel; the file's bytes and revision are untouched.
func (s *Service) Cancel(ctx context.Context, path, user string) (err error) {
	defer func() { s.metrics.observe("cancel", err) }()

	master, err := s.meta.ResolveMaster(ctx, path)
	if err != nil {
		return err
	}

	if err = s.locks.Release(ctx, master, user); err != nil {
		return err
	}

	s.record(activity.NewEvent(activity.EventCancel, user, master))
	s.publish(notify.NewEvent(notify.EventLockChanged, nil))
	s.wake()
	return nil
}

// =============================================================================
// Upload / Delete
// =============================================================================

// Upload creates a new file at revision 1.0: content and metadata sidecar
// in one commit. Uploading over an existing path fails. The existence check
// and the commit run under the path's critical section, so concurrent
// uploads of the same path resolve to exactly one winner.
func (s *Service) Upload(ctx context.Context, path, user string, content []byte, description string) (err error) {
	defer func() { s.metrics.observe("upload", err) }()

	const initialRevision = "1.0"

	err = s.locks.WithPath(path, func() error {
		if _, readErr := s.repo.ReadFile(ctx, path); readErr == nil {
			return verrors.E("vault.upload", path, verrors.KindInvalid,
				fmt.Errorf("file already exists"))
		} else if !verrors.IsKind(readErr, verrors.KindNotFound) {
			return readErr
		}

		changes := []gitsync.Change{
			{Path: path, Content: content},
			metadata.MetaChange(path, &metadata.FileMeta{
				Description: description,
				Revision:    initialRevision,
			}),
		}

		message := fmt.Sprintf("%s uploaded %s rev %s", user, path, initialRevision)
		_, commitErr := s.repo.WriteAndCommit(ctx, changes, message, s.authorFor(user))
		return commitErr
	})
	if err != nil {
		return err
	}

	s.record(activity.NewEvent(activity.EventCreate, user, path).WithRevision(initialRevision))
	s.wake()
	return nil
}

// Delete removes a file, its sidecars, and (with force) its links in one
// commit. Deleting a master with live links fails loudly unless force is
// set; the links are then cascaded in the same commit.
func (s *Service) Delete(ctx context.Context, path, admin string, force bool) (err error) {
	defer func() { s.metrics.observe("delete", err) }()

	err = s.locks.WithPath(path, func() error {
		if _, readErr := s.repo.ReadFile(ctx, path); readErr != nil {
			return readErr
		}

		links, linkErr := s.meta.LinksTo(ctx, path)
		if linkErr != nil {
			return linkErr
		}
		if len(links) > 0 && !force {
			return verrors.E("vault.delete", path, verrors.KindInvalid,
				fmt.Errorf("%d link(s) point at this file; delete them or force-cascade", len(links)))
		}

		changes := []gitsync.Change{
			{Path: path, Delete: true},
			metadata.RemoveMetaChange(path),
			metadata.RemoveLockChange(path),
		}
		for _, link := range links {
			changes = append(changes, metadata.RemoveLinkChange(link.AliasPath))
		}

		message := fmt.Sprintf("%s deleted %s", admin, path)
		_, commitErr := s.repo.WriteAndCommit(ctx, changes, message, s.authorFor(admin))
		return commitErr
	})
	if err != nil {
		return err
	}

	s.logger.Info("file deleted", "path", path, "admin", admin, "force", force)
	s.record(activity.NewEvent(activity.EventDelete, admin, path))
	s.wake()
	return nil
}

// =============================================================================
// Links
// =============================================================================

// CreateLink records a virtual alias for a master file. The alias path must
// not collide with existing content or another link; the collision checks
// and the commit run under the alias path's critical section.
func (s *Service) CreateLink(ctx context.Context, alias, master, admin string) (err error) {
	defer func() { s.metrics.observe("create_link", err) }()

	if _, err = s.repo.ReadFile(ctx, master); err != nil {
		return err
	}

	err = s.locks.WithPath(alias, func() error {
		if _, readErr := s.repo.ReadFile(ctx, alias); readErr == nil {
			return verrors.E("vault.link", alias, verrors.KindInvalid,
				fmt.Errorf("alias path collides with an existing file"))
		} else if !verrors.IsKind(readErr, verrors.KindNotFound) {
			return readErr
		}

		if _, linkErr := s.meta.Link(ctx, alias); linkErr == nil {
			return verrors.E("vault.link", alias, verrors.KindInvalid,
				fmt.Errorf("alias already exists"))
		} else if !verrors.IsKind(linkErr, verrors.KindNotFound) {
			return linkErr
		}

		rec := &metadata.LinkRecord{AliasPath: alias, MasterPath: master}
		message := fmt.Sprintf("%s linked %s -> %s", admin, alias, master)
		_, commitErr := s.repo.WriteAndCommit(ctx,
			[]gitsync.Change{metadata.LinkChange(rec)}, message, s.authorFor(admin))
		return commitErr
	})
	if err != nil {
		return err
	}

	s.record(activity.NewEvent(activity.EventCreate, admin, alias).WithNote("link to "+master))
	s.wake()
	return nil
}

// DeleteLink removes an alias. The master's content and lock are untouched.
func (s *Service) DeleteLink(ctx context.Context, alias, admin string) (err error) {
	defer func() { s.metrics.observe("delete_link", err) }()

	if _, err = s.meta.Link(ctx, alias); err != nil {
		return err
	}

	message := fmt.Sprintf("%s unlinked %s", admin, alias)
	if _, err = s.repo.WriteAndCommit(ctx,
		[]gitsync.Change{metadata.RemoveLinkChange(alias)}, message, s.authorFor(admin)); err != nil {
		return err
	}

	s.record(activity.NewEvent(activity.EventDelete, admin, alias).WithNote("link removed"))
	s.wake()
	return nil
}

// =============================================================================
// Admin
// =============================================================================

// ForceRelease drops another user's lock. Exactly one OVERRIDE event is
// logged when a lock was actually displaced; releasing an unlocked path is
// a silent no-op returning nil.
func (s *Service) ForceRelease(ctx context.Context, path, admin string) (displaced *metadata.LockRecord, err error) {
	defer func() { s.metrics.observe("force_release", err) }()

	master, err := s.meta.ResolveMaster(ctx, path)
	if err != nil {
		return nil, err
	}

	displaced, err = s.locks.ForceRelease(ctx, master, admin)
	if err != nil {
		return nil, err
	}

	if displaced != nil {
		s.record(activity.NewEvent(activity.EventOverride, admin, master).
			WithNote("displaced " + displaced.User))
		s.publish(notify.NewEvent(notify.EventLockChanged, nil))
		s.wake()
	}
	return displaced, nil
}

// RevertToCommit restores a file's bytes from history as a new forward
// commit with a minor revision bump. The file must not be checked out.
func (s *Service) RevertToCommit(ctx context.Context, path, commitID, admin string) (newRevision string, err error) {
	defer func() { s.metrics.observe("revert", err) }()

	content, err := s.repo.FileAt(ctx, commitID, path)
	if err != nil {
		return "", err
	}

	err = s.locks.WithPath(path, func() error {
		rec, lockErr := s.locks.Get(ctx, path)
		if lockErr != nil {
			return lockErr
		}
		if rec != nil {
			return verrors.E("vault.revert", path, verrors.KindAlreadyLocked,
				fmt.Errorf("checked out by %s; release the lock before reverting", rec.User))
		}

		current, description, metaErr := s.currentMeta(ctx, path)
		if metaErr != nil {
			return metaErr
		}
		newRevision = revision.Next(current, revision.Minor, revision.NoExplicitMajor)

		changes := []gitsync.Change{
			{Path: path, Content: content},
			metadata.MetaChange(path, &metadata.FileMeta{
				Description: description,
				Revision:    newRevision,
			}),
		}

		message := fmt.Sprintf("%s reverted %s to %.8s", admin, path, commitID)
		_, commitErr := s.repo.WriteAndCommit(ctx, changes, message, s.authorFor(admin))
		return commitErr
	})
	if err != nil {
		return "", err
	}

	s.record(activity.NewEvent(activity.EventRevert, admin, path).
		WithRevision(newRevision).WithNote("from " + commitID))
	s.wake()
	return newRevision, nil
}

// History returns a file's commit history for the revert picker.
func (s *Service) History(ctx context.Context, path string, limit int) ([]gitsync.Commit, error) {
	master, err := s.meta.ResolveMaster(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.repo.History(ctx, master, limit)
}

// UpdateDescription edits a file's description without touching its
// revision. Allowed for the lock holder or an admin.
func (s *Service) UpdateDescription(ctx context.Context, path, user string, isAdmin bool, description string) (err error) {
	defer func() { s.metrics.observe("update_description", err) }()

	master, err := s.meta.ResolveMaster(ctx, path)
	if err != nil {
		return err
	}

	rec, err := s.locks.Get(ctx, master)
	if err != nil {
		return err
	}
	if !isAdmin && (rec == nil || rec.User != user) {
		return verrors.E("vault.describe", master, verrors.KindNotHolder,
			fmt.Errorf("description is editable by the lock holder or an admin"))
	}

	meta, err := s.meta.Meta(ctx, master)
	if err != nil {
		return err
	}
	meta.Description = description

	message := fmt.Sprintf("%s updated description of %s", user, master)
	if err = s.meta.SaveMeta(ctx, master, meta, message, s.authorFor(user)); err != nil {
		return err
	}

	s.wake()
	return nil
}

// =============================================================================
// Messaging
// =============================================================================

// SendMessage stores a message and pushes a NewMessages event so a
// connected recipient hears about it immediately.
func (s *Service) SendMessage(ctx context.Context, sender, recipient, text string) (*messaging.Message, error) {
	if s.messages == nil {
		return nil, verrors.E("vault.message", "", verrors.KindInternal,
			fmt.Errorf("messaging is not configured"))
	}

	msg, err := s.messages.Send(ctx, sender, recipient, text)
	if err != nil {
		return nil, err
	}

	s.record(activity.NewEvent(activity.EventMessage, sender, "").
		WithNote(fmt.Sprintf("to %s: %s", recipient, text)))
	s.publish(notify.NewEvent(notify.EventNewMessages, []*messaging.Message{msg}))
	return msg, nil
}

// Messages returns the recipient's unacknowledged messages.
func (s *Service) Messages(ctx context.Context, recipient string) ([]*messaging.Message, error) {
	if s.messages == nil {
		return nil, nil
	}
	return s.messages.ForRecipient(ctx, recipient)
}

// AcknowledgeMessage marks a message read.
func (s *Service) AcknowledgeMessage(ctx context.Context, id, recipient string) error {
	if s.messages == nil {
		return verrors.E("vault.message", "", verrors.KindNotFound, nil)
	}
	return s.messages.Acknowledge(ctx, id, recipient)
}

// =============================================================================
// Activity
// =============================================================================

// Activity queries the audit log.
func (s *Service) Activity(ctx context.Context, filter activity.Filter) ([]*activity.Event, error) {
	if s.activity == nil {
		return nil, nil
	}
	return s.activity.Query(ctx, filter)
}

// Locks returns every active lock record.
func (s *Service) Locks(ctx context.Context) ([]*metadata.LockRecord, error) {
	return s.locks.List(ctx)
}

// =============================================================================
// notify.Source
// =============================================================================

// Fingerprint returns the remote tip hash, the notifier's change signal.
func (s *Service) Fingerprint(ctx context.Context) (string, error) {
	return s.repo.RemoteHead(ctx)
}

// Refresh pulls the working copy current and rebuilds the grouped listing
// for broadcast.
func (s *Service) Refresh(ctx context.Context) ([]notify.Event, error) {
	if err := s.repo.Pull(ctx); err != nil {
		return nil, err
	}

	groups, err := s.Listing(ctx)
	if err != nil {
		return nil, err
	}

	s.metrics.observeRefresh()
	return []notify.Event{notify.NewEvent(notify.EventFileListUpdated, groups)}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Service) authorFor(user string) gitsync.Author {
	return gitsync.Author{Name: user, Email: s.authorEmail}
}

// record appends an activity event; a nil log is skipped.
func (s *Service) record(event *activity.Event) {
	if s.activity != nil {
		s.activity.Append(event)
	}
}

// publish pushes an event to connected observers; a nil hub is skipped.
func (s *Service) publish(event notify.Event) {
	if s.hub != nil {
		s.hub.Publish(event)
	}
}

// wake asks the notifier for an immediate check.
func (s *Service) wake() {
	if s.kick != nil {
		s.kick()
	}
}
