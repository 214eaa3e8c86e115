package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adalundhe/vaultd/core/activity"
	verrors "github.com/adalundhe/vaultd/core/errors"
	"github.com/adalundhe/vaultd/core/revision"
	"github.com/adalundhe/vaultd/core/vault"
)

// =============================================================================
// Files
// =============================================================================

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	groups, err := s.vault.Listing(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, s.logger, verrors.E("http.history", "", verrors.KindInvalid,
			fmt.Errorf("path query parameter is required")))
		return
	}

	limit := queryInt(r, "limit", 20)
	commits, err := s.vault.History(r.Context(), path, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	err := s.vault.UpdateDescription(r.Context(), req.Path,
		UserFrom(r.Context()), IsAdminFrom(r.Context()), req.Description)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

// =============================================================================
// Checkout / check-in
// =============================================================================

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	rec, err := s.vault.Checkout(r.Context(), req.Path, UserFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":        rec.Path,
		"user":        rec.User,
		"acquired_at": rec.AcquiredAt,
	})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Content     []byte `json:"content"`
		Kind        string `json:"kind"`
		Major       *int   `json:"major"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	kind, ok := revision.ParseKind(req.Kind)
	if !ok {
		writeError(w, s.logger, verrors.E("http.checkin", req.Path, verrors.KindInvalid,
			fmt.Errorf("kind must be minor or major")))
		return
	}

	explicitMajor := revision.NoExplicitMajor
	if req.Major != nil {
		explicitMajor = *req.Major
	}

	rev, err := s.vault.CheckIn(r.Context(), vault.CheckInRequest{
		Path:          req.Path,
		User:          UserFrom(r.Context()),
		Content:       req.Content,
		Kind:          kind,
		ExplicitMajor: explicitMajor,
		Description:   req.Description,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "revision": rev})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vault.Cancel(r.Context(), req.Path, UserFrom(r.Context())); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Content     []byte `json:"content"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	err := s.vault.Upload(r.Context(), req.Path, UserFrom(r.Context()), req.Content, req.Description)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": req.Path, "revision": "1.0"})
}

// =============================================================================
// Locks / activity
// =============================================================================

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.vault.Locks(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	type lockView struct {
		Path       string `json:"path"`
		User       string `json:"user"`
		AcquiredAt any    `json:"acquired_at"`
	}
	views := make([]lockView, 0, len(locks))
	for _, rec := range locks {
		views = append(views, lockView{Path: rec.Path, User: rec.User, AcquiredAt: rec.AcquiredAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": views})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := activity.Filter{
		User:  q.Get("user"),
		Path:  q.Get("path"),
		Limit: queryInt(r, "limit", 100),
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, activity.EventType(t))
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, s.logger, verrors.E("http.activity", "", verrors.KindInvalid,
				fmt.Errorf("since must be an RFC 3339 timestamp: %w", err)))
			return
		}
		filter.Since = since
	}

	events, err := s.vault.Activity(r.Context(), filter)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleActivitySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, s.logger, verrors.E("http.search", "", verrors.KindInvalid,
			fmt.Errorf("q query parameter is required")))
		return
	}
	if s.searcher == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}

	events, err := s.searcher.Search(r.Context(), query, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// =============================================================================
// Messages
// =============================================================================

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.vault.Messages(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vault.AcknowledgeMessage(r.Context(), req.ID, UserFrom(r.Context())); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Text      string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	msg, err := s.vault.SendMessage(r.Context(), UserFrom(r.Context()), req.Recipient, req.Text)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// =============================================================================
// Admin
// =============================================================================

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	displaced, err := s.vault.ForceRelease(r.Context(), req.Path, UserFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp := map[string]any{"path": req.Path, "released": displaced != nil}
	if displaced != nil {
		resp["displaced"] = displaced.User
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string `json:"path"`
		Force bool   `json:"force"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vault.Delete(r.Context(), req.Path, UserFrom(r.Context()), req.Force); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   string `json:"path"`
		Commit string `json:"commit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	rev, err := s.vault.RevertToCommit(r.Context(), req.Path, req.Commit, UserFrom(r.Context()))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "revision": rev})
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Alias  string `json:"alias"`
		Master string `json:"master"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vault.CreateLink(r.Context(), req.Alias, req.Master, UserFrom(r.Context())); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"alias": req.Alias, "master": req.Master})
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Alias string `json:"alias"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vault.DeleteLink(r.Context(), req.Alias, UserFrom(r.Context())); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"alias": req.Alias})
}

// =============================================================================
// Helpers
// =============================================================================

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
