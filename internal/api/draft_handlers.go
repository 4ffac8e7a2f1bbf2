package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

type draftRequest struct {
	DraftID     string   `json:"draftId"`
	ToAddresses []string `json:"to"`
	CcAddresses []string `json:"cc"`
	Subject     string   `json:"subject"`
	TextBody    string   `json:"textBody"`
	HTMLBody    string   `json:"htmlBody"`
}

// saveDraft is the autosave endpoint. The first save returns a draft id;
// later saves carry it (in the path or the body) and update the same
// draft in place, so a retried or repeated save never forks a duplicate.
func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	draftID := chi.URLParam(r, "draftID")
	if draftID == "" {
		draftID = req.DraftID
	}

	fields := store.DraftFields{
		ToAddresses: req.ToAddresses,
		CcAddresses: req.CcAddresses,
		Subject:     req.Subject,
		TextBody:    req.TextBody,
		HTMLBody:    req.HTMLBody,
	}

	result, err := s.drafts.Save(r.Context(), account.ID, draftID, fields)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "draft not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to save draft")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if draftID == "" {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}
