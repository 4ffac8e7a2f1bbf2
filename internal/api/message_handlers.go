package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/state"
	"github.com/mgmtsuite/mailsync/internal/store"
)

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	q := r.URL.Query()
	filter := store.MessageFilter{
		Folder:     store.Folder(q.Get("folder")),
		LabelID:    q.Get("label"),
		Query:      q.Get("q"),
		UnreadOnly: q.Get("unread") == "true" || q.Get("unread") == "1",
	}
	if filter.Folder != "" && !store.ValidFolder(filter.Folder) {
		http.Error(w, "invalid folder", http.StatusBadRequest)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	messages, err := s.store.ListMessages(r.Context(), account.ID, filter)
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to list messages")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	msg, err := s.store.GetMessage(r.Context(), account.ID, chi.URLParam(r, "messageID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("failed to load message")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// purgeMessage permanently deletes a message and tombstones its remote id
// so the next sync does not re-import it. Moving to trash is an action,
// not a delete.
func (s *Server) purgeMessage(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	messageID := chi.URLParam(r, "messageID")

	// Detach stored attachment payloads before the rows go away
	msg, err := s.store.GetMessage(r.Context(), account.ID, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	if err := s.store.PurgeMessage(r.Context(), account.ID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to purge message")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	for _, att := range msg.Attachments {
		if err := s.attachments.Delete(att.StorageHandle); err != nil {
			log.Warn().Err(err).Str("handle", att.StorageHandle).Msg("failed to remove attachment payload")
		}
	}

	log.Info().Str("message_id", messageID).Int64("account_id", account.ID).Msg("message purged")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	msg, err := s.store.GetMessage(r.Context(), account.ID, chi.URLParam(r, "messageID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	attachmentID := chi.URLParam(r, "attachmentID")
	for _, att := range msg.Attachments {
		if att.ID != attachmentID {
			continue
		}
		content, err := s.attachments.Get(att.StorageHandle)
		if err != nil {
			log.Error().Err(err).Str("handle", att.StorageHandle).Msg("failed to read attachment payload")
			http.Error(w, "attachment unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", att.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
		w.Write(content)
		return
	}

	http.Error(w, "attachment not found", http.StatusNotFound)
}

type actionRequest struct {
	state.Action
	IDs []string `json:"ids"`
}

// applyAction applies one bulk state transition. Per-id ownership failures
// are reported in the result; an unknown label fails the whole call.
func (s *Server) applyAction(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)
		return
	}

	result, err := s.machine.Apply(r.Context(), account.ID, req.Action, req.IDs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "label not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, state.ErrInvalidAction) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Int64("account_id", account.ID).Msg("action failed")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type linkRequest struct {
	EntityKind  string `json:"entityKind"`
	EntityID    string `json:"entityId"`
	Description string `json:"description"`
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	linksList, err := s.store.ListLinks(r.Context(), account.ID, chi.URLParam(r, "messageID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, linksList)
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := s.links.Validate(r.Context(), req.EntityKind, req.EntityID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	link := &store.Link{
		MessageID:   chi.URLParam(r, "messageID"),
		EntityKind:  req.EntityKind,
		EntityID:    req.EntityID,
		Description: req.Description,
	}
	if err := s.store.CreateLink(r.Context(), account.ID, link); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("failed to create link")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, link)
}

func (s *Server) getLinkKinds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"kinds": s.links.Kinds()})
}
