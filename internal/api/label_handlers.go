package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

type labelRequest struct {
	Name      string `json:"name"`
	Color     string `json:"color"`
	Icon      string `json:"icon"`
	SortOrder int    `json:"sortOrder"`
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	labels, err := s.store.ListLabels(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to list labels")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, labels)
}

func (s *Server) createLabel(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	label := &store.Label{
		AccountID: account.ID,
		Name:      req.Name,
		Color:     req.Color,
		Icon:      req.Icon,
		SortOrder: req.SortOrder,
	}
	if err := s.store.CreateLabel(r.Context(), label); err != nil {
		log.Error().Err(err).Str("name", req.Name).Msg("failed to create label")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, label)
}

func (s *Server) updateLabel(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	labelID := chi.URLParam(r, "labelID")
	label, err := s.store.GetLabel(r.Context(), account.ID, labelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "label not found", http.StatusNotFound)
			return
		}
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name != "" {
		label.Name = req.Name
	}
	if req.Color != "" {
		label.Color = req.Color
	}
	if req.Icon != "" {
		label.Icon = req.Icon
	}
	label.SortOrder = req.SortOrder

	if err := s.store.UpdateLabel(r.Context(), label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "label not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("label_id", labelID).Msg("failed to update label")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, label)
}

func (s *Server) deleteLabel(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	labelID := chi.URLParam(r, "labelID")
	err := s.store.DeleteLabel(r.Context(), account.ID, labelID)
	if err != nil {
		if errors.Is(err, store.ErrSystemLabel) {
			http.Error(w, "system labels cannot be deleted", http.StatusForbidden)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "label not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("label_id", labelID).Msg("failed to delete label")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
