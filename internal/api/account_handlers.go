package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

type accountRequest struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Security     string `json:"security"`
	Enabled      *bool  `json:"enabled"`
}

func (req *accountRequest) validate() string {
	if req.Name == "" || req.Host == "" || req.Username == "" {
		return "name, host and username are required"
	}
	switch req.Security {
	case "", "tls", "starttls", "none":
	default:
		return "security must be tls, starttls or none"
	}
	if req.Port < 0 || req.Port > 65535 {
		return "invalid port"
	}
	return ""
}

// ownedAccount resolves {accountID} and checks the requester owns it.
func (s *Server) ownedAccount(w http.ResponseWriter, r *http.Request) *store.Account {
	user := GetUser(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return nil
	}

	account, err := s.store.GetAccount(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return nil
		}
		log.Error().Err(err).Int64("account_id", id).Msg("failed to load account")
		http.Error(w, "database error", http.StatusInternalServerError)
		return nil
	}
	return account
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	accounts, err := s.store.ListAccounts(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}

	sealed, err := s.creds.Seal(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("failed to encrypt credential")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	account := &store.Account{
		UserID:       user.ID,
		Name:         req.Name,
		EmailAddress: req.EmailAddress,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		PasswordEnc:  sealed,
		Security:     req.Security,
		Enabled:      true,
	}
	if account.Port == 0 {
		account.Port = 993
	}
	if account.Security == "" {
		account.Security = "tls"
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		log.Error().Err(err).Msg("failed to create account")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	// New accounts start with the built-in label set
	if err := s.store.SeedSystemLabels(r.Context(), account.ID); err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to seed system labels")
	}

	log.Info().Int64("account_id", account.ID).Str("host", account.Host).Msg("account created")
	respondJSON(w, http.StatusCreated, account)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	account.Name = req.Name
	account.EmailAddress = req.EmailAddress
	account.Host = req.Host
	account.Username = req.Username
	if req.Port != 0 {
		account.Port = req.Port
	}
	if req.Security != "" {
		account.Security = req.Security
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}

	// An empty password keeps the stored credential
	account.PasswordEnc = ""
	if req.Password != "" {
		sealed, err := s.creds.Seal(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("failed to encrypt credential")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		account.PasswordEnc = sealed
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to update account")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	updated, err := s.store.GetAccount(r.Context(), account.UserID, account.ID)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type syncRequest struct {
	Folder string `json:"folder"`
	Limit  int    `json:"limit"`
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	// Body is optional; default is a full inbox pull
	req := syncRequest{Folder: string(store.FolderInbox)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	folder := store.Folder(req.Folder)
	if folder == "" {
		folder = store.FolderInbox
	}
	if !store.ValidFolder(folder) {
		http.Error(w, "invalid folder", http.StatusBadRequest)
		return
	}

	result, err := s.engine.Run(r.Context(), account.ID, folder, req.Limit)
	if result.Busy {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("sync failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	respondJSON(w, http.StatusAccepted, result)
}

func (s *Server) listSyncErrors(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	errs, err := s.store.ListSyncErrors(r.Context(), account.ID, limit)
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to list sync errors")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, errs)
}

func (s *Server) listRemoteFolders(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	folders, err := s.engine.ListRemoteFolders(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to list remote folders")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"folders": folders})
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	account := s.ownedAccount(w, r)
	if account == nil {
		return
	}

	summaries, err := s.store.FolderSummaries(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Int64("account_id", account.ID).Msg("failed to summarize folders")
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}
