package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Session cookie name
const sessionCookieName = "session"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var user struct {
		ID           int64
		Username     string
		Email        string
		Role         string
		PasswordHash string
	}

	err := s.db.QueryRow(`
		SELECT id, username, email, role, password_hash
		FROM users WHERE username = ?
	`, req.Username).Scan(
		&user.ID, &user.Username, &user.Email, &user.Role, &user.PasswordHash,
	)

	if err != nil {
		log.Debug().Err(err).Str("username", req.Username).Msg("login failed: user not found")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		log.Debug().Str("username", req.Username).Msg("login failed: invalid password")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Generate session token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		log.Error().Err(err).Msg("failed to generate session token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	token := hex.EncodeToString(tokenBytes)

	// Hash token for storage
	hash := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(hash[:])

	expiresAt := time.Now().Add(time.Duration(s.cfg.SessionTimeoutHours) * time.Hour)

	// One session per user
	_, _ = s.db.Exec("DELETE FROM sessions WHERE user_id = ?", user.ID)

	_, err = s.db.Exec(`
		INSERT INTO sessions (token_hash, user_id, expires_at, ip_address)
		VALUES (?, ?, ?, ?)
	`, tokenHash, user.ID, expiresAt, r.RemoteAddr)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	_, _ = s.db.Exec("UPDATE users SET last_login = datetime('now') WHERE id = ?", user.ID)

	// Set httpOnly cookie for browser clients; the token in the body serves
	// API clients using Authorization: Bearer.
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   os.Getenv("ENV") == "production",
		SameSite: http.SameSiteStrictMode,
	})

	log.Info().Str("username", user.Username).Msg("user logged in")

	respondJSON(w, http.StatusOK, loginResponse{
		User: userResponse{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
		Token: token,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		token = cookie.Value
	} else if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if token != "" {
		hash := sha256.Sum256([]byte(token))
		tokenHash := hex.EncodeToString(hash[:])
		_, _ = s.db.Exec("DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	}

	// Clear the cookie
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
}
