package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const (
	accountKey ctxKey = iota
	scheduleKey
	lessonKey
)

const DefaultTokenExpiry = 30 * time.Minute

// sessions are in memory; there is one local user
const SessionCookieName = "xjtutoolbox_session"

type tokenStore struct {
	mu       sync.Mutex
	expiry   time.Duration
	sessions map[string]time.Time
	now      func() time.Time
}

func newTokenStore(expiry time.Duration) *tokenStore {
	return &tokenStore{expiry: expiry, sessions: map[string]time.Time{}, now: time.Now}
}

// valid reports whether the session is live and slides its expiry.
func (t *tokenStore) valid(session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for s, exp := range t.sessions {
		if now.After(exp) {
			delete(t.sessions, s)
		}
	}
	if _, ok := t.sessions[session]; !ok {
		return false
	}
	t.sessions[session] = now.Add(t.expiry)
	return true
}

func (t *tokenStore) issue() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	session := uuid.NewString()
	t.sessions[session] = t.now().Add(t.expiry)
	return session
}

// HashToken is what server.token_hash stores.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(hash), err
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Session string    `json:"session"`
	Expires time.Time `json:"expires"`
}

// login trades the configured token for a session, sent back both as a
// cookie for the websocket streams and in the body for bearer use.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	hash := s.app.Config.Server.TokenHash
	if hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Token)); err != nil {
			s.logger.Warn("rejected api login")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
	}
	session := s.tokens.issue()
	expires := s.tokens.now().Add(s.tokens.expiry)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Session: session, Expires: expires})
}

func sessionOf(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// ensureLoggedIn lets every request in when no token hash is configured.
func (s *Server) ensureLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.app.Config.Server.TokenHash != "" && !s.tokens.valid(sessionOf(r)) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
