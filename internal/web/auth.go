package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/meko-christian/imap2smtp/internal/config"
)

const realm = "imap2smtp"

// AuthManager checks HTTP basic auth credentials against the configured
// username and bcrypt hash. A nil *AuthManager lets every request through.
type AuthManager struct {
	username string
	hash     []byte
}

// NewAuthManager returns nil when no credentials are configured.
func NewAuthManager(cfg config.Web) *AuthManager {
	if cfg.Username == "" {
		return nil
	}
	return &AuthManager{
		username: cfg.Username,
		hash:     []byte(cfg.PasswordHash),
	}
}

// ValidateCredentials reports whether username and password match the
// configured pair.
func (a *AuthManager) ValidateCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	err := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	return userOK && err == nil
}

// RequireAuth wraps next with HTTP basic auth. Rejected requests get 401
// and a WWW-Authenticate challenge.
func (a *AuthManager) RequireAuth(next http.Handler) http.Handler {
	if a == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !a.ValidateCredentials(username, password) {
			slog.Debug("Rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
