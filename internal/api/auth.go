package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/tracker/internal/config"
)

// AuthMiddleware resolves the current user and guards control actions.
// Tokens, the user header and the enable flags are read from cfgMgr on every
// request, so a reload applies to the next request. The audit log is opened
// once.
type AuthMiddleware struct {
	cfgMgr config.ConfigManager
	logger *slog.Logger

	auditMu   sync.Mutex
	auditFile *os.File
}

// NewAuthMiddleware creates a new auth middleware. api.user_header names a
// trusted identity header set by a fronting proxy; empty disables it.
func NewAuthMiddleware(cfgMgr config.ConfigManager, logger *slog.Logger) (*AuthMiddleware, error) {
	am := &AuthMiddleware{
		cfgMgr: cfgMgr,
		logger: logger,
	}

	// Open audit log if configured
	if cfg := cfgMgr.Get().API.Security; cfg.AuditLog != "" {
		auditPath := config.ExpandHome(cfg.AuditLog)
		f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log %q: %w", auditPath, err)
		}
		am.auditFile = f
	}

	return am, nil
}

// Close closes the audit log file
func (am *AuthMiddleware) Close() error {
	if am.auditFile != nil {
		return am.auditFile.Close()
	}
	return nil
}

// AuditEvent represents an audit log entry
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr"`
	Method     string    `json:"method"`
	Action     string    `json:"action"`
	User       string    `json:"user,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Authorized bool      `json:"authorized"`
	Token      string    `json:"token,omitempty"` // Truncated for security
	Error      string    `json:"error,omitempty"`
	Duration   string    `json:"duration"`
}

// logAuditEvent writes an audit event to the log file
func (am *AuthMiddleware) logAuditEvent(event AuditEvent) {
	if am.auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		am.logger.Error("failed to marshal audit event", "error", err)
		return
	}

	am.auditMu.Lock()
	defer am.auditMu.Unlock()
	if _, err := am.auditFile.Write(append(data, '\n')); err != nil {
		am.logger.Error("failed to write audit event", "error", err)
	}
}

// truncateToken keeps the first 4 chars of a token for audit logging
func truncateToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "****"
}

// isLocalRequest checks if the request comes from a loopback or private address
func isLocalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// extractToken gets the bearer token from Authorization header
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// tokenUser returns the user a token belongs to, or "" for unknown tokens.
func (am *AuthMiddleware) tokenUser(token string) string {
	if token == "" {
		return ""
	}
	return am.cfgMgr.Get().API.Security.Tokens[token]
}

// CurrentUser identifies the caller: a valid bearer token wins, then the
// trusted user header. Anonymous callers yield "".
func (am *AuthMiddleware) CurrentUser(r *http.Request) string {
	if user := am.tokenUser(extractToken(r)); user != "" {
		return user
	}
	if header := am.cfgMgr.Get().API.UserHeader; header != "" {
		return strings.TrimSpace(r.Header.Get(header))
	}
	return ""
}

// isControlAction reports actions that rewrite many issues at once.
func isControlAction(method, action string) bool {
	switch action {
	case "import", "import-one":
		return method == http.MethodPost
	case "fixpriority":
		return true
	}
	return false
}

// RequireAuth creates middleware that enforces authentication for control actions
func (am *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		action := actionName(r)

		if !isControlAction(r.Method, action) {
			next(w, r)
			return
		}

		event := AuditEvent{
			Timestamp:  start,
			RemoteAddr: r.RemoteAddr,
			Method:     r.Method,
			Action:     action,
			UserAgent:  r.Header.Get("User-Agent"),
		}

		defer func() {
			event.Duration = time.Since(start).String()
			am.logAuditEvent(event)
		}()

		security := am.cfgMgr.Get().API.Security
		if security.RequireLocalOnly && !isLocalRequest(r.RemoteAddr) {
			event.Error = "non-local request rejected (require_local_only=true)"
			writeError(w, http.StatusForbidden, "Access denied: non-local requests not allowed")
			return
		}

		if !security.Enabled {
			event.Authorized = true
			event.User = am.CurrentUser(r)
			next(w, r)
			return
		}

		token := extractToken(r)
		event.Token = truncateToken(token)

		user := am.tokenUser(token)
		if user == "" {
			event.Error = "invalid or missing token"
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Unauthorized: valid token required")
			return
		}

		event.Authorized = true
		event.User = user
		next(w, r)
	}
}
