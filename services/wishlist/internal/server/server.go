package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediawish/internal/metrics"
	"mediawish/internal/ratelimit"
	"mediawish/internal/util"
	"mediawish/pkg/domain"
	"mediawish/pkg/session"
	"mediawish/services/wishlist/internal/app"
	"mediawish/services/wishlist/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Sessions                 *session.Manager
	Redis                    *redis.Client
	Alerter                  *security.Alerter
	TrustedProxies           *util.TrustedProxies
	AllowedOrigins           []string
	SearchRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	Production               bool
	StaticDir                string
}

// Server exposes the wishlist HTTP API and the frontend bundle.
type Server struct {
	app            *app.App
	sessions       *session.Manager
	alerter        *security.Alerter
	proxies        *util.TrustedProxies
	allowedOrigins []string
	production     bool
	staticDir      string
	mux            *http.ServeMux
	loginLimiter   *ratelimit.FixedWindowLimiter
	searchLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil || cfg.Sessions == nil {
		return nil, errors.New("server requires app and session manager")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	searchLimit := cfg.SearchRateLimitPerMinute
	if searchLimit <= 0 {
		searchLimit = 30
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "mediawish:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	searchLimiter, err := newLimiter("search", searchLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		alerter:        cfg.Alerter,
		proxies:        cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		production:     cfg.Production,
		staticDir:      strings.TrimSpace(cfg.StaticDir),
		mux:            http.NewServeMux(),
		loginLimiter:   loginLimiter,
		searchLimiter:  searchLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = metrics.Middleware(h)
	h = util.WithRequestLog(h)
	h = util.WithRecovery(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// auth
	s.mux.HandleFunc("/api/users/login", s.handleUserLogin)
	s.mux.HandleFunc("/api/admin/login", s.handleAdminLogin)

	// users
	s.mux.Handle("/api/wishes", s.userOnly(s.handleCreateWish))
	s.mux.Handle("/api/wishes/me", s.userOnly(s.handleMyWishes))
	s.mux.HandleFunc("/api/search-tmdb", s.handleSearch)

	// admin
	s.mux.Handle("/api/admin/wishes", s.adminOnly(s.handleAdminWishes))
	s.mux.Handle("/api/admin/wishes/", s.adminOnly(s.handleAdminWishByID))
	s.mux.Handle("/api/admin/admins", s.adminOnly(s.handleCreateAdmin))
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleCreateUser))
	s.mux.Handle("/api/admin/stats", s.adminOnly(s.handleStats))

	s.mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	s.mux.HandleFunc("/", s.handleFrontend)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type principalHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) userOnly(next principalHandler) http.Handler {
	return s.requireRole(domain.RoleUser, security.EventAuthorize, next)
}

func (s *Server) adminOnly(next principalHandler) http.Handler {
	return s.requireRole(domain.RoleAdmin, security.EventAdminAuthorize, next)
}

// requireRole shares signature verification between both guards; only the
// expected role differs.
func (s *Server) requireRole(role domain.Role, event string, next principalHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessions.Verify(bearerToken(r), role)
		if err != nil {
			s.audit(r, event, "fail", "reason", authFailureReason(err))
			s.writeAppError(w, r, err)
			return
		}
		principal := domain.Principal{
			ID:       claims.PrincipalID,
			Username: claims.Username,
			Class:    classForRole(claims.Role),
		}
		next(w, r, principal)
	})
}

// auth handlers
func (s *Server) handleUserLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, domain.ClassUser, security.EventUserLogin)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, domain.ClassAdmin, security.EventAdminLogin)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, class domain.PrincipalClass, event string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "login", "too many login attempts") {
		s.audit(r, event, "rate_limited")
		return
	}
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		s.audit(r, event, "fail", "reason", "invalid_json")
		return
	}
	principal, token, err := s.app.Login(r.Context(), class, req.Username, req.Password)
	if err != nil {
		s.audit(r, event, "fail", "reason", loginFailureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, event, "success", "principal_id", principal.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: principal.Username})
}

// wish handlers
func (s *Server) handleCreateWish(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.SubmitInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	view, err := s.app.Submit(r.Context(), user, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleMyWishes(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	wishes, err := s.app.ListMine(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wishes)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.searchLimiter, "search", "too many search requests") {
		s.audit(r, "wishlist.search", "rate_limited")
		return
	}
	results, err := s.app.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// admin handlers
func (s *Server) handleAdminWishes(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	wishes, err := s.app.ListAll(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wishes)
}

func (s *Server) handleAdminWishByID(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	rawID := strings.TrimPrefix(r.URL.Path, "/api/admin/wishes/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if rawID == "" || strings.Contains(rawID, "/") || err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.MarkDone(r.Context(), id, req.Status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("wish marked done", "wish_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, statusResponse{Message: "wish updated", UpdatedWish: updated})
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	s.createAccount(w, r, admin, "wishlist.admin.create_admin", s.app.CreateAdmin)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, admin domain.Principal) {
	s.createAccount(w, r, admin, "wishlist.admin.create_user", s.app.CreateUser)
}

type createFunc func(ctx context.Context, username, password string) (domain.Principal, error)

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request, admin domain.Principal, event string, create createFunc) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	created, err := create(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, event, "fail", "actor_id", admin.ID, "reason", accountFailureReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, event, "success", "actor_id", admin.ID, "principal_id", created.ID)
	writeJSON(w, http.StatusCreated, accountResponse{ID: created.ID, Username: created.Username})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type accountResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Message     string          `json:"message"`
	UpdatedWish domain.WishView `json:"updatedWish"`
}

// decodeJSON reads at most maxBodyBytes and writes the 400/413 itself.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func classForRole(role domain.Role) domain.PrincipalClass {
	if role == domain.RoleAdmin {
		return domain.ClassAdmin
	}
	return domain.ClassUser
}

func (s *Server) clientIP(r *http.Request) string {
	return s.proxies.ClientIP(r)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, name, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	metrics.RateLimited.WithLabelValues(name).Inc()
	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, msg)
	return false
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, session.ErrTokenMissing):
		return "missing_token"
	case errors.Is(err, session.ErrRoleMismatch):
		return "role_mismatch"
	default:
		return "invalid_token"
	}
}

func loginFailureReason(err error) string {
	if errors.Is(err, app.ErrInvalidCredentials) {
		return "invalid_credentials"
	}
	return "internal_error"
}

func accountFailureReason(err error) string {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		return "validation_failed"
	case errors.Is(err, app.ErrUsernameTaken):
		return "duplicate_username"
	default:
		return "internal_error"
	}
}
