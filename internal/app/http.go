package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/logging"
)

// maxAvatarBody bounds the multipart request of an avatar upload.
const maxAvatarBody = 3 << 20

type rateLimiter interface {
	Allow(key string) bool
}

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	realtime    http.Handler
	authLimiter rateLimiter
	router      chi.Router
}

type ServerOption func(*HTTPServer)

// WithRealtime mounts the WebSocket handler at /ws.
func WithRealtime(h http.Handler) ServerOption {
	return func(s *HTTPServer) { s.realtime = h }
}

// WithAuthLimiter throttles the credential endpoints per client address.
func WithAuthLimiter(l rateLimiter) ServerOption {
	return func(s *HTTPServer) { s.authLimiter = l }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	if s.realtime != nil {
		r.Handle("/ws", s.realtime)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Head("/ready", s.handleReady)

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limitAuth)
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/forgot-password", s.handleForgotPassword)
				r.Post("/reset-password", s.handleResetPassword)
				r.Post("/verify-email", s.handleVerifyEmail)
			})
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/", s.handleListUsers)
				r.Get("/me", s.handleMe)
				r.Put("/me", s.handleUpdateProfile)
				r.Put("/me/password", s.handleChangePassword)
				r.Post("/me/avatar", s.handleUploadAvatar)
				r.Post("/me/resend-verification", s.handleResendVerification)
				r.Get("/available/{boardID}", s.handleAvailableUsers)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/boards", func(r chi.Router) {
				r.Post("/", s.handleCreateBoard)
				r.Get("/", s.handleListBoards)
				r.Route("/{boardID}", func(r chi.Router) {
					r.Get("/", s.handleGetBoard)
					r.Put("/", s.handleUpdateBoard)
					r.Delete("/", s.handleDeleteBoard)
					r.Post("/members", s.handleAddMember)
					r.Delete("/members/{userID}", s.handleRemoveMember)
					r.Post("/leave", s.handleLeaveBoard)
					r.Get("/activities", s.handleListActivities)
					r.Post("/invites", s.handleCreateInvite)
					r.Get("/columns", s.handleListColumns)
					r.Get("/cards", s.handleBoardCards)
					r.Get("/export", s.handleExportBoard)
				})
			})

			r.Post("/invites/accept", s.handleAcceptInvite)

			r.Route("/columns", func(r chi.Router) {
				r.Post("/", s.handleCreateColumn)
				r.Patch("/reorder", s.handleReorderColumns)
				r.Put("/{columnID}", s.handleUpdateColumn)
				r.Delete("/{columnID}", s.handleDeleteColumn)
			})

			r.Route("/cards", func(r chi.Router) {
				r.Post("/", s.handleCreateCard)
				r.Patch("/reorder", s.handleReorderCards)
				r.Get("/column/{columnID}", s.handleListCardsByColumn)
				r.Route("/{cardID}", func(r chi.Router) {
					r.Get("/", s.handleGetCard)
					r.Put("/", s.handleUpdateCard)
					r.Delete("/", s.handleDeleteCard)
					r.Patch("/move", s.handleMoveCard)
					r.Post("/members", s.handleAddCardMember)
					r.Delete("/members/{userID}", s.handleRemoveCardMember)
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Patch("/read-all", s.handleMarkAllRead)
				r.Patch("/{notificationID}/read", s.handleMarkRead)
				r.Delete("/{notificationID}", s.handleDeleteNotification)
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/board-stats", s.handleBoardStats)
				r.Get("/activity-stats", s.handleActivityStats)
				r.Get("/cards-with-deadlines", s.handleCardsWithDeadlines)
			})

			r.Get("/search", s.handleSearch)
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Middleware

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		entry := logging.FromContext(ctx).WithField("user_id", session.UserID)
		next.ServeHTTP(w, r.WithContext(logging.WithEntry(ctx, entry)))
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return Session{}, false
	}
	return session, true
}

// Authenticate resolves the user of a WebSocket handshake from the bearer
// header or the token query parameter.
func (s *HTTPServer) Authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errUnauthenticated
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (s *HTTPServer) limitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authLimiter != nil && !s.authLimiter.Allow(clientIP(r)) {
			logging.FromContext(r.Context()).WithField("path", r.URL.Path).Warn("auth rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		entry := log.WithField("request_id", requestID)
		r = r.WithContext(logging.WithEntry(r.Context(), entry))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		entry.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// Helpers

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err, !s.service.cfg.IsProduction())
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// bind decodes the body and writes the 400 itself on failure.
func bind(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
