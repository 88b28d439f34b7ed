package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/authpw"
	"taskhive/api/internal/board"
	"taskhive/api/internal/live"
	"taskhive/api/internal/session"
)

type HTTPServer struct {
	service    *Service
	hub        *live.Hub
	corsOrigin string
}

func NewHTTPServer(service *Service, hub *live.Hub, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Account creation and login are pre-authentication operations: they
	// bypass claims verification by design.
	if r.URL.Path == "/api/user" {
		s.handleUsers(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(sess))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/taskboard" {
		items, err := s.service.ListTaskboards(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list taskboards", nil)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	parts := splitPath(r.URL.Path)

	// Everything below requires verified claims, obtained exactly once and
	// before any entity load.
	claims, ok := s.requireClaims(w, r)
	if !ok {
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "stream" {
		s.handleStream(w, r, claims, parts[2], parts[3])
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/taskboard" {
		var body CreateTaskboardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		taskboard, err := s.service.CreateTaskboard(r.Context(), claims, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, taskboard)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "taskboard" {
		s.handleTaskboard(w, r, claims, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown endpoint", nil)
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list users", nil)
			return
		}
		writeJSON(w, http.StatusOK, users)
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.Register(r.Context(), body.Username, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, user)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Login failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"username":     sess.Username,
		"role":         sess.Role,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

// handleTaskboard dispatches every nested path under a taskboard id. Loads
// and checks inside the service run outermost-to-innermost, so the first
// violated invariant on the path determines the error.
func (s *HTTPServer) handleTaskboard(w http.ResponseWriter, r *http.Request, claims auth.Claims, taskboardID string, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			view, err := s.service.GetTaskboard(r.Context(), claims, taskboardID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, view)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "user":
		if len(rest) == 2 {
			s.handleMembership(w, r, claims, taskboardID, rest[1])
			return
		}
	case "chat":
		if len(rest) == 1 && r.Method == http.MethodPost {
			var body struct {
				Message string `json:"message"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			envelope, err := s.service.PostChatMessage(r.Context(), claims, taskboardID, body.Message)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, envelope)
			return
		}
	case "task":
		s.handleTask(w, r, claims, taskboardID, rest[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown endpoint", nil)
}

func (s *HTTPServer) handleMembership(w http.ResponseWriter, r *http.Request, claims auth.Claims, taskboardID, userID string) {
	var taskboard any
	var err error
	switch r.Method {
	case http.MethodPost:
		taskboard, err = s.service.AddTaskboardMember(r.Context(), claims, taskboardID, userID)
	case http.MethodDelete:
		taskboard, err = s.service.RemoveTaskboardMember(r.Context(), claims, taskboardID, userID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, taskboard)
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, claims auth.Claims, taskboardID string, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodPost {
			var body CreateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			taskboard, err := s.service.CreateTask(r.Context(), claims, taskboardID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, taskboard)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	taskID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetTask(r.Context(), claims, taskboardID, taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodPut:
			var body UpdateTaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.UpdateTask(r.Context(), claims, taskboardID, taskID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, task)
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), claims, taskboardID, taskID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[1] == "comment" {
		s.handleComment(w, r, claims, taskboardID, taskID, rest[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown endpoint", nil)
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, claims auth.Claims, taskboardID, taskID string, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodPost {
			var body CreateCommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateComment(r.Context(), claims, taskboardID, taskID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, task)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	commentID := rest[0]
	if len(rest) == 1 {
		if r.Method == http.MethodDelete {
			if err := s.service.DeleteComment(r.Context(), claims, taskboardID, taskID, commentID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 2 && r.Method == http.MethodPost && (rest[1] == "resolve" || rest[1] == "unresolve") {
		var comment any
		var err error
		if rest[1] == "resolve" {
			comment, err = s.service.ResolveComment(r.Context(), claims, taskboardID, taskID, commentID)
		} else {
			comment, err = s.service.UnresolveComment(r.Context(), claims, taskboardID, taskID, commentID)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, comment)
		return
	}

	if rest[1] == "reply" {
		if len(rest) == 2 && r.Method == http.MethodPost {
			var body struct {
				Text string `json:"text"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.CreateReply(r.Context(), claims, taskboardID, taskID, commentID, body.Text)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, comment)
			return
		}
		if len(rest) == 3 && r.Method == http.MethodDelete {
			if err := s.service.DeleteReply(r.Context(), claims, taskboardID, taskID, commentID, rest[2]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown endpoint", nil)
}

// handleStream serves the live-update channel over server-sent events.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, claims auth.Claims, kind, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Live updates not configured", nil)
		return
	}

	var channel string
	switch kind {
	case "board":
		channel = live.BoardChannel(id)
	case "chat":
		channel = live.ChatChannel(id)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown stream", nil)
		return
	}
	if err := s.service.CanSubscribe(r.Context(), claims, id); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.hub.Subscribe(r.Context(), channel, claims.Subject)
	for envelope := range events {
		data, err := json.Marshal(envelope)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *HTTPServer) requireClaims(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
		return auth.Claims{}, false
	}
	claims, err := s.service.VerifyClaims(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
		return auth.Claims{}, false
	}
	return claims, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mapError translates each error kind to its stable status class. Storage
// failures stay generic; storage internals never reach the response.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, board.ErrTaskboardNotFound):
		return http.StatusNotFound, "TASKBOARD_NOT_FOUND", "Taskboard not found", nil
	case errors.Is(err, board.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil
	case errors.Is(err, board.ErrCommentNotFound):
		return http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil
	case errors.Is(err, board.ErrReplyNotFound):
		return http.StatusNotFound, "REPLY_NOT_FOUND", "Reply not found in comment", nil
	case errors.Is(err, board.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil
	case errors.Is(err, board.ErrUserNotInTaskboard):
		return http.StatusForbidden, "USER_NOT_IN_TASKBOARD", "User not found in taskboard", nil
	case errors.Is(err, board.ErrRoleDenied):
		return http.StatusForbidden, "ROLE_DENIED", "Your role does not allow you to perform this operation", nil
	case errors.Is(err, board.ErrIDsNotMatching):
		return http.StatusBadRequest, "IDS_NOT_MATCHING", "Taskboard ids do not match in task and taskboard", nil
	case errors.Is(err, board.ErrMalformedID):
		return http.StatusBadRequest, "MALFORMED_ID", "Malformatted id", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
