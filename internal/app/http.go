package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hubo/api/internal/authpw"
	"hubo/api/internal/metrics"
	"hubo/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return corsOrigin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == corsOrigin
			},
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "search":
		s.handleSearch(w, r, session)
	case "dashboard":
		s.handleDashboard(w, r, session)
	case "assistant":
		s.handleAssistant(w, r, session, parts[2:])
	case "projects":
		s.handleProjects(w, r, session, parts[2:])
	case "ideas":
		s.handleIdeas(w, r, session, parts[2:])
	case "users":
		s.handleUsers(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// allow writes 403 and returns false when the session's role lacks action.
func (s *HTTPServer) allow(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

// requireSession authenticates the request. Browsers cannot set headers on
// a websocket handshake, so the watch endpoint also accepts ?token=.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" && websocket.IsWebSocketUpgrade(r) {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
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

		metrics.ObserveHTTP(r.Method, writer.status)
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

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
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

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: unhandled error: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Without SMTP the token is handed back so local setups can verify.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := s.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, err := s.service.AuthPasswordService().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		log.Printf("app: password reset request failed: %v", err)
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if !s.service.SMTPConfigured() && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.AuthPasswordService().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
