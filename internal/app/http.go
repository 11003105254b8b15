package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsboard/api/internal/auth"
	"opsboard/api/internal/authpw"
	"opsboard/api/internal/export"
	"opsboard/api/internal/files"
	"opsboard/api/internal/rbac"
	"opsboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response
func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
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
		// Session probe for the SPA boot path: never a 401, just authenticated=false.
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
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
			"isExternal":    session.IsExternal,
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		s.handleSessionRefresh(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		s.handleSessionLogout(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/account/delete" {
		s.handleAccountDelete(w, r)
		return
	}

	// SSE endpoint handles its own auth: EventSource cannot set headers,
	// so the token may arrive as a query parameter.
	if r.Method == http.MethodGet && r.URL.Path == "/api/events" {
		s.handleEvents(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		payload, err := s.service.Dashboard(r.Context(), session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if isGuest(session) {
			s.forbid(w)
			return
		}
		query := r.URL.Query()
		payload, err := s.service.Search(r.Context(), query.Get("q"), query.Get("type"),
			parseIntDefault(query.Get("limit"), 0), parseIntDefault(query.Get("offset"), 0))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/profile" && (r.Method == http.MethodGet || r.Method == http.MethodPut) {
		s.handleProfile(w, r)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/profile/pin" {
		s.handleSetPIN(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/profile/pin/verify" {
		s.handleVerifyPIN(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/profiles" {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		payload, err := s.service.ListProfiles(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": payload})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "clients":
		s.handleClients(w, r, parts, session)
	case "credentials":
		s.handleCredentials(w, r, parts, session)
	case "projects":
		s.handleProjects(w, r, parts, session)
	case "phases":
		s.handlePhases(w, r, parts, session)
	case "tasks":
		s.handleTasks(w, r, parts, session)
	case "channels":
		s.handleChannels(w, r, parts, session)
	case "messages":
		s.handleMessages(w, r, parts, session)
	case "attachments":
		s.handleAttachments(w, r, parts, session)
	case "tickets":
		s.handleTickets(w, r, parts, session)
	case "notifications":
		s.handleNotifications(w, r, parts, session)
	case "admin":
		s.handleAdmin(w, r, parts, session)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.ReadyChecks(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		IsExternal  bool   `json:"isExternal"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	resp, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		IsExternal:  body.IsExternal,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}
	if s.service.SMTPConfigured() {
		s.service.SendVerificationEmail(body.Email, body.DisplayName, resp.VerificationToken)
	} else if resp.VerificationToken != "" {
		// Dev bypass: hand the token back so local setups stay usable without SMTP.
		response["devVerificationToken"] = resp.VerificationToken
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	resp, err := s.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrAccountDeactivated) {
			writeError(w, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Email address is not verified", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionTokensPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.AuthPasswordService().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	token, err := s.service.AuthPasswordService().RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Never reveals whether the account exists.
	response := map[string]any{"ok": true}
	if s.service.SMTPConfigured() {
		s.service.SendPasswordResetEmail(r.Context(), body.Email, token)
	} else if token != "" {
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
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.AuthPasswordService().ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "refreshToken is required", nil)
		return
	}

	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, authpw.ErrAccountDeactivated) {
			writeError(w, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil)
			return
		}
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token", nil)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionTokensPayload(session))
}

func (s *HTTPServer) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Password     string `json:"password"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.DeleteAccount(r.Context(), session, body.Password, body.RefreshToken); err != nil {
		switch {
		case errors.Is(err, authpw.ErrAccountDeactivated):
			writeError(w, http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil)
		case err.Error() == "password confirmation required":
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		case err.Error() == "password confirmation does not match":
			writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
		default:
			writeServiceError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		payload, err := s.service.Profile(r.Context(), session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	var input ProfileUpdate
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateProfile(r.Context(), session, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSetPIN(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := s.service.SetAccessPIN(r.Context(), session, body.PIN); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	valid, err := s.service.VerifyAccessPIN(r.Context(), session, body.PIN)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListClients(ctx, r.URL.Query().Get("status"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"clients": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ClientInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateClient(ctx, session, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 3 {
		clientID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetClient(ctx, clientID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ClientInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateClient(ctx, session, clientID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteClient(ctx, session, clientID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "credentials" {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		clientID := parts[2]
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListClientCredentials(ctx, session, clientID, accessPIN(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"credentials": items})
		case http.MethodPost:
			var input CredentialInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCredential(ctx, session, clientID, accessPIN(r), input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleCredentials(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		s.forbid(w)
		return
	}

	ctx := r.Context()
	credentialID := parts[2]
	switch r.Method {
	case http.MethodPut:
		var input CredentialInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateCredential(ctx, session, credentialID, accessPIN(r), input)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteCredential(ctx, session, credentialID, accessPIN(r)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()
	query := r.URL.Query()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProjects(ctx, query.Get("clientId"), query.Get("status"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ProjectInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProject(ctx, session, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 3 {
		projectID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProject(ctx, projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ProjectInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProject(ctx, session, projectID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteProject(ctx, session, projectID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "phases" {
		projectID := parts[2]
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListPhases(ctx, projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"phases": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input PhaseInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreatePhase(ctx, session, projectID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 5 && parts[3] == "phases" && parts[4] == "reorder" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			PhaseID  string `json:"phaseId"`
			Position *int   `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.PhaseID) == "" || body.Position == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phaseId and position are required", nil)
			return
		}
		items, err := s.service.ReorderPhases(ctx, session, parts[2], body.PhaseID, *body.Position)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"phases": items})
		return
	}

	if len(parts) == 4 && parts[3] == "tasks" {
		projectID := parts[2]
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProjectTasks(ctx, projectID, query.Get("status"), query.Get("assigneeId"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input TaskInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateTask(ctx, session, projectID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handlePhases(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 3 {
		phaseID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetPhase(ctx, phaseID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input PhaseInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdatePhase(ctx, session, phaseID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeletePhase(ctx, session, phaseID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 {
		phaseID := parts[2]
		switch {
		case parts[3] == "content" && r.Method == http.MethodGet:
			payload, err := s.service.PhaseContent(ctx, phaseID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case parts[3] == "content" && r.Method == http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ContentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.SavePhaseContent(ctx, session, phaseID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case parts[3] == "history" && r.Method == http.MethodGet:
			items, err := s.service.PhaseHistory(ctx, phaseID, parseIntDefault(r.URL.Query().Get("limit"), 0))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"revisions": items})
		case parts[3] == "send" && r.Method == http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			payload, err := s.service.SendPhase(ctx, session, phaseID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case (parts[3] == "approve" || parts[3] == "decline") && r.Method == http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			var body struct {
				Note string `json:"note"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			var payload map[string]any
			var err error
			if parts[3] == "approve" {
				payload, err = s.service.ApprovePhase(ctx, session, phaseID, body.Note)
			} else {
				payload, err = s.service.DeclinePhase(ctx, session, phaseID, body.Note)
			}
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case parts[3] == "complete" && r.Method == http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			payload, err := s.service.CompletePhase(ctx, session, phaseID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case parts[3] == "export" && r.Method == http.MethodPost:
			var body struct {
				Format   string `json:"format"`
				Revision string `json:"revision"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			result, err := s.service.ExportPhase(ctx, phaseID, body.Format, body.Revision)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
			w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 5 && parts[3] == "revisions" && r.Method == http.MethodGet {
		payload, err := s.service.PhaseRevision(ctx, parts[2], parts[4])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 3 {
		taskID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetTask(ctx, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input TaskInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateTask(ctx, session, taskID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteTask(ctx, session, taskID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "move" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			Status   string `json:"status"`
			Position *int   `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if body.Status == "" || body.Position == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status and position are required", nil)
			return
		}
		payload, err := s.service.MoveTask(ctx, session, parts[2], body.Status, *body.Position)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListChannels(ctx, session)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"channels": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ChannelInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateChannel(ctx, session, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 3 {
		channelID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetChannel(ctx, session, channelID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input ChannelInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateChannel(ctx, session, channelID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteChannel(ctx, session, channelID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "messages" {
		channelID := parts[2]
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			items, err := s.service.ListChannelMessages(ctx, session, channelID,
				query.Get("before"), parseIntDefault(query.Get("limit"), 0))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionComment) {
				s.forbid(w)
				return
			}
			var input MessageInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.PostMessage(ctx, session, channelID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionComment) {
		s.forbid(w)
		return
	}

	ctx := r.Context()
	messageID := parts[2]
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.EditMessage(ctx, session, messageID, body.Body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteMessage(ctx, session, messageID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 2 && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionComment) {
			s.forbid(w)
			return
		}
		// The multipart reader needs headroom over the object cap for form framing.
		r.Body = http.MaxBytesReader(w, r.Body, files.MaxAttachmentSize+(1<<20))
		file, header, err := r.FormFile("file")
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, http.StatusUnprocessableEntity, "FILE_TOO_LARGE", "File exceeds the attachment size limit",
					map[string]any{"maxBytes": files.MaxAttachmentSize})
				return
			}
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", `multipart field "file" is required`, nil)
			return
		}
		defer file.Close()

		payload, err := s.service.UploadAttachment(ctx, session, header.Filename,
			header.Header.Get("Content-Type"), header.Size, file)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "url" && r.Method == http.MethodGet {
		payload, err := s.service.AttachmentURL(ctx, session, parts[2])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleTickets(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()
	query := r.URL.Query()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListTickets(ctx, session, query.Get("status"),
				query.Get("assigneeId"), query.Get("clientId"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tickets": items})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionComment) {
				s.forbid(w)
				return
			}
			var input TicketInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateTicket(ctx, session, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 3 {
		ticketID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetTicket(ctx, session, ticketID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var input TicketInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateTicket(ctx, session, ticketID, input)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteTicket(ctx, session, ticketID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionManage) {
			s.forbid(w)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateTicketStatus(ctx, session, parts[2], body.Status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "assign" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionManage) {
			s.forbid(w)
			return
		}
		var body struct {
			AssigneeID string `json:"assigneeId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.AssignTicket(ctx, session, parts[2], body.AssigneeID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	ctx := r.Context()

	if len(parts) == 2 && r.Method == http.MethodGet {
		query := r.URL.Query()
		items, err := s.service.ListNotifications(ctx, session,
			query.Get("unread") == "true", parseIntDefault(query.Get("limit"), 0))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
		return
	}

	if len(parts) == 3 && parts[2] == "count" && r.Method == http.MethodGet {
		payload, err := s.service.NotificationCount(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "read-all" && r.Method == http.MethodPost {
		payload, err := s.service.MarkAllNotificationsRead(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[3] == "read" && r.Method == http.MethodPost {
		if err := s.service.MarkNotificationRead(ctx, session, parts[2]); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string, session Session) {
	if !s.service.Can(session.Role, rbac.ActionAdmin) {
		s.forbid(w)
		return
	}
	ctx := r.Context()

	if len(parts) == 3 && parts[2] == "maintenance" && r.Method == http.MethodPost {
		payload, err := s.service.RunMaintenance(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "users" && parts[4] == "role" && r.Method == http.MethodPut {
		var body struct {
			Role       string `json:"role"`
			IsExternal *bool  `json:"isExternal"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.SetUserRole(ctx, session, parts[3], body.Role, body.IsExternal)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
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

// Flush lets the event stream push frames through the logging wrapper.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Access-Pin")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionTokensPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"isExternal":   session.IsExternal,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func accessPIN(r *http.Request) string {
	return r.Header.Get("X-Access-Pin")
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
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
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
		if errors.Is(err, io.EOF) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrPositionOutOfRange) {
		return http.StatusUnprocessableEntity, "POSITION_OUT_OF_RANGE", "Position is out of range", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, authpw.ErrAccountDeactivated) {
		return http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil
	}
	if errors.Is(err, export.ErrContentUnavailable) {
		return http.StatusNotFound, "NOT_FOUND", "No exportable content", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
