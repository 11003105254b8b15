package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opsboard/api/internal/auth"
	"opsboard/api/internal/store"
)

func TestGuestWriteEndpointsAreForbidden(t *testing.T) {
	handler, token := newRBACHandlerAndToken(t, "guest")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "create client", method: http.MethodPost, path: "/api/clients", body: `{"company":"Acme Co","firstName":"Ada"}`},
		{name: "update client", method: http.MethodPut, path: "/api/clients/cli_1", body: `{"company":"Acme Co"}`},
		{name: "create project", method: http.MethodPost, path: "/api/projects", body: `{"clientId":"cli_1","name":"Website refresh"}`},
		{name: "create phase", method: http.MethodPost, path: "/api/projects/prj_1/phases", body: `{"name":"Discovery"}`},
		{name: "reorder phases", method: http.MethodPost, path: "/api/projects/prj_1/phases/reorder", body: `{"phaseId":"pha_1","position":0}`},
		{name: "save phase content", method: http.MethodPut, path: "/api/phases/pha_1/content", body: `{"summary":"New summary"}`},
		{name: "send phase", method: http.MethodPost, path: "/api/phases/pha_1/send", body: `{}`},
		{name: "create task", method: http.MethodPost, path: "/api/projects/prj_1/tasks", body: `{"title":"Wireframes"}`},
		{name: "move task", method: http.MethodPost, path: "/api/tasks/tsk_1/move", body: `{"status":"done","position":0}`},
		{name: "create channel", method: http.MethodPost, path: "/api/channels", body: `{"name":"general"}`},
		{name: "access vault", method: http.MethodGet, path: "/api/clients/cli_1/credentials", body: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body *bytes.Buffer
			if tc.body != "" {
				body = bytes.NewBufferString(tc.body)
			} else {
				body = &bytes.Buffer{}
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if payload := decodePayload(t, rr); payload["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
			}
		})
	}
}

func TestGuestCommentEndpointsPassAuthz(t *testing.T) {
	handler, token := newRBACHandlerAndToken(t, "guest")

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "post message", path: "/api/channels/chn_1/messages", body: `{"body":"Looks good to me"}`},
		{name: "open ticket", path: "/api/tickets", body: `{"subject":"Logo looks off on mobile"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(tc.body))
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code == http.StatusForbidden {
				t.Fatalf("expected guests to pass authz for %s, got forbidden body=%s", tc.path, rr.Body.String())
			}
		})
	}
}

func TestManageActionMatrix(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		shouldDeny bool
	}{
		{name: "guest denied", role: "guest", shouldDeny: true},
		{name: "member denied", role: "member", shouldDeny: true},
		{name: "manager allowed", role: "manager", shouldDeny: false},
		{name: "admin allowed", role: "admin", shouldDeny: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, token := newRBACHandlerAndToken(t, tc.role)
			endpoints := []struct {
				method string
				path   string
				body   string
			}{
				{method: http.MethodPost, path: "/api/phases/pha_1/approve", body: `{"note":""}`},
				{method: http.MethodPost, path: "/api/tickets/tck_1/status", body: `{"status":"in_progress"}`},
				{method: http.MethodPost, path: "/api/tickets/tck_1/assign", body: `{"assigneeId":"usr_2"}`},
				{method: http.MethodDelete, path: "/api/projects/prj_1", body: `{}`},
			}

			for _, endpoint := range endpoints {
				req := httptest.NewRequest(endpoint.method, endpoint.path, bytes.NewBufferString(endpoint.body))
				req.Header.Set("Authorization", "Bearer "+token)
				req.Header.Set("Content-Type", "application/json")
				rr := httptest.NewRecorder()

				handler.ServeHTTP(rr, req)

				if tc.shouldDeny {
					if rr.Code != http.StatusForbidden {
						t.Fatalf("expected forbidden for role=%s path=%s, got %d body=%s", tc.role, endpoint.path, rr.Code, rr.Body.String())
					}
					continue
				}
				if rr.Code == http.StatusForbidden {
					t.Fatalf("expected role=%s to pass authz for %s, got forbidden", tc.role, endpoint.path)
				}
			}
		})
	}
}

func TestAdminActionMatrix(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		shouldDeny bool
	}{
		{name: "member denied", role: "member", shouldDeny: true},
		{name: "manager denied", role: "manager", shouldDeny: true},
		{name: "admin allowed", role: "admin", shouldDeny: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler, token := newRBACHandlerAndToken(t, tc.role)

			req := httptest.NewRequest(http.MethodPut, "/api/admin/users/usr_2/role",
				bytes.NewBufferString(`{"role":"manager"}`))
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if tc.shouldDeny {
				if rr.Code != http.StatusForbidden {
					t.Fatalf("expected forbidden for role=%s, got %d body=%s", tc.role, rr.Code, rr.Body.String())
				}
				return
			}
			if rr.Code == http.StatusForbidden {
				t.Fatalf("expected role=%s to pass authz, got forbidden", tc.role)
			}
		})
	}
}

func newRBACHandlerAndToken(t *testing.T, role string) (http.Handler, string) {
	t.Helper()
	userID := "usr_" + role

	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{
				ID:          id,
				DisplayName: "Test User",
				Role:        role,
				IsExternal:  role == "guest",
			}, nil
		},
	}
	handler := newTestHandler(fs)

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Test User",
		Role: role,
		JTI:  "jti_" + role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return handler, token
}
