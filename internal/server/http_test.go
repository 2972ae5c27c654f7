package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"broadcast-control-plane/backend/internal/admin/manager"
	adminrepo "broadcast-control-plane/backend/internal/admin/repository"
	"broadcast-control-plane/backend/internal/authz"
	"broadcast-control-plane/backend/internal/gateway"
	"broadcast-control-plane/backend/internal/ratelimit"
	"broadcast-control-plane/backend/internal/security"
	sessionrepo "broadcast-control-plane/backend/internal/session/repository"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	admins := adminrepo.NewMemoryRepository()
	sessions := sessionrepo.NewMemoryRepository()
	m := manager.New(admins, sessions, security.NewHasher(4))

	provider, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatal(err)
	}
	blacklist, _ := security.NewBlacklist("")
	authority := security.NewAuthority(provider, blacklist, m)
	m.SetTokenValidator(authority)

	evaluator, err := authz.NewOPAEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	guard := authz.NewGuard(sessions, evaluator)
	g := gateway.New(m, authority, sessions, guard, ratelimit.New(ratelimit.DefaultConfig()), nil)

	srv := httptest.NewServer(New(g).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, connID string, body interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if connID != "" {
		req.Header.Set(connectionHeader, connID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s status = %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestBridge_AuthenticateAndReconnectFlow(t *testing.T) {
	srv := newTestServer(t)

	var auth gateway.AuthenticateResponse
	post(t, srv, "/v1/authenticate", "c1", &gateway.AuthenticateRequest{
		Method:     gateway.AuthMethodCredentials,
		Username:   "alice",
		Credential: "pw",
	}, &auth)
	if !auth.Success || auth.AccessToken == "" {
		t.Fatalf("authenticate = %+v", auth)
	}

	var created struct {
		Success bool                 `json:"success"`
		Session *gateway.SessionInfo `json:"session"`
	}
	post(t, srv, "/v1/sessions", "c1", map[string]string{"display_name": "Alice"}, &created)
	if !created.Success || created.Session == nil {
		t.Fatalf("create session = %+v", created)
	}

	var ended struct {
		Success bool `json:"success"`
	}
	post(t, srv, "/v1/disconnect", "c1", map[string]string{}, &ended)
	if !ended.Success {
		t.Fatal("disconnect failed")
	}

	// Reconnect on c2: the session is recovered and a notification queued.
	var reauth gateway.AuthenticateResponse
	post(t, srv, "/v1/authenticate", "c2", &gateway.AuthenticateRequest{
		Method:     gateway.AuthMethodCredentials,
		Username:   "alice",
		Credential: "pw",
	}, &reauth)
	if len(reauth.OwnedSessions) != 1 || reauth.OwnedSessions[0].SessionID != created.Session.SessionID {
		t.Fatalf("recovered sessions = %+v", reauth.OwnedSessions)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/notifications", nil)
	req.Header.Set(connectionHeader, "c2")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var notes struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&notes); err != nil {
		t.Fatal(err)
	}
	if len(notes.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1 reconnection notice", len(notes.Notifications))
	}
}

func TestBridge_SessionAccessDowngrade(t *testing.T) {
	srv := newTestServer(t)

	var alice, bob gateway.AuthenticateResponse
	post(t, srv, "/v1/authenticate", "c1", &gateway.AuthenticateRequest{Method: gateway.AuthMethodCredentials, Username: "alice", Credential: "pw"}, &alice)
	post(t, srv, "/v1/authenticate", "c2", &gateway.AuthenticateRequest{Method: gateway.AuthMethodCredentials, Username: "bob", Credential: "pw"}, &bob)

	var created struct {
		Success bool                 `json:"success"`
		Session *gateway.SessionInfo `json:"session"`
	}
	post(t, srv, "/v1/sessions", "c1", map[string]string{"display_name": "Alice"}, &created)

	var access gateway.SessionAccessResponse
	post(t, srv, "/v1/sessions/"+created.Session.SessionID+"/access", "c2",
		&gateway.SessionAccessRequest{AccessType: gateway.AccessWrite}, &access)
	if access.Success {
		t.Fatalf("non-owner write allowed: %+v", access)
	}

	post(t, srv, "/v1/sessions/"+created.Session.SessionID+"/access", "c2",
		&gateway.SessionAccessRequest{AccessType: gateway.AccessRead}, &access)
	if !access.Success || access.AccessType != gateway.AccessRead {
		t.Fatalf("non-owner read = %+v", access)
	}
}

func TestBridge_MissingConnectionHeader(t *testing.T) {
	srv := newTestServer(t)
	resp, err := srv.Client().Post(srv.URL+"/v1/authenticate", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
