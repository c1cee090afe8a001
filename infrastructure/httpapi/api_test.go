package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"qr-relay/auth"
	"qr-relay/errors"
	"qr-relay/relay"
	"qr-relay/repositories"
	"qr-relay/services"
)

// fakeAuthService lets handler tests control identity outcomes without a
// database behind them.
type fakeAuthService struct {
	loginResult services.LoginResult
	loginErr    error
	sessionErr  error
	users       []repositories.User
}

func (f *fakeAuthService) Login(_, _, _ string) (services.LoginResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeAuthService) ChangePassword(_, _, _ string) (string, error) {
	return "new-token", nil
}

func (f *fakeAuthService) VerifySession(_, _ string) error {
	return f.sessionErr
}

func (f *fakeAuthService) CreateUser(username, role, _ string) (services.CreatedUser, error) {
	return services.CreatedUser{
		User:     repositories.User{Username: username, Role: role},
		Password: "generated",
	}, nil
}

func (f *fakeAuthService) SetBanned(_ string, _ bool) error        { return nil }
func (f *fakeAuthService) ListUsers() ([]repositories.User, error) { return f.users, nil }
func (f *fakeAuthService) DeleteUser(_ string) error               { return nil }

func newTestAPI(t *testing.T, authSvc services.IAuthService) (*API, *relay.Registry, *auth.TokenIssuer, *http.ServeMux) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	registry := relay.NewRegistry()
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	api := NewAPI(log, registry, authSvc, issuer)
	mux := http.NewServeMux()
	api.Register(mux)
	return api, registry, issuer, mux
}

func adminToken(t *testing.T, issuer *auth.TokenIssuer) string {
	t.Helper()
	token, err := issuer.Generate(auth.Claims{
		UserID: "u1", Username: "admin", Role: "admin", SessionToken: "nonce",
	})
	require.NoError(t, err)
	return token
}

func TestAPI_Health(t *testing.T) {
	req := require.New(t)
	_, _, _, mux := newTestAPI(t, &fakeAuthService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	req.Equal(http.StatusOK, rec.Code)
	var body map[string]any
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal("ok", body["status"])
}

func TestAPI_Channel_Lookup(t *testing.T) {
	req := require.New(t)
	_, registry, _, mux := newTestAPI(t, &fakeAuthService{})

	hash := "stored-hash"
	_, err := registry.Create("abc12", &hash, "p1")
	req.NoError(err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channel/abc12", nil))
	req.Equal(http.StatusOK, rec.Code)
	var body map[string]any
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal(true, body["exists"])
	req.Equal(true, body["hasPassword"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channel/ghost9", nil))
	req.Equal(http.StatusNotFound, rec.Code)
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal(false, body["exists"])
}

func TestAPI_Admin_Channels_Requires_Token(t *testing.T) {
	req := require.New(t)
	_, registry, issuer, mux := newTestAPI(t, &fakeAuthService{})
	_, err := registry.Create("abc12", nil, "p1")
	req.NoError(err)

	// No token
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/channels", nil))
	req.Equal(http.StatusUnauthorized, rec.Code)

	// Valid admin token
	request := httptest.NewRequest(http.MethodGet, "/api/admin/channels", nil)
	request.Header.Set("Authorization", "Bearer "+adminToken(t, issuer))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, request)
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "abc12")
}

func TestAPI_Admin_Rejects_User_Role(t *testing.T) {
	req := require.New(t)
	_, _, issuer, mux := newTestAPI(t, &fakeAuthService{})

	token, err := issuer.Generate(auth.Claims{
		UserID: "u2", Username: "bob", Role: "user", SessionToken: "nonce",
	})
	req.NoError(err)

	request := httptest.NewRequest(http.MethodGet, "/api/admin/channels", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, request)
	req.Equal(http.StatusForbidden, rec.Code)
}

func TestAPI_Rejects_Stale_Session(t *testing.T) {
	req := require.New(t)
	_, _, issuer, mux := newTestAPI(t, &fakeAuthService{sessionErr: errors.ErrSessionExpired})

	request := httptest.NewRequest(http.MethodGet, "/api/admin/channels", nil)
	request.Header.Set("Authorization", "Bearer "+adminToken(t, issuer))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, request)
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestAPI_Login_Sets_Cookie(t *testing.T) {
	req := require.New(t)
	svc := &fakeAuthService{loginResult: services.LoginResult{
		Token: "issued-token", UserID: "u1", Username: "alice", Role: "user",
	}}
	_, _, _, mux := newTestAPI(t, svc)

	body := strings.NewReader(`{"username":"alice","password":"hunter2secret"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

	req.Equal(http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	req.Len(cookies, 1)
	req.Equal("token", cookies[0].Name)
	req.Equal("issued-token", cookies[0].Value)
}

func TestAPI_Login_Banned(t *testing.T) {
	req := require.New(t)
	svc := &fakeAuthService{loginErr: errors.ErrAccountBanned}
	_, _, _, mux := newTestAPI(t, svc)

	body := strings.NewReader(`{"username":"alice","password":"x"}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	req.Equal(http.StatusForbidden, rec.Code)
}

func TestAPI_Config_Roundtrip(t *testing.T) {
	req := require.New(t)
	_, _, issuer, mux := newTestAPI(t, &fakeAuthService{})
	token := adminToken(t, issuer)

	// Trailing slashes get trimmed
	request := httptest.NewRequest(http.MethodPost, "/api/admin/config",
		strings.NewReader(`{"domain":"https://relay.example.com///"}`))
	request.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, request)
	req.Equal(http.StatusOK, rec.Code)

	request = httptest.NewRequest(http.MethodGet, "/api/admin/config", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, request)
	req.Equal(http.StatusOK, rec.Code)
	var body map[string]string
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal("https://relay.example.com", body["domain"])
}
