package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"qr-relay/auth"
	"qr-relay/contract"
	"qr-relay/errors"
	"qr-relay/repositories"
	"qr-relay/services"
)

// ServerConfig is the mutable runtime configuration exposed to the admin
// surface, currently just the public domain used to build share links.
type ServerConfig struct {
	mu     sync.RWMutex
	Domain string
}

func (c *ServerConfig) Get() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]string{"domain": c.Domain}
}

func (c *ServerConfig) SetDomain(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Domain = strings.TrimRight(domain, "/")
}

// API is the outward query surface next to the relay: channel existence
// checks for joining consumers, health, and the admin panel endpoints. It
// only reads the registry through snapshots and never mutates relay state.
type API struct {
	log       *slog.Logger
	registry  contract.IRegistry
	authSvc   services.IAuthService
	issuer    *auth.TokenIssuer
	config    *ServerConfig
	startedAt time.Time
}

func NewAPI(log *slog.Logger, registry contract.IRegistry, authSvc services.IAuthService,
	issuer *auth.TokenIssuer) *API {
	return &API{
		log:       log,
		registry:  registry,
		authSvc:   authSvc,
		issuer:    issuer,
		config:    &ServerConfig{},
		startedAt: time.Now(),
	}
}

// Register mounts all routes on the mux. Admin routes sit behind the
// authentication middleware plus a role gate.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/channel/{id}", a.handleChannelLookup)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(a.issuer, a.authSvc, h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(a.issuer, a.authSvc, auth.RequireRole("admin", h))
	}

	mux.Handle("POST /api/auth/change-password", authed(a.handleChangePassword))
	mux.Handle("GET /api/admin/channels", admin(a.handleChannelList))
	mux.Handle("GET /api/admin/config", admin(a.handleConfigGet))
	mux.Handle("POST /api/admin/config", admin(a.handleConfigSet))
	mux.Handle("GET /api/admin/users", admin(a.handleUserList))
	mux.Handle("POST /api/admin/users", admin(a.handleUserCreate))
	mux.Handle("POST /api/admin/users/{username}/ban", admin(a.handleUserBan))
	mux.Handle("POST /api/admin/users/{username}/unban", admin(a.handleUserUnban))
	mux.Handle("DELETE /api/admin/users/{username}", admin(a.handleUserDelete))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.authSvc.Login(req.Username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrIPBanned), stderrors.Is(err, errors.ErrAccountBanned):
			writeError(w, http.StatusForbidden, err.Error())
		case stderrors.Is(err, errors.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			a.log.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":                 result.UserID,
			"username":           result.Username,
			"role":               result.Role,
			"mustChangePassword": result.MustChangePassword,
		},
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	var req auth.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := a.authSvc.ChangePassword(claims.UserID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case stderrors.Is(err, errors.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptimeSec": int64(time.Since(a.startedAt).Seconds()),
	})
}

// handleChannelLookup lets a consumer check a channel before joining,
// without exposing anything beyond existence and the password flag.
func (a *API) handleChannelLookup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, info := range a.registry.Snapshot() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{
				"exists":        true,
				"hasPassword":   info.HasPassword,
				"consumerCount": info.ConsumerCount,
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"exists": false})
}

func (a *API) handleChannelList(w http.ResponseWriter, _ *http.Request) {
	infos := a.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"channels": infos})
}

func (a *API) handleConfigGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.config.Get())
}

func (a *API) handleConfigSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain *string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Domain != nil {
		a.config.SetDomain(*req.Domain)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": a.config.Get()})
}

func (a *API) handleUserList(w http.ResponseWriter, _ *http.Request) {
	users, err := a.authSvc.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	type userView struct {
		ID        string    `json:"id"`
		Username  string    `json:"username"`
		Role      string    `json:"role"`
		IsBanned  bool      `json:"isBanned"`
		CreatedAt time.Time `json:"createdAt"`
		LastLogin time.Time `json:"lastLogin,omitzero"`
	}
	views := lo.Map(users, func(u repositories.User, _ int) userView {
		return userView{
			ID: u.ID, Username: u.Username, Role: u.Role,
			IsBanned: u.IsBanned, CreatedAt: u.CreatedAt, LastLogin: u.LastLogin,
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}

func (a *API) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := a.authSvc.CreateUser(req.Username, req.Role, claims.Username)
	if err != nil {
		if stderrors.Is(err, errors.ErrUserAlreadyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"username": created.User.Username,
		"password": created.Password,
		"role":     created.User.Role,
	})
}

func (a *API) handleUserBan(w http.ResponseWriter, r *http.Request) {
	a.setUserBanned(w, r, true)
}

func (a *API) handleUserUnban(w http.ResponseWriter, r *http.Request) {
	a.setUserBanned(w, r, false)
}

func (a *API) setUserBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	if err := a.authSvc.SetBanned(r.PathValue("username"), banned); err != nil {
		if stderrors.Is(err, errors.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.authSvc.DeleteUser(r.PathValue("username")); err != nil {
		if stderrors.Is(err, errors.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
