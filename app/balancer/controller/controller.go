package controller

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]types.User
	JWTSecret  []byte
}

// NewController reads the credentials from the environment:
//
//	ADMIN_TOKEN     bearer token with admin rights
//	ADMIN_USER      name of the built-in admin (ADMIN_PASSWORD, clear or bcrypt)
//	ADMIN_USERS     extra users, [{"username","password","role"}]
//	SESSION_SECRET  HS256 key of the session cookie
func NewController(app *types.App) (*Controller, error) {
	adminUser := utils.Env("ADMIN_USER", "admin")
	users, err := loadUsers(adminUser, utils.Env("ADMIN_PASSWORD", "admin"), utils.Env("ADMIN_USERS", ""))
	if err != nil {
		return nil, err
	}
	return &Controller{
		App:        app,
		AdminToken: utils.Env("ADMIN_TOKEN", "devtoken"),
		Users:      users,
		JWTSecret:  []byte(utils.Env("SESSION_SECRET", "change-me-please")),
	}, nil
}

func loadUsers(adminUser, adminPassword, extra string) (map[string]types.User, error) {
	hash, err := passwordHash(adminPassword)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	users := map[string]types.User{
		adminUser: {Username: adminUser, Hash: hash, Role: RoleAdmin},
	}
	if strings.TrimSpace(extra) == "" {
		return users, nil
	}

	var entries []struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.Unmarshal([]byte(extra), &entries); err != nil {
		return nil, fmt.Errorf("parse ADMIN_USERS: %w", err)
	}
	for _, e := range entries {
		if e.Username == "" || e.Password == "" {
			return nil, fmt.Errorf("ADMIN_USERS: username and password are required")
		}
		role := e.Role
		switch role {
		case "":
			role = RoleViewer
		case RoleAdmin, RoleViewer:
		default:
			return nil, fmt.Errorf("ADMIN_USERS: unknown role %q for %s", e.Role, e.Username)
		}
		h, err := passwordHash(e.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password of %s: %w", e.Username, err)
		}
		users[e.Username] = types.User{Username: e.Username, Hash: h, Role: role}
	}
	return users, nil
}

// WithCORS echoes the request origin so browser clients can send the session cookie.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", strings.Join([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
		}, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires every balancer route.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", c.HandleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	read := func(f http.HandlerFunc) http.Handler { return c.RequireAuth(f) }
	write := func(f http.HandlerFunc) http.Handler { return c.RequireAdmin(f) }

	api.Handle("/balances", read(c.HandleBalances)).Methods(http.MethodGet)
	api.Handle("/balances/events", read(c.HandleEvents)).Methods(http.MethodGet)
	api.Handle("/balances/{chainId:[0-9]+}", read(c.HandleChainBalances)).Methods(http.MethodGet)
	api.Handle("/balances/update", read(c.HandleUpdate)).Methods(http.MethodPost)
	api.Handle("/balances/update-some", read(c.HandleUpdateSome)).Methods(http.MethodPost)

	api.Handle("/wallet", read(c.HandleWallet)).Methods(http.MethodGet)
	api.Handle("/wallet", write(c.HandleWalletPut)).Methods(http.MethodPut)
	api.Handle("/tokens", read(c.HandleTokens)).Methods(http.MethodGet)
	api.Handle("/tokens", write(c.HandleTokensPut)).Methods(http.MethodPut)

	// balance.updated events; browsers cannot set headers on the upgrade
	api.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r
}
