package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/agilehead/persona/admin"
	"github.com/agilehead/persona/auth"
	"github.com/agilehead/persona/identity"
	"github.com/agilehead/persona/internal/config"
	"github.com/agilehead/persona/tenant"
	"github.com/agilehead/persona/token"
)

// Server is the HTTP boundary of the identity core. It owns routing, the
// tenant and internal-trust middleware, and the browser-side cookie transport;
// all protocol and lifecycle decisions live in the auth, token, and admin
// packages.
type Server struct {
	router     *mux.Router
	config     *config.Config
	login      *auth.LoginService
	tokens     *token.Manager
	admin      *admin.Service
	identities identity.Repo
	tenants    *tenant.Resolver
	cookies    *CookieManager

	// bcrypt hash of the internal pre-shared secret, computed once at startup
	// so per-request comparison is constant time.
	internalSecretHash []byte
}

func New(
	cfg *config.Config,
	login *auth.LoginService,
	tokens *token.Manager,
	adminService *admin.Service,
	identities identity.Repo,
	tenants *tenant.Resolver,
) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if login == nil || tokens == nil || adminService == nil || identities == nil || tenants == nil {
		return nil, errors.New("[server.New] all dependencies are required")
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(cfg.InternalAPISecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] hash internal secret")
	}

	cookies, err := NewCookieManager([]byte(cfg.CookieHashKey), blockKey(cfg.CookieBlockKey), cfg.IsProduction())
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] cookie manager")
	}

	s := &Server{
		router:             mux.NewRouter(),
		config:             cfg,
		login:              login,
		tokens:             tokens,
		admin:              adminService,
		identities:         identities,
		tenants:            tenants,
		cookies:            cookies,
		internalSecretHash: secretHash,
	}
	s.initRoutes()
	return s, nil
}

func blockKey(key string) []byte {
	if key == "" {
		return nil
	}
	return []byte(key)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) initRoutes() {
	s.router.Use(s.requestLogger)

	// Liveness: no storage, no tenant resolution, no authentication.
	s.router.HandleFunc("/health", s.HealthHandler()).Methods(http.MethodGet)

	s.router.HandleFunc("/auth/{provider}/login", s.LoginHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/{provider}/callback", s.CallbackHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/refresh", s.RefreshHandler()).Methods(http.MethodPost)
	s.router.HandleFunc("/auth/logout", s.LogoutHandler()).Methods(http.MethodPost)

	internal := s.router.PathPrefix("/internal").Subrouter()
	internal.Use(s.requireInternalSecret)
	internal.HandleFunc("/identities/{id}/link", s.LinkIdentityHandler()).Methods(http.MethodPost)
	internal.HandleFunc("/users/{userId}/roles", s.UpdateUserRolesHandler()).Methods(http.MethodPut)
	internal.HandleFunc("/users/{userId}/sessions/revoke", s.RevokeUserSessionsHandler()).Methods(http.MethodPost)
	internal.HandleFunc("/sessions/sweep", s.SweepSessionsHandler()).Methods(http.MethodPost)
}

// getScheme determines the request scheme, honouring TLS-terminating
// intermediaries via X-Forwarded-Proto.
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// callbackURL reconstructs the exact provider callback URL for this request.
// Production always reports https regardless of the literal inbound scheme.
func (s *Server) callbackURL(r *http.Request, provider string) string {
	scheme := getScheme(r)
	if s.config.IsProduction() {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/auth/" + provider + "/callback"
}

// tenantSelector extracts the caller-supplied tenant selector. The query
// parameter is authoritative so an empty-but-present selector is observable;
// the X-Tenant-Id header is a convenience fallback.
func tenantSelector(r *http.Request) (string, bool) {
	if r.URL.Query().Has("tenant") {
		return r.URL.Query().Get("tenant"), true
	}
	if values, ok := r.Header[http.CanonicalHeaderKey("X-Tenant-Id")]; ok && len(values) > 0 {
		return values[0], true
	}
	return "", false
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

func logError(r *http.Request, err error, msg string) {
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(msg)
}
