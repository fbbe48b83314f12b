package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agilehead/persona/admin"
	"github.com/agilehead/persona/auth"
	"github.com/agilehead/persona/auth/oidcprovider"
	"github.com/agilehead/persona/identity"
	identityrepofakes "github.com/agilehead/persona/identity/repofakes"
	"github.com/agilehead/persona/internal/config"
	"github.com/agilehead/persona/server"
	"github.com/agilehead/persona/session"
	sessionrepofakes "github.com/agilehead/persona/session/repofakes"
	"github.com/agilehead/persona/storage/postgres"
	"github.com/agilehead/persona/tenant"
	"github.com/agilehead/persona/token"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	// Missing .env is fine; real deployments use the process environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config.Load")
	}
	setupLogging(cfg)
	displayAppname(cfg.AppName)

	identities, sessions, err := buildRepositories(cfg)
	if err != nil {
		return err
	}

	tokens, err := token.New(sessions, identities, []byte(cfg.JWTSecret),
		token.WithIssuer(cfg.JWTIssuer),
		token.WithTokenExpiry(
			token.ParseExpiry(cfg.AccessTokenExpiry),
			token.ParseExpiry(cfg.RefreshTokenExpiry),
		),
	)
	if err != nil {
		return errors.Wrap(err, "token.New")
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	login, err := auth.NewLoginService(identities, tokens, providers)
	if err != nil {
		return errors.Wrap(err, "auth.NewLoginService")
	}

	adminService, err := admin.NewService(identities, tokens)
	if err != nil {
		return errors.Wrap(err, "admin.NewService")
	}

	srv, err := server.New(cfg, login, tokens, adminService, identities, buildResolver(cfg))
	if err != nil {
		return errors.Wrap(err, "server.New")
	}

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// buildRepositories selects postgres when DATABASE_URL is configured and the
// in-memory repositories otherwise. The in-memory pair is for local
// development only; it forgets everything on restart.
func buildRepositories(cfg *config.Config) (identity.Repo, session.Repo, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory repositories")
		return identityrepofakes.NewFakeIdentityRepo(), sessionrepofakes.NewFakeSessionRepo(), nil
	}

	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "postgres.Connect")
	}
	return postgres.NewIdentityRepo(db), postgres.NewSessionRepo(db), nil
}

func buildProviders(cfg *config.Config) ([]auth.IdentityProvider, error) {
	var providers []auth.IdentityProvider
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		providers = append(providers,
			oidcprovider.New("google", cfg.GoogleIssuer, cfg.GoogleClientID, cfg.GoogleClientSecret))
	}
	if len(providers) == 0 {
		return nil, errors.New("no identity providers configured")
	}
	return providers, nil
}

func buildResolver(cfg *config.Config) *tenant.Resolver {
	if cfg.TenantMode == config.TenantModeMulti {
		return tenant.NewMulti(cfg.Tenants)
	}
	return tenant.NewSingle(cfg.Tenant)
}

func listenAndServe(srv *http.Server) {
	log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
