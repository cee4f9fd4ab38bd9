package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/livetrack/location-service/internal/auth"
	"github.com/livetrack/location-service/internal/config"
	"github.com/livetrack/location-service/internal/database"
	"github.com/livetrack/location-service/internal/handler"
	"github.com/livetrack/location-service/internal/hub"
	"github.com/livetrack/location-service/internal/router"
	"github.com/livetrack/location-service/internal/service"
	"github.com/livetrack/location-service/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket API application.
type API struct {
	cfg *config.Config
	srv *http.Server
	db  *gorm.DB
	svc *service.Service
	log *zap.Logger
}

// NewAPI creates the API application: validates config, runs migrations,
// opens the database, recovers persisted sessions and builds the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.SessionMinDuration, cfg.SessionMaxDuration)
	h := hub.New(cfg.WSViewerQueue, logger)
	repo := database.NewSessionRepository(db)
	svc := service.New(st, h, repo, cfg.SessionGracePeriod, logger)

	if err := svc.Recover(context.Background()); err != nil {
		return nil, fmt.Errorf("recover sessions: %w", err)
	}

	urls := &handler.URLBuilder{WSBase: cfg.WSBaseURL, ShareBase: cfg.ShareBaseURL}
	sessionHandler := handler.NewSessionHandler(svc, urls)
	locationWS := handler.NewLocationWSHandler(svc, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize, logger)
	health := handler.NewHealthHandler()

	r := router.New(sessionHandler, locationWS, health, auth.Middleware(verifier))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: WebSocket connections stay open for
		// the whole session lifetime.
		IdleTimeout: 60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, db: db, svc: svc, log: logger}, nil
}

// buildVerifier picks the identity backend: the external provider when
// configured, static tokens otherwise (development only; Validate forbids
// running production without a provider).
func buildVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.IdentityProviderURL != "" {
		return auth.NewHTTPVerifier(cfg.IdentityProviderURL), nil
	}
	v, err := auth.ParseStaticTokens(cfg.AuthStaticTokens)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts
// down gracefully.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Sessions:      %s/sessions", base)
	log.Printf("  Viewer WS:     ws://%s:%s/ws/sessions/:session_id", host, a.cfg.HTTPPort)
	log.Printf("  Publisher WS:  ws://%s:%s/ws/sessions/:session_id/publish", host, a.cfg.HTTPPort)

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	a.svc.Close()
	_ = a.log.Sync()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
