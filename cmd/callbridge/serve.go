package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/callbridge/internal/adapters/driven/auth"
	"github.com/custodia-labs/callbridge/internal/adapters/driven/gotoapi"
	"github.com/custodia-labs/callbridge/internal/adapters/driven/gotoauth"
	"github.com/custodia-labs/callbridge/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/callbridge/internal/adapters/driven/redis"
	"github.com/custodia-labs/callbridge/internal/adapters/driving/http"
	"github.com/custodia-labs/callbridge/internal/config"
	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
	"github.com/custodia-labs/callbridge/internal/core/services"
	"github.com/custodia-labs/callbridge/internal/logger"
)

func newServeCommand(mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(mode)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

// app holds the wired dependencies shared by every run mode.
type app struct {
	db          *postgres.DB
	lockDB      *postgres.DB
	redisClient *redis.Client
	redisPinger http.Pinger

	lock       driven.DistributedLock
	stateStore driven.OAuthStateStore
	tokenStore driven.TokenStore

	httpServer *http.Server
	reaper     *services.StateReaper
}

func (a *app) close() {
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.lockDB != nil {
		_ = a.lockDB.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("callbridge starting", "version", version, "mode", cfg.RunMode)

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RunsWorker() {
		g.Go(func() error {
			a.reaper.Start(ctx)
			<-ctx.Done()
			a.reaper.Stop()
			return nil
		})
	}
	if cfg.RunsAPI() {
		g.Go(func() error {
			return a.httpServer.Start(ctx)
		})
	}

	err = g.Wait()
	log.Info("callbridge stopped")
	return err
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if err := db.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("postgres connected and migrated")

	// Redis if available, otherwise PostgreSQL for locks and pending states.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		lock := redisadapter.NewLock(a.redisClient)
		a.lock = lock
		a.redisPinger = lock
		a.stateStore = redisadapter.NewOAuthStateStore(a.redisClient, nil)
		log.Info("using redis for locks and oauth state", "owner", lock.OwnerID())
	} else {
		lockDB, err := postgres.Connect(ctx, postgres.LockPoolConfig(cfg.DatabaseURL))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open lock pool: %w", err)
		}
		a.lockDB = lockDB
		a.lock = postgres.NewAdvisoryLock(lockDB, postgres.WithLockLogger(log))
		a.stateStore = postgres.NewOAuthStateStore(db.DB)
		log.Info("using postgres for locks and oauth state")
	}

	key, err := postgres.DeriveKey(cfg.TokenEncryptionKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}
	encryptor, err := postgres.NewSecretEncryptor(key)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create token encryptor: %w", err)
	}
	a.tokenStore = postgres.NewTokenStore(db.DB, encryptor, domain.ProviderGoTo)

	a.reaper = services.NewStateReaper(services.StateReaperConfig{
		Store:    a.stateStore,
		Lock:     a.lock,
		Logger:   log,
		Interval: cfg.ReaperInterval(),
	})

	if cfg.RunsAPI() {
		a.httpServer = buildServer(cfg, a, log)
	}
	return a, nil
}

func buildServer(cfg *config.Config, a *app, log *slog.Logger) *http.Server {
	configured := cfg.ProviderConfigured()
	if !configured {
		log.Warn("goto client credentials not set, connection endpoints will report not configured")
	}

	oauthClient := gotoauth.NewClient(gotoauth.Config{
		ClientID:     cfg.GoToClientID,
		ClientSecret: cfg.GoToClientSecret,
		RedirectURI:  cfg.GoToRedirectURI,
		AuthURL:      cfg.GoToAuthURL,
		TokenURL:     cfg.GoToTokenURL,
		RevokeURL:    cfg.GoToRevokeURL,
		Timeout:      cfg.ProviderTimeout(),
	})
	apiClient := gotoapi.NewClient(gotoapi.Config{
		BaseURL: cfg.GoToAPIBaseURL,
		Timeout: cfg.ProviderTimeout(),
	})

	stateManager := services.NewStateManager(services.StateManagerConfig{
		Store:    a.stateStore,
		Provider: domain.ProviderGoTo,
		Logger:   log,
		TTL:      cfg.StateTTL(),
	})
	tokenManager := services.NewTokenManager(services.TokenManagerConfig{
		Store:         a.tokenStore,
		Exchanger:     oauthClient,
		Lock:          a.lock,
		Logger:        log,
		RefreshWindow: cfg.RefreshWindow(),
	})
	revocation := services.NewRevocationManager(services.RevocationManagerConfig{
		Tokens:  a.tokenStore,
		States:  a.stateStore,
		Revoker: oauthClient,
		Logger:  log,
	})

	connectionService := services.NewConnectionService(services.ConnectionServiceConfig{
		States:      stateManager,
		Tokens:      tokenManager,
		Revocation:  revocation,
		TokenStore:  a.tokenStore,
		StateStore:  a.stateStore,
		Exchanger:   oauthClient,
		RedirectURI: cfg.GoToRedirectURI,
		Configured:  configured,
		Provider:    domain.ProviderGoTo,
		Logger:      log,
	})
	callDataService := services.NewCallDataService(tokenManager, apiClient, log)
	authService := services.NewAuthService(auth.NewAdapter(cfg.JWTSecret), nil)

	serverCfg := http.DefaultConfig()
	serverCfg.Port = cfg.Port
	serverCfg.Version = version
	serverCfg.FrontendURL = cfg.FrontendURL
	serverCfg.AllowedOrigins = cfg.AllowedOrigins()
	serverCfg.Logger = log

	return http.NewServer(serverCfg, http.Services{
		Auth:       authService,
		Connection: connectionService,
		CallData:   callDataService,
	}, a.db, a.redisPinger)
}
