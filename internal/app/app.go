package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/config"
	"github.com/sustainage/admission-gate/internal/http/handler"
	"github.com/sustainage/admission-gate/internal/http/router"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	db       *gorm.DB
	redis    *redis.Client
	licenses *service.LicenseService
	sessions *service.SessionService
	limiter  service.RateLimiter
	clock    clock.Clock
}

// Build wires the whole gate from config: observability, storage, defense
// services, handlers and the HTTP server.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, loggerProvider, err := observability.InitLogging(ctx, observability.LoggingConfig{
		Enabled:     cfg.OTELLogsEnabled,
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Insecure:    cfg.OTELExporterOTLPInsecure,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	meterProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Enabled:        cfg.OTELMetricsEnabled,
		Endpoint:       cfg.OTELExporterOTLPEndpoint,
		Insecure:       cfg.OTELExporterOTLPInsecure,
		ServiceName:    cfg.OTELServiceName,
		Environment:    cfg.OTELEnvironment,
		ExportInterval: cfg.OTELMetricsExportInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	runtime := &observability.Runtime{MeterProvider: meterProvider, LoggerProvider: loggerProvider}

	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	clk := clock.System()
	users := repository.NewUserRepository(db)
	trail := service.NewAuditTrail(repository.NewAuditRepository(db), clk)
	codec := security.NewTokenCodec(cfg.LicenseIssuer, cfg.LicenseSigningSecret, clk)
	licenses := service.NewLicenseService(codec, repository.NewLicenseRepository(db), clk)
	sessions := service.NewSessionService(repository.NewSessionRepository(db), cfg.SessionPepper, cfg.SessionTTL, clk)
	approvals := service.NewApprovalService(repository.NewApprovalRepository(db), trail, clk, cfg.ApprovalTTL)

	// Redis, when configured, carries the hot counters and challenge codes;
	// the relational store remains the fallback on single-node deployments.
	var redisClient *redis.Client
	var limiter service.RateLimiter
	var challenges service.ChallengeStore
	var denials service.DenialCache
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = service.NewRedisRateLimiter(redisClient, "", clk)
		challenges = service.NewRedisChallengeStore(redisClient, "")
		denials = service.NewRedisDenialCache(redisClient, "")
	} else {
		limiter = service.NewStoreRateLimiter(repository.NewRateLimitRepository(db), clk)
		challenges = service.NewMemoryChallengeStore(clk)
		denials = service.NewMemoryDenialCache(clk)
	}
	licenses.UseDenialCache(denials, cfg.DenialCacheTTL)

	guard := service.NewLoginGuard(
		limiter,
		service.NewLockoutService(repository.NewLockoutRepository(db), clk, cfg.LockoutMaxAttempts, cfg.LockoutDuration),
		challenges,
		service.NewAuthenticator(users),
		service.GuardConfig{
			LoginMax:         cfg.LoginRateLimitMax,
			LoginWindow:      cfg.LoginRateLimitWindow,
			CaptchaThreshold: cfg.CaptchaThreshold,
			CaptchaTTL:       cfg.CaptchaCodeTTL,
			CaptchaDigits:    cfg.CaptchaDigits,
			EscalationTTL:    cfg.LoginRateLimitWindow,
		},
	)

	readyChecks := map[string]router.ReadyCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		readyChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(guard, sessions, trail, !cfg.IsDevelopment()),
		LicenseHandler:     handler.NewLicenseHandler(licenses, trail),
		AdminHandler:       handler.NewAdminHandler(users, sessions, approvals, trail, clk),
		Licenses:           licenses,
		Sessions:           sessions,
		Users:              users,
		RateLimiter:        limiter,
		Bypass:             service.NewBypassList(cfg.RateLimitBypassKeys),
		APIRateLimitMax:    cfg.APIRateLimitMax,
		APIRateLimitWindow: cfg.APIRateLimitWindow,
		ReadyChecks:        readyChecks,
		EnableOTelHTTP:     cfg.EnableOTelHTTP,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		db:            db,
		redis:         redisClient,
		licenses:      licenses,
		sessions:      sessions,
		limiter:       limiter,
		clock:         clk,
	}, nil
}

// Run serves until ctx is cancelled, then drains connections and flushes
// observability within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("gate listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.runJanitor(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("http shutdown", "error", err)
		}
		if a.redis != nil {
			_ = a.redis.Close()
		}
		return a.Observability.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runJanitor periodically settles expired licenses, drops dead sessions and
// garbage-collects stale rate-limit counters.
func (a *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.licenses.SettleExpired(ctx); err != nil {
				a.Logger.Warn("settle expired licenses", "error", err)
			} else if n > 0 {
				a.Logger.Info("settled expired licenses", "count", n)
			}
			if n, err := a.sessions.CleanupExpired(ctx); err != nil {
				a.Logger.Warn("cleanup sessions", "error", err)
			} else if n > 0 {
				a.Logger.Info("cleaned up sessions", "count", n)
			}
			if sl, ok := a.limiter.(*service.StoreRateLimiter); ok {
				if err := sl.GC(ctx); err != nil {
					a.Logger.Warn("rate counter gc", "error", err)
				}
			}
		}
	}
}
