package main // Entry point of the auth API

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
	"github.com/iliyamo/magiclink-auth/internal/database"
	"github.com/iliyamo/magiclink-auth/internal/handler"
	"github.com/iliyamo/magiclink-auth/internal/logger"
	"github.com/iliyamo/magiclink-auth/internal/mail"
	"github.com/iliyamo/magiclink-auth/internal/queue"
	"github.com/iliyamo/magiclink-auth/internal/ratelimit"
	"github.com/iliyamo/magiclink-auth/internal/repository"
	"github.com/iliyamo/magiclink-auth/internal/router"
	"github.com/iliyamo/magiclink-auth/internal/service"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

func main() {
	cfg := config.Load()

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		lg.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			lg.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis is optional: without it the limiter keeps its state in files.
	var rdb *redis.Client
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" {
		rdb, err = config.NewRedisClient(cfg.Redis)
		if err != nil {
			lg.Warn("redis unavailable", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		store, err := ratelimit.NewStore(cfg.RateLimit, rdb, lg)
		if err != nil {
			lg.Fatal("ratelimit store", zap.Error(err))
		}
		limiter = ratelimit.New(store)
	}

	audit := queue.NewPublisher(cfg.Queue, lg)
	if p, ok := audit.(*queue.AMQPPublisher); ok {
		defer p.Close()
	}
	if cfg.Queue.Enabled && cfg.Queue.ConsumerEnabled {
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.Queue, lg); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}

	users := repository.NewUserRepo(db)
	links := service.NewMagicLinkStore(repository.NewMagicLinkRepo(db), cfg.MagicLinkTTL)
	refresh := service.NewRefreshTokenStore(repository.NewTokenRepo(db), cfg.RefreshTTL)
	codec := utils.NewAccessCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)

	authSvc := service.NewAuthService(users, links, refresh, codec, mail.New(cfg.Mail, lg), audit, service.AuthConfig{
		AppURL:             cfg.AppURL,
		LoginRequestCap:    cfg.LoginRequestCap,
		LoginRequestWindow: cfg.LoginRequestWindow,
		UniformDelayMin:    cfg.LoginUniformDelayMin,
		UniformDelayMax:    cfg.LoginUniformDelayMax,
		MailTimeout:        cfg.Mail.Timeout,
	}, lg)
	maint := service.NewMaintenance(links, refresh, cfg.MagicLinkRetention, cfg.RefreshRetention, audit, lg)

	e, err := router.NewEcho(cfg)
	if err != nil {
		lg.Fatal("http server", zap.Error(err))
	}
	e.Use(echomw.Recover())
	e.Use(logger.EchoRequestLogger(lg))

	guards := router.NewGuards(cfg, authSvc, limiter, lg)
	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(authSvc, lg), guards)
	router.RegisterMaintenance(e, handler.NewMaintenanceHandler(maint, lg), guards)

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", zap.Error(err))
	}
	if err := authSvc.Wait(shutdownCtx); err != nil {
		lg.Warn("pending magic link deliveries abandoned", zap.Error(err))
	}
	lg.Info("stopped")
}
