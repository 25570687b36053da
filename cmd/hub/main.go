package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/transferval/internal/api"
	"github.com/punchamoorthee/transferval/internal/config"
	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/service"
	"github.com/punchamoorthee/transferval/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Env == "development",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Audit trail
	var audit store.AuditStore = store.NewMemoryStore()
	if cfg.DBSource != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
		if err != nil {
			logger.Fatal("Unable to connect to database", zap.Error(err))
		}
		defer pg.Close()
		audit = pg
	} else {
		logger.Warn("db_source not set, audit records kept in memory")
	}
	audit = store.NewResilientStore(audit, store.DefaultBreakerConfig())

	// Multi-hub arbitration
	var arbiter service.Arbiter
	if cfg.Redis.Addr != "" {
		ra, err := service.NewRedisArbiter(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("Unable to connect to redis", zap.Error(err))
		}
		defer ra.Close()
		arbiter = ra
	}

	svc := service.NewValidationService(service.Config{
		ValidationTimeout: cfg.Hub.ValidationTimeout,
		AuditTimeout:      cfg.Hub.AuditTimeout,
		Accounts:          domain.NewAccountSet(cfg.Accounts...),
	}, audit, arbiter, logger)
	defer svc.Close()

	handler := api.NewHandler(svc, audit, api.Options{
		ReadTimeout:  cfg.Hub.ReadTimeout,
		WriteTimeout: cfg.Hub.WriteTimeout,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Hub starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env), zap.Strings("accounts", cfg.Accounts))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Hub shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		handler.CloseSessions()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Hub stopped with error", zap.Error(err))
	}
}
