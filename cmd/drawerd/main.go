// Package main запускает HTTP-сервер движка кассовых смен.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cashdrawer/internal/backoffice"
	"github.com/mmeshcher/cashdrawer/internal/config"
	"github.com/mmeshcher/cashdrawer/internal/handler"
	"github.com/mmeshcher/cashdrawer/internal/localstore"
	"github.com/mmeshcher/cashdrawer/internal/repository"
	"github.com/mmeshcher/cashdrawer/internal/session"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	now := func() time.Time { return time.Now().In(loc) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(cfg, logger)
	if err != nil {
		sugar.Fatalw("backend initialization error", "error", err.Error())
	}
	defer closeBackend()

	store, closeStore, err := openLocalStore(ctx, cfg.LocalStore)
	if err != nil {
		sugar.Fatalw("local store initialization error", "error", err.Error())
	}
	defer closeStore()

	svc, err := session.NewService(session.Dependencies{
		Sessions:       backend,
		Shifts:         backend,
		Sales:          backend,
		PaymentMethods: backend,
		Flags:          localstore.NewFlagStore(store, logger),
		Logger:         logger,
	},
		session.WithClock(now),
		session.WithRefreshInterval(cfg.RefreshInterval),
		session.WithSalesLimit(cfg.SalesLimit),
	)
	if err != nil {
		sugar.Fatalw("service initialization error", "error", err.Error())
	}

	if err := svc.LoadShiftConfig(ctx); err != nil {
		sugar.Warnw("shift config not loaded, will retry on refresh", "error", err.Error())
	}

	h := handler.NewHandler(svc, logger, handler.WithClock(now))

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое обновление состояния кассы
	g.Go(func() error {
		svc.Start(ctx)
		<-ctx.Done()
		svc.Dispose()
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting cash drawer server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openBackend(cfg *config.Config, logger *zap.Logger) (session.Backend, func(), error) {
	switch {
	case cfg.DatabaseURI != "":
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres backend")
		return repo, func() { repo.Close() }, nil
	case cfg.BackofficeAddress != "":
		logger.Info("using back office backend", zap.String("addr", cfg.BackofficeAddress))
		return backoffice.NewClient(cfg.BackofficeAddress, logger), func() {}, nil
	default:
		logger.Warn("no database or back office configured, using in-memory backend")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}

func openLocalStore(ctx context.Context, target string) (localstore.Store, func(), error) {
	switch {
	case strings.HasPrefix(target, "redis://"), strings.HasPrefix(target, "rediss://"):
		store, err := localstore.NewRedisStore(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case target != "":
		store, err := localstore.NewFileStore(target)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return localstore.NewMemoryStore(), func() {}, nil
	}
}
