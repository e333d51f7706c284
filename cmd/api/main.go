package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/socratic-spark/backend/internal/app"
	"github.com/zhouzirui/socratic-spark/backend/internal/config"
	"github.com/zhouzirui/socratic-spark/backend/internal/handler"
	"github.com/zhouzirui/socratic-spark/backend/internal/logger"
	"github.com/zhouzirui/socratic-spark/backend/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()
	zap.ReplaceGlobals(logg)

	if envErr != nil {
		logg.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}
	logg.Info("configuration loaded", cfg.Fields()...)

	collector := metrics.New()

	lessons, err := app.NewLessonService(ctx, cfg, collector, logg)
	if err != nil {
		logg.Fatal("failed to initialize lesson service", zap.Error(err))
	}
	go lessons.Run(ctx, cfg.Lesson.SweepInterval, cfg.Lesson.IdleTTL)

	router := handler.NewRouter(cfg.Server, lessons, collector, logg)

	startServer(ctx, cfg.Server, router, logg)
	lessons.Shutdown()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logg *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: serverCfg.ReadTimeout,
		IdleTimeout:       serverCfg.IdleTimeout,
	}

	logg.Info("Socratic Spark backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logg.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
