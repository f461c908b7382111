package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/audiosync/internal/api/http"
	"github.com/immxrtalbeast/audiosync/internal/config"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/repository"
	"github.com/immxrtalbeast/audiosync/internal/service"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
	"github.com/immxrtalbeast/audiosync/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	roomRepo := repository.NewInMemoryRoomRepository()

	roomService := service.NewRoomService(roomRepo, log, service.Settings{
		CodeLength: cfg.Room.CodeLength,
		Quality: domain.QualityThresholds{
			Good:   cfg.Heartbeat.GoodLatency,
			Medium: cfg.Heartbeat.MediumLatency,
		},
	})
	monitor := service.NewMonitor(roomService, roomRepo, log, service.MonitorSettings{
		Interval:          cfg.Heartbeat.Interval,
		DisconnectedAfter: cfg.Heartbeat.DisconnectedAfter,
		GraceMultiple:     cfg.Heartbeat.GraceMultiple,
		EmptyRoomTTL:      cfg.Room.EmptyRoomTTL,
	})

	roomController := httpapi.NewRoomController(roomService, log, cfg.Transport)
	router := httpapi.SetupRouter(roomController, cfg.HTTP.AllowOrigins)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
