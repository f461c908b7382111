package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/client"
	"github.com/immxrtalbeast/audiosync/internal/config"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/playback"
	"github.com/immxrtalbeast/audiosync/internal/transport"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
	"github.com/immxrtalbeast/audiosync/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	sampleRate    = 48000
	channels      = 2
	chunkDuration = 20 * time.Millisecond
)

var (
	deviceID = flag.String("device-id", "", "stable device id (random when empty)")
	name     = flag.String("name", "", "device display name")
	create   = flag.Bool("create", false, "create a room and act as its host")
	joinCode = flag.String("join", "", "join the room with this code")
	input    = flag.String("input", "", "raw pcm_s16le 48kHz stereo file to stream as host")
	output   = flag.String("output", "", "file receiving played pcm_s16le samples (discarded when empty)")
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	if *create == (*joinCode != "") {
		log.Error("exactly one of -create or -join is required")
		os.Exit(2)
	}
	if *deviceID == "" {
		*deviceID = uuid.NewString()
	}
	if *name == "" {
		*name, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("device stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	out := io.Discard
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	conn, err := transport.Dial(ctx, cfg.Transport.URL, *deviceID, transport.Options{
		RequestTimeout: cfg.Transport.RequestTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		Log:            log,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	sink := playback.NewWriterSink(out, log, 0)
	scheduler := playback.NewScheduler(sink, log, playback.Settings{
		JitterAllowance: cfg.Playback.JitterAllowance,
		MinBuffer:       cfg.Playback.MinBuffer,
		MaxDelay:        cfg.Playback.MaxDelay,
		FallBehind:      cfg.Playback.FallBehind,
		DiscardSlack:    cfg.Playback.DiscardSlack,
		SafetyMargin:    cfg.Playback.SafetyMargin,
		OnDiagnostic: func(err error) {
			log.Debug("playback diagnostic", sl.Err(err))
		},
	})
	session := client.NewSession(conn, scheduler, log, client.Settings{
		DeviceName:           *name,
		HeartbeatInterval:    cfg.Heartbeat.Interval,
		LatencyProbeInterval: cfg.Heartbeat.LatencyProbeInterval,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sink.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return session.Run(gctx) })

	var room client.RoomView
	if *create {
		room, err = session.CreateRoom(gctx)
	} else {
		room, err = session.JoinRoom(gctx, *joinCode)
	}
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	log.Info("in room", slog.String("code", room.Code), slog.String("room_id", room.ID), slog.Bool("host", room.IsHost))

	if room.IsHost && *input != "" {
		g.Go(func() error { return stream(gctx, session, *input, log) })
	}

	<-gctx.Done()
	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), cfg.Transport.RequestTimeout)
	defer cancelLeave()
	if err := session.LeaveRoom(leaveCtx); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		log.Warn("leave failed", sl.Err(err))
	}
	return g.Wait()
}

// stream sends the input file in real time as the host's source.
func stream(ctx context.Context, session *client.Session, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := session.SetAudioSource(domain.AudioSource{Type: domain.SourceFile, ID: filepath.Base(path)}); err != nil {
		return err
	}
	if err := session.SetPlayback(true, 0); err != nil {
		return err
	}

	meta := playback.Metadata{
		SampleRate:       sampleRate,
		Channels:         channels,
		Encoding:         playback.EncodingPCM16,
		BufferSizeHintMs: int(chunkDuration.Milliseconds()),
	}
	frameBytes := int(chunkDuration.Milliseconds()) * sampleRate / 1000 * channels * 2
	buf := make([]byte, frameBytes)

	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	var timestamp int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			// whole frames only
			n -= n % (channels * 2)
			if err := session.SendAudio(timestamp, buf[:n], meta); err != nil {
				return err
			}
			timestamp += chunkDuration.Milliseconds()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			log.Info("input finished", slog.Int64("duration_ms", timestamp))
			return session.SetPlayback(false, timestamp)
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
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
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
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

	handler := opts.NewPrettyHandler(os.Stderr)

	return slog.New(handler)
}
