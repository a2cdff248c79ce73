package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/media"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	signaling "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/consumer"
	"github.com/dkeye/Meet/internal/app/producer"
	"github.com/dkeye/Meet/internal/app/room"
	"github.com/dkeye/Meet/internal/app/transport"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
)

func codecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Signaling.PeerID == "" {
		cfg.Signaling.PeerID = uuid.NewString()
	}
	if cfg.HTTP.Secret == "" {
		cfg.HTTP.Secret = uuid.NewString()
		log.Warn().Msg("http.secret not set, sessions will not survive a restart")
	}

	codecs, err := codecSelector()
	if err != nil {
		log.Fatal().Err(err).Msg("codec setup failed")
	}
	devices := media.NewDevices(codecs)
	screen := media.SelectScreenCapturer(runtime.GOOS, devices)
	log.Info().Str("capturer", screen.Name()).Bool("available", screen.Available()).Msg("screen capture")

	channel := signaling.New(cfg.Signaling)
	tm, err := transport.New(cfg, channel, rtc.NewDevice())
	if err != nil {
		log.Fatal().Err(err).Msg("transport setup failed")
	}
	pm := producer.New(cfg, tm, channel, devices, screen)
	cm := consumer.New(cfg, tm, channel)
	rm := room.New(cfg, channel, tm, pm, cm)

	stream := router.NewEventStream(rm.Events(), pm.Events(), cm.Events(), rm.Spotlight().Events(), tm.Events())
	defer stream.Close()

	rm.Events().Subscribe(func(e core.Event) {
		if ev, ok := e.(room.Closed); ok {
			log.Info().Str("reason", ev.Reason).Msg("room closed")
			cancel()
		}
	})
	rm.Start()

	if err := channel.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("url", cfg.Signaling.URL).Msg("signaling connect failed")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg, rm, stream),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("room", cfg.Signaling.RoomID).Msg("Meet client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
	case <-channel.Done():
	}
	log.Info().Msg("Shutting down")
	rm.Close()
	channel.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
