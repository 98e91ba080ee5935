package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Roulette/internal/adapters/api"
	router "github.com/dkeye/Roulette/internal/adapters/http"
	"github.com/dkeye/Roulette/internal/adapters/realtime"
	"github.com/dkeye/Roulette/internal/adapters/rtc"
	"github.com/dkeye/Roulette/internal/adapters/store"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/matching"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/metrics"
)

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
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	kv, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open store")
	}
	defer kv.Close()

	deviceID, err := store.DeviceID(ctx, kv, store.DeviceIDKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve device id")
	}
	log.Info().Str("device_id", deviceID).Str("user_id", cfg.UserID).Msg("identity loaded")

	metrics.Register(prometheus.DefaultRegisterer)

	clk := clock.New()
	backend := api.New(cfg.API.BaseURL, cfg.API.AuthToken, deviceID, cfg.API.RequestTimeout)
	bus := realtime.New(realtime.Options{
		URL:            cfg.Realtime.URL,
		Token:          cfg.API.AuthToken,
		DeviceID:       deviceID,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
		PingPeriod:     cfg.Realtime.PingPeriod,
		ReadLimit:      cfg.Realtime.ReadLimit,
	})
	defer bus.Close()

	coord := matching.New(matching.Config{
		LocalUserID:  domain.UserID(cfg.UserID),
		SearchDelay:  cfg.Matching.SearchDelay,
		RematchDelay: cfg.Matching.RematchDelay,
		AutoRematch:  cfg.Matching.AutoRematch,
	}, backend, bus, clk)
	defer coord.Close()

	o := &orch.Orchestrator{
		Matching: coord,
		API:      backend,
		NewTransport: func() core.CallTransport {
			return rtc.New(rtc.Options{
				SignalURL:      cfg.RTC.SignalURL,
				ICEServers:     cfg.RTC.ICEServers,
				ConnectTimeout: cfg.Realtime.ConnectTimeout,
			})
		},
		Policy:     app.SimplePolicy{},
		Clock:      clk,
		CallConfig: callConfig(cfg),
	}
	go o.Run(ctx)

	r := router.SetupRouter(ctx, cfg, o, clk)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Roulette client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func callConfig(cfg *config.Config) call.Config {
	cc := call.DefaultConfig()
	cc.TotalBudget = cfg.Call.TotalBudget
	cc.ReservationThreshold = cfg.Call.ReservationThreshold
	cc.TickInterval = cfg.Call.TickInterval
	cc.GraceWindow = cfg.Call.GraceWindow
	cc.GracePoll = cfg.Call.GracePoll
	cc.LivenessTimeout = cfg.Call.LivenessTimeout
	cc.LivenessPoll = cfg.Call.LivenessInterval
	cc.MemberLabel = cfg.UserID
	if cfg.RTC.VoiceOnly {
		cc.Media = []core.MediaKind{core.MediaAudio}
	}
	return cc
}
