package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/callMemo/internal/caller"
	"github.com/pathakanu/callMemo/internal/config"
	"github.com/pathakanu/callMemo/internal/database"
	"github.com/pathakanu/callMemo/internal/health"
	"github.com/pathakanu/callMemo/internal/logging"
	myopenai "github.com/pathakanu/callMemo/internal/openai"
	"github.com/pathakanu/callMemo/internal/provider"
	"github.com/pathakanu/callMemo/internal/reconcile"
	"github.com/pathakanu/callMemo/internal/scheduler"
	"github.com/pathakanu/callMemo/internal/stats"
	"github.com/pathakanu/callMemo/internal/store"
	"github.com/pathakanu/callMemo/internal/twilio"
	"github.com/pathakanu/callMemo/internal/vapi"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", true)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	for _, w := range cfg.Warnings {
		logger.Warn().Msg(w)
	}

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database init failed")
	}
	st := store.New(db)

	callProvider := newProvider(cfg)
	openAIClient := myopenai.New(cfg.OpenAIAPIKey)
	logger.Info().Str("provider", callProvider.Name()).Bool("openai", openAIClient.Enabled()).Msg("providers configured")

	orchestrator := caller.New(st, callProvider, openAIClient, caller.Options{
		AssistantID:   cfg.VapiAssistantID,
		PhoneNumberID: cfg.VapiPhoneNumber,
		Timeout:       cfg.ProviderTimeout,
		Location:      cfg.LocalTimezone,
	}, logger)
	reconciler := reconcile.New(st, callProvider, reconcile.Options{
		Concurrency: cfg.ReconcileConcurrency,
		RatePerSec:  cfg.ReconcileRatePerSec,
		Timeout:     cfg.ProviderTimeout,
		Greeting:    cfg.VoicemailGreeting,
	}, logger)

	driver := scheduler.New(st, orchestrator, reconciler, scheduler.Options{
		Location:   cfg.LocalTimezone,
		MinuteSpec: cfg.MinuteTickSpec,
		HourlySpec: cfg.HourlyTickSpec,
	}, logger)
	if err := driver.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(stats.New(st), callProvider.Name(), logger))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	waitForShutdown(server, driver, logger)
}

func newProvider(cfg *config.Config) provider.Provider {
	if cfg.CallProvider == config.ProviderTwilio {
		return twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioCaller, cfg.VoicemailGreeting)
	}
	return vapi.New(cfg.VapiAPIURL, cfg.VapiPrivateKey, nil)
}

func waitForShutdown(server *http.Server, driver *scheduler.Driver, logger zerolog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	driver.Stop(ctx)
}
