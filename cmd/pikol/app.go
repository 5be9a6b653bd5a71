package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"Pikol/internal/availability"
	"Pikol/internal/bot"
	"Pikol/internal/config"
	"Pikol/internal/gateway"
	"Pikol/internal/inference"
	"Pikol/internal/persona"
	"Pikol/internal/router"
	"Pikol/internal/session"
	"Pikol/internal/statusapi"
	"Pikol/internal/telemetry"
	"Pikol/internal/transcript"
)

// chatGateway is what the app needs from a transport.
type chatGateway interface {
	Ready() <-chan struct{}
	Run(ctx context.Context, h gateway.Handler) error
	Notify(ctx context.Context, channelID, text string) error
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	gateway  chatGateway
	tracker  *availability.Tracker
	registry *session.Registry
	sweeper  *session.Sweeper
	bot      *bot.Bot
	status   *statusapi.Server
	cleanups []func()
}

func newApp(ctx context.Context, cfg config.Config, gw chatGateway) (*app, error) {
	a := &app{cfg: cfg, gateway: gw}

	logger, closeLog, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, closeLog)

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.cleanups = append(a.cleanups, shutdownTelemetry)

	personas, err := persona.Load(cfg.Roleplay.PersonaFile, cfg.Ollama.MaxResponseLength)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}

	client := inference.New(cfg.Ollama,
		inference.WithLogger(logger),
		inference.WithTelemetry(tracer, meter),
	)

	a.tracker = availability.New(client,
		availability.WithInterval(cfg.Roleplay.HealthInterval),
		availability.WithLogger(logger),
	)

	registryOpts := []session.RegistryOption{
		session.WithMaxHistoryPairs(cfg.Roleplay.MaxHistoryPairs),
		session.WithTimeout(cfg.Roleplay.SessionTimeout),
		session.WithLogger(logger),
	}

	var transcripts statusapi.Transcripts
	if cfg.Transcript.Path != "" {
		store, err := transcript.Open(cfg.Transcript.Path, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.cleanups = append(a.cleanups, func() { _ = store.Close() })
		registryOpts = append(registryOpts, session.WithRemoveHook(store.RemoveHook(nil)))
		transcripts = store
	}

	a.registry = session.NewRegistry(a.tracker, registryOpts...)
	a.sweeper = session.NewSweeper(a.registry, gw,
		session.WithSweepInterval(cfg.Roleplay.SweepInterval),
		session.WithSweepLogger(logger),
	)

	rt := router.New(a.registry, client, a.tracker,
		router.WithCommandPrefix(cfg.Roleplay.CommandPrefix),
		router.WithUnstableNoticeChance(cfg.Roleplay.UnstableNoticeChance),
		router.WithLogger(logger),
		router.WithMeter(meter),
	)

	a.bot = bot.New(bot.Deps{
		Registry:     a.registry,
		Router:       rt,
		Personas:     personas,
		Models:       client,
		Availability: a.tracker,
		Prefix:       cfg.Roleplay.CommandPrefix,
		Logger:       logger,
	})

	if cfg.Status.Addr != "" {
		a.status = statusapi.New(cfg.Status.Addr, client, a.tracker, a.registry, transcripts, logger)
	}

	logger.Info("pikol initialized",
		"ollama", cfg.Ollama.BaseURL(),
		"model", cfg.Ollama.Model,
		"personas", personas.Names(),
	)
	return a, nil
}

// run starts the background loops and the gateway. The loops wait for the
// gateway to become ready; everything stops when the gateway returns or ctx
// is cancelled.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("background task stopped", "task", name, "error", err)
			}
		}()
	}

	ready := a.gateway.Ready()
	start("availability", func(ctx context.Context) error { return a.tracker.Run(ctx, ready) })
	start("sweeper", func(ctx context.Context) error { return a.sweeper.Run(ctx, ready) })
	if a.status != nil {
		start("status", a.status.Run)
	}

	err := a.gateway.Run(ctx, a.bot)
	cancel()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		a.logger.Info("pikol shutting down")
		return nil
	}
	return err
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
