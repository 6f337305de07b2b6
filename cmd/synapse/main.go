// Package main provides the entry point for the synapse service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/synapse/internal/config"
	"github.com/thebtf/synapse/internal/llm"
	"github.com/thebtf/synapse/internal/worker"
	"github.com/thebtf/synapse/pkg/client"
)

var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	wait := flag.Duration("wait", 0, "With healthcheck, wait up to this long for readiness")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-debug] [-wait duration] [healthcheck]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.EnsureAll(); err != nil {
		log.Warn().Err(err).Msg("Failed to prepare data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if flag.Arg(0) == "healthcheck" {
		os.Exit(healthcheck(cfg, *wait))
	}

	log.Info().
		Str("version", Version).
		Int("port", cfg.Port).
		Msg("Starting synapse")

	svc := worker.NewService(Version, cfg, dependencies(cfg), log.Logger)

	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start service")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("Synapse shutdown complete")
}

// healthcheck queries a running service on the configured port and returns
// the process exit code.
func healthcheck(cfg *config.Config, wait time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), wait+client.StartupTimeout)
	defer cancel()

	c := client.ForPort(cfg.Port, cfg.APIToken)
	if wait > 0 {
		if err := c.WaitReady(ctx, wait); err != nil {
			log.Error().Err(err).Int("port", cfg.Port).Msg("Service did not become ready")
			return 1
		}
	}
	h, err := c.Health(ctx)
	if err != nil {
		log.Error().Err(err).Int("port", cfg.Port).Msg("Service unreachable")
		return 1
	}
	if h.Status != "ready" {
		log.Warn().Str("status", h.Status).Msg("Service not ready")
		return 1
	}
	if !client.VersionsCompatible(h.Version, Version) {
		log.Warn().
			Str("running", h.Version).
			Str("expected", Version).
			Msg("Version mismatch")
	}
	log.Info().
		Str("version", h.Version).
		Str("uptime", h.Uptime).
		Msg("Service healthy")
	return 0
}

// dependencies builds the optional LLM collaborators. A disabled or
// unreachable provider leaves clustering on keyword names.
func dependencies(cfg *config.Config) worker.Dependencies {
	deps := worker.Dependencies{SettingsPath: config.SettingsPath()}

	llmCfg := llm.Config{
		Provider:       cfg.LLMProvider,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
		BaseURL:        cfg.LLMBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
	}

	model, err := llm.NewModel(llmCfg)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		log.Info().Msg("LLM naming disabled")
	case err != nil:
		log.Warn().Err(err).Msg("LLM naming unavailable")
	default:
		namer, err := llm.NewNamer(model, cfg.NamerTokenBudget, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("LLM namer unavailable")
		} else {
			deps.Namer = namer
		}
	}

	embedder, err := llm.NewEmbedder(llmCfg, log.Logger)
	switch {
	case errors.Is(err, llm.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("Embedding service unavailable")
	default:
		deps.Embedder = embedder
	}

	return deps
}
