package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/yueh-ai/voice-to-text/internal/api"
	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/config"
	"github.com/yueh-ai/voice-to-text/internal/logger"
	"github.com/yueh-ai/voice-to-text/internal/registry"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/telemetry"
	"github.com/yueh-ai/voice-to-text/internal/tracing"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to .env overlay file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(logger.Config{
		Level:  logger.ParseLogLevel(cfg.LogLevel),
		Format: logger.ParseOutputFormat(cfg.LogFormat),
		Output: os.Stdout,
	})
	log.Info("starting transcription server")

	backend, err := buildBackend(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize ASR backend: %v", err)
	}

	models := asr.Init(asr.VADModel{
		Aggressiveness: cfg.VADAggressiveness,
		SampleRate:     cfg.SampleRate,
	}, backend)

	predicate := vad.EnergyPredicate(cfg.VADAggressiveness)

	sessCfg := session.Config{
		SampleRate:        cfg.SampleRate,
		VADFrameMs:        cfg.VADFrameMs,
		VADAggressiveness: cfg.VADAggressiveness,
		EndpointingMs:     cfg.EndpointingMs,
		LatencyMs:         cfg.LatencyMs,
		BytesPerSecond:    cfg.BytesPerSecond(),
	}

	regCfg := registry.Config{
		MaxSessions:                 cfg.MaxSessions,
		IdleTimeoutSeconds:          cfg.IdleTimeoutSeconds,
		InitialSpeechTimeoutSeconds: cfg.InitialSpeechTimeoutSeconds,
		CleanupIntervalSeconds:      cfg.CleanupIntervalSeconds,
	}

	reg := registry.New(models, predicate, sessCfg, regCfg, log.With(logger.ComponentRegistry))
	reg.Start(context.Background())

	shutdownTracing, err := tracing.Init("transcription-service")
	if err != nil {
		log.Fatal("failed to initialize tracing: %v", err)
	}

	collectors := telemetry.NewCollectors(reg, nil)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.New(addr, reg, collectors, log)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Fatal("server error: %v", err)
	case sig := <-sigChan:
		log.Info("received signal %v, shutting down", sig)
	}

	var shutdownErr *multierror.Error
	if err := apiServer.Stop(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("stop api server: %w", err))
	}
	if err := reg.Stop(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("stop registry: %w", err))
	}
	if err := shutdownTracing(context.Background()); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("shutdown tracing: %w", err))
	}
	if err := backend.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, fmt.Errorf("close asr backend: %w", err))
	}

	if shutdownErr.ErrorOrNil() != nil {
		log.Error("errors during shutdown: %v", shutdownErr)
		os.Exit(1)
	}
	log.Info("server stopped cleanly")
}

func buildBackend(cfg config.Settings, log *logger.Logger) (asr.Backend, error) {
	switch cfg.ASREngine {
	case config.EngineReal:
		return asr.NewRealBackend(asr.RealConfig{
			ModelPath: cfg.ModelPath,
			Threads:   cfg.ASRThreads,
			Warmup:    cfg.ASRWarmup,
			Logger:    log.With(logger.ComponentASR),
		})
	case config.EngineMock, "":
		return asr.NewMockBackend(asr.MockConfig{
			BytesPerWord: cfg.BytesPerWord,
			LatencyMs:    cfg.LatencyMs,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported asr_engine %q", cfg.ASREngine)
	}
}
