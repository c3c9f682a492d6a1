package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lemond/internal/backend"
	"lemond/internal/config"
	"lemond/internal/httpapi"
	"lemond/internal/manager"
	"lemond/internal/process"
	"lemond/internal/registry"
	"lemond/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func lookupEnv(k string) (string, bool) { return os.LookupEnv(k) }

func serve(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	reg, err := registry.Load(cfg.ModelsFile, cfg.ModelsDir, cfg.UserModelsFile)
	if err != nil {
		return fmt.Errorf("load model catalog: %w", err)
	}
	log.Info().Int("models", len(reg.List())).Msg("model catalog loaded")

	mcfg := managerConfig(cfg, reg, log)
	for _, c := range mcfg.Backend.SanityCheck() {
		if !c.Found {
			log.Warn().Str("backend", c.Backend).Str("path", c.Path).Str("error", c.Error).Msg("backend executable unavailable")
		}
	}
	mgr := manager.NewWithConfig(mcfg)
	configureHTTP(cfg, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	shutdownReq := make(chan struct{})
	var once sync.Once
	httpapi.SetShutdownFunc(func() { once.Do(func() { close(shutdownReq) }) })

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("lemond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case <-shutdownReq:
		log.Info().Msg("shutdown requested over HTTP")
	case serveErr = <-errc:
		log.Error().Err(serveErr).Msg("server error")
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	// Anything still streaming after the grace period is cut off here.
	cancelBase()
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("stopping backends")
	}
	log.Info().Msg("stopped")
	return serveErr
}

// newLogger builds the process logger from level and format settings.
func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, err
	}
	switch strings.ToLower(format) {
	case "json", "":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("unsupported log format %q", format)
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl), nil
}

func configureHTTP(cfg config.Config, log zerolog.Logger) {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetMaxUploadBytes(cfg.MaxUploadBytes)
	httpapi.SetInferTimeout(cfg.InferTimeout.Std())
	if cfg.RequestLog != "" {
		httpapi.SetRequestLogLevel(cfg.RequestLog)
	}
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)
}

// managerConfig translates the flat service config into pool and backend settings.
func managerConfig(cfg config.Config, reg manager.Catalog, log zerolog.Logger) manager.ManagerConfig {
	capacity := make(map[types.Category]int, len(cfg.MaxLoadedModels))
	for k, n := range cfg.MaxLoadedModels {
		capacity[types.Category(k)] = n
	}
	timeouts := make(map[types.Recipe]time.Duration, len(cfg.LoadTimeouts))
	for k, d := range cfg.LoadTimeouts {
		timeouts[types.Recipe(k)] = d.Std()
	}
	return manager.ManagerConfig{
		Registry:        reg,
		Capacity:        capacity,
		DefaultCapacity: cfg.DefaultCapacity,
		CapacityWait:    cfg.CapacityWait.Std(),
		DrainTimeout:    cfg.DrainTimeout.Std(),
		StopTimeout:     cfg.StopTimeout.Std(),
		Logger:          log.With().Str("component", "manager").Logger(),
		Backend: backend.Config{
			LlamaServerBin:  cfg.LlamaCppBin,
			LlamaServerBins: cfg.LlamaCppBins,
			FLMBin:          cfg.FLMBin,
			RyzenAIBin:      cfg.RyzenAIBin,
			WhisperBin:      cfg.WhisperBin,
			LlamaBackend:    cfg.LlamaCppBackend,
			LlamaArgs:       strings.Fields(cfg.LlamaCppArgs),
			CtxSize:         cfg.CtxSize,
			Ports:           process.NewPortAllocator(cfg.Host, cfg.PortStart, cfg.PortEnd),
			HealthInterval:  cfg.HealthInterval.Std(),
			LoadTimeout:     cfg.LoadTimeout.Std(),
			LoadTimeouts:    timeouts,
			RequestTimeout:  cfg.RequestTimeout.Std(),
		},
	}
}

// parseCapacities accepts "N" (every category) or "llm=N,embedding=N,...".
func parseCapacities(s string) (map[string]int, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		out := make(map[string]int, len(types.Categories))
		for _, c := range types.Categories {
			out[string(c)] = n
		}
		return out, nil
	}
	out := make(map[string]int)
	for _, pair := range config.SplitCSV(s) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("max-loaded-models: expected category=N, got %q", pair)
		}
		k = strings.TrimSpace(k)
		if !types.Category(k).Valid() {
			return nil, fmt.Errorf("max-loaded-models: unknown category %q", k)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("max-loaded-models: %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
