package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/engage/internal/api"
	"github.com/gyaneshwarpardhi/engage/internal/beacon"
	"github.com/gyaneshwarpardhi/engage/internal/clock"
	"github.com/gyaneshwarpardhi/engage/internal/config"
	"github.com/gyaneshwarpardhi/engage/internal/host"
	"github.com/gyaneshwarpardhi/engage/internal/kv"
	xlog "github.com/gyaneshwarpardhi/engage/internal/log"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/engage.yaml", "Path to engage YAML config")
	level := flag.String("log-level", "", "Log level (overrides log.level and LOG_LEVEL)")
	flag.Parse()

	xlog.Configure(xlog.Config{Level: *level})
	logger := xlog.WithComponent("server")

	if err := run(*cfgPath, *addr, *level, logger); err != nil {
		logger.Error().Err(err).Msg("engage stopped")
		os.Exit(1)
	}
	logger.Info().Msg("goodbye")
}

func run(cfgPath, addrFlag, levelFlag string, logger zerolog.Logger) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(cfgPath, xlog.WithComponent("config"))
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if levelFlag == "" {
		xlog.SetLevel(cfg.Log.Level)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("backend", cfg.Storage.Backend).Msg("storage ready")

	// ── Beacons ──────────────────────────────────────────────────────────────
	transport, err := newTransport(cfg.Beacon)
	if err != nil {
		return err
	}
	sender := beacon.NewSender(context.Background(), transport, beacon.Config{
		Workers:     cfg.Beacon.Workers,
		QueueDepth:  cfg.Beacon.QueueDepth,
		FlushWindow: cfg.Beacon.FlushWindow,
		Timeout:     cfg.Beacon.Timeout(),
	}, xlog.WithComponent("beacon"))
	logger.Info().Str("transport", cfg.Beacon.Transport).Int("workers", cfg.Beacon.Workers).Msg("beacon sender started")

	// ── Host ─────────────────────────────────────────────────────────────────
	h := host.New(host.Config{
		TickInterval:      cfg.Engine.TickInterval(),
		IdleTimeout:       cfg.Engine.IdleTimeout(),
		MilestoneInterval: cfg.Engine.MilestoneIntervalSec,
		ExitThreshold:     cfg.Engine.ExitIntentThresholdPx,
	}, host.Deps{
		Clock:  clock.Real{},
		Store:  store,
		Sender: sender,
		Policy: policy,
		Logger: xlog.WithComponent("host"),
	})

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		p, err := newCfg.Policy()
		if err != nil {
			logger.Warn().Err(err).Msg("hot-reload skipped: prompt rules invalid")
			return
		}
		h.SetPolicy(p)
		if levelFlag == "" {
			xlog.SetLevel(newCfg.Log.Level)
		}
		logger.Info().Int("prompts", len(p.Rules())).Msg("prompt rules hot-reloaded")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable (hot-reload disabled)")
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	listen := cfg.Server.Addr
	if addrFlag != "" {
		listen = addrFlag
	}
	srv := &http.Server{
		Addr: listen,
		Handler: api.New(api.Deps{
			Host:      h,
			Beacons:   sender,
			Loader:    loader,
			Logger:    xlog.WithComponent("api"),
			RateLimit: cfg.Server.RateLimitPerMinute,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", listen).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return h.Run(gctx)
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if _, err := loader.Reload(); err != nil {
					logger.Warn().Err(err).Msg("config reload failed")
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down…")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	// Run has flushed every context by now; deliver what is queued.
	if cerr := sender.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("beacon transport close failed")
	}
	return err
}

func openStore(ctx context.Context, c config.StorageConf) (kv.Store, error) {
	switch c.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		s, err := kv.OpenSQLite(c.Path, c.BusyTimeout())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		r, err := kv.NewRedis(ctx, kv.RedisConfig{
			Addr:      c.RedisAddr,
			Password:  c.RedisPassword,
			DB:        c.RedisDB,
			KeyPrefix: c.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case "memory":
		return kv.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
}

func newTransport(c config.BeaconConf) (beacon.Transport, error) {
	switch c.Transport {
	case "http":
		return beacon.NewHTTPTransport(c.Endpoint, c.Timeout(), nil), nil
	case "kafka":
		return beacon.NewKafkaTransport(c.Brokers, c.Topic, c.Timeout()), nil
	case "nop":
		return beacon.NopTransport{}, nil
	}
	return nil, fmt.Errorf("unknown beacon transport %q", c.Transport)
}
