// Package service assembles a running switchboard from its configuration:
// storage, the handler registry, the dispatcher and the outer surfaces.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/artifact"
	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/lock"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/progress"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/watch"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

// pruneInterval is how often the call log is trimmed to its retention.
const pruneInterval = time.Hour

// Options carries what the command line decides rather than the config file.
type Options struct {
	// Dialog answers host.ShowDialog. Nil publishes the request on the event
	// hub and declines.
	Dialog capability.Dialog
	Window string
	// Sink receives progress for every load.
	Sink   progress.Sink
	Logger *slog.Logger
}

// Service owns every long-lived component. Open it, Reload at least once,
// then Serve or Dispatch; Close releases everything.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	lock       *lock.Lock
	db         *sql.DB
	journal    *journal.Store
	artifacts  *artifact.FSStore
	metrics    *metrics.Metrics
	hub        *events.Hub
	registry   *loader.Registry
	dispatcher *bridge.Dispatcher

	quit     chan struct{}
	quitOnce sync.Once
}

// Open acquires the artifact directory lock, opens the state database and
// builds an empty registry.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("service")
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		hub:     events.NewHub(0),
		quit:    make(chan struct{}),
	}

	if err := storage.RequireLocal(cfg.Runtime.ArtifactDir, "runtime.artifact_dir"); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(cfg.Runtime.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("acquire lock (another instance may be running): %w", err)
	}
	s.lock = l

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("open state database: %w", err)
	}
	s.db = db
	s.journal = journal.NewStore(db)

	s.artifacts, err = artifact.NewFSStore(cfg.Runtime.ArtifactDir)
	if err != nil {
		_ = db.Close()
		_ = l.Release()
		return nil, err
	}

	dialog := opts.Dialog
	if dialog == nil {
		dialog = &capability.HubDialog{Hub: s.hub}
	}
	caps := &capability.Capabilities{
		Dialog: dialog,
		Window: opts.Window,
		Rand:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		Quit:   s.requestQuit,
		Logger: log.WithComponent("snippet"),
	}

	s.registry = loader.New(loader.Options{
		Capabilities: caps,
		Sink:         progress.Fanout(s.hub, progress.LogSink(log.WithComponent("loader")), opts.Sink),
		Journal:      s.journal,
		Artifacts:    s.artifacts,
		Metrics:      s.metrics,
		Logger:       log.WithComponent("loader"),
	})
	s.dispatcher = bridge.New(s.registry, bridge.Options{
		Policy:  bridge.FailurePolicy(cfg.Runtime.RuntimeFailure),
		Timeout: cfg.Runtime.CallTimeout,
		Journal: s.journal,
		Metrics: s.metrics,
		Logger:  log.WithComponent("bridge"),
	})

	logger.Info("service opened",
		"functions", cfg.Functions.Path,
		"state", cfg.State.Path,
		"artifacts", cfg.Runtime.ArtifactDir,
	)
	return s, nil
}

func (s *Service) Config() *config.Config { return s.cfg }
func (s *Service) Registry() *loader.Registry { return s.registry }
func (s *Service) Dispatcher() *bridge.Dispatcher { return s.dispatcher }
func (s *Service) Hub() *events.Hub { return s.hub }
func (s *Service) Journal() *journal.Store { return s.journal }
func (s *Service) Artifacts() *artifact.FSStore { return s.artifacts }
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Reload re-reads the functions document and swaps it in. The previous
// version keeps serving when the load fails.
func (s *Service) Reload(ctx context.Context) (*loader.Version, error) {
	return s.ReloadWith(ctx, nil)
}

// ReloadWith is Reload with an extra progress sink for this load only.
func (s *Service) ReloadWith(ctx context.Context, sink progress.Sink) (*loader.Version, error) {
	v, err := s.registry.LoadDocument(ctx, s.cfg.Functions.Path, s.cfg.Functions.ReadFunctions, sink)
	if err != nil {
		s.hub.Publish(events.TypeLoad, map[string]any{"ok": false, "error": err.Error()})
		return nil, err
	}
	s.hub.Publish(events.TypeLoad, map[string]any{
		"ok":         true,
		"version":    v.ID(),
		"hash":       v.Hash(),
		"operations": v.Operations(),
	})
	return v, nil
}

// Dispatch runs one call against the active version.
func (s *Service) Dispatch(ctx context.Context, operation string, args []string) (bridge.Result, error) {
	return s.dispatcher.Dispatch(ctx, operation, args)
}

// Quit is closed when an operation calls host.Quit.
func (s *Service) Quit() <-chan struct{} { return s.quit }

func (s *Service) requestQuit() {
	s.quitOnce.Do(func() {
		s.logger.Info("quit requested by operation")
		close(s.quit)
	})
}

// Serve runs the enabled surfaces until ctx is cancelled, an operation asks
// to quit, or a surface fails.
func (s *Service) Serve(ctx context.Context) error {
	var hooks *webhook.Server
	if wc := s.cfg.Webhooks; wc != nil && len(wc.Endpoints) > 0 {
		hc, err := webhook.FromGlobalConfig(wc)
		if err != nil {
			return fmt.Errorf("webhooks: %w", err)
		}
		hooks = webhook.New(hc, s, s, log.WithComponent("webhook"))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-s.quit:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if s.cfg.API.Enabled {
		server := api.New(api.Config{
			Listen: s.cfg.API.Listen,
			APIKey: s.cfg.API.Auth.APIKey,
			Tokens: s.cfg.API.Auth.TokenConfigs(),
		}, s.dispatcher, s.registry, s, s.hub, s.metrics, log.WithComponent("api"))
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}

	if hooks != nil {
		g.Go(func() error {
			if err := hooks.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("webhooks: %w", err)
			}
			return nil
		})
	}

	if s.cfg.Functions.Watch {
		w := watch.New(s.cfg.Functions.Path, s.cfg.Functions.Debounce, func(ctx context.Context) error {
			_, err := s.Reload(ctx)
			return err
		}, log.WithComponent("watch"))
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		})
	}

	if s.cfg.Runtime.CallLogRetention > 0 {
		g.Go(func() error {
			s.pruneLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		s.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	n, err := s.journal.PruneCalls(ctx, s.cfg.Runtime.CallLogRetention)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to prune call log", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("pruned call log", "rows", n)
	}
}

// Close drains in-flight calls (bounded by runtime.drain_timeout), wipes the
// artifact and releases storage and the lock.
func (s *Service) Close(ctx context.Context) error {
	s.hub.Publish(events.TypeShutdown, map[string]any{"at": time.Now().UTC()})

	drainCtx := ctx
	if s.cfg.Runtime.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, s.cfg.Runtime.DrainTimeout)
		defer cancel()
	}

	var errs []error
	if err := s.registry.Close(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := s.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}
