package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sorag20/Unirep/internal/config"
	"github.com/sorag20/Unirep/internal/ingest"
	"github.com/sorag20/Unirep/internal/ipc"
	"github.com/sorag20/Unirep/internal/synchronizer"
	izk "github.com/sorag20/Unirep/internal/zkproof"
)

// Daemon states.
const (
	StateIdle      = "idle"
	StateReplaying = "replaying"
	StateFollowing = "following"
	StateStopped   = "stopped"
)

// Daemon replays the event logs into the ledgers and serves queries.
type Daemon struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	syncer   *synchronizer.Synchronizer

	server  *ipc.Server
	watcher *ingest.Watcher
	metrics *http.Server

	state   string
	stateMu sync.RWMutex
}

// NewDaemon restores the checkpoint and prepares the daemon. Nothing is
// served until Run.
func NewDaemon(cfg config.Config, log *zap.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := synchronizer.New(synchronizer.Params{
		Config:        cfg.Circuit,
		CheckpointDir: cfg.Storage.CheckpointDir,
		Registerer:    registry,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		log:      log,
		registry: registry,
		syncer:   s,
		state:    StateIdle,
	}, nil
}

// State returns the current daemon state.
func (d *Daemon) State() string {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Daemon) setState(state string) {
	d.stateMu.Lock()
	d.state = state
	d.stateMu.Unlock()
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.Ingest.EventDir, 0700); err != nil {
		return err
	}

	events := make(chan ingest.FileEvent, d.cfg.Ingest.BufferSize)
	watcher, err := ingest.NewWatcher(d.cfg.Ingest.EventDir, events)
	if err != nil {
		return err
	}
	watcher.SetExtension(d.cfg.Ingest.Extension)
	watcher.SetErrorCallback(func(err error) {
		d.log.Error("watcher error", zap.Error(err))
	})
	d.watcher = watcher

	// Scan after the watcher is registered so no log written in between
	// is missed.
	logs, err := watcher.Scan()
	if err != nil {
		watcher.Close()
		return err
	}

	server, err := ipc.NewServer(ipc.ServerParams{
		SocketPath: d.cfg.IPC.Socket,
		Ledgers:    d.syncer.Registry(),
		Capability: izk.NewCapability(d.cfg.Circuit, d.cfg.Prover.Enabled),
		Logger:     d.log,
	})
	if err != nil {
		watcher.Close()
		return err
	}
	d.server = server

	serverErr := make(chan error, 2)
	go func() {
		d.log.Info("starting IPC server", zap.String("socket", d.cfg.IPC.Socket))
		serverErr <- server.Start()
	}()
	if d.cfg.Metrics.Listen != "" {
		d.startMetrics(serverErr)
	}

	go watcher.Start(ctx)

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	syncErr := make(chan error, 1)
	go func() {
		syncErr <- d.follow(syncCtx, logs, events)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.log.Info("shutting down daemon")
		runErr = <-syncErr
	case err := <-serverErr:
		d.log.Error("server error", zap.Error(err))
		cancel()
		<-syncErr
		runErr = err
	case err := <-syncErr:
		runErr = err
	}

	d.shutdown()
	return runErr
}

// follow replays the existing logs and then hands the event stream to the
// synchronizer.
func (d *Daemon) follow(ctx context.Context, logs []string, events <-chan ingest.FileEvent) error {
	d.setState(StateReplaying)
	var applied, rejected int
	for _, p := range logs {
		a, r, err := d.syncer.ReadLog(p)
		if err != nil {
			return fmt.Errorf("replay %s: %w", p, err)
		}
		applied += a
		rejected += r
	}
	d.log.Info("replay complete",
		zap.Int("logs", len(logs)),
		zap.Int("applied", applied),
		zap.Int("rejected", rejected),
	)

	d.setState(StateFollowing)
	return d.syncer.Run(ctx, nil, events)
}

func (d *Daemon) startMetrics(errs chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(d.State()))
	})
	d.metrics = &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		d.log.Info("serving metrics", zap.String("listen", d.cfg.Metrics.Listen))
		if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
}

func (d *Daemon) shutdown() {
	if d.watcher != nil {
		d.watcher.Close()
		if dropped := d.watcher.DroppedEventCount(); dropped > 0 {
			d.log.Warn("file events dropped", zap.Int64("count", dropped))
		}
	}
	if d.server != nil {
		d.server.Stop()
	}
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.metrics.Shutdown(ctx)
	}
	d.setState(StateStopped)
}
