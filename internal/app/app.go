// Package app wires the pipeline: gRPC ingest fans out to the detection
// engine and the storage pool over bounded channels, findings are
// re-injected into storage, and a single cancellation drains everything
// within the configured deadline.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/striemhq/striem/internal/alerts"
	"github.com/striemhq/striem/internal/api"
	"github.com/striemhq/striem/internal/config"
	"github.com/striemhq/striem/internal/detect"
	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/ingest"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/registry"
	"github.com/striemhq/striem/internal/schema"
	"github.com/striemhq/striem/internal/storage"
)

// ErrStorage marks unrecoverable storage failures; main exits 2 on it.
var ErrStorage = errors.New("storage failure")

// App owns every long-lived component and the channels between them.
type App struct {
	cfg *config.Config
	log *logging.Logger

	reg        *registry.Registry
	alertStore *alerts.Store
	pool       *storage.Pool
	engine     *detect.Engine
	server     *ingest.Server

	detectCh   chan []*event.Event
	storeCh    chan []*event.Event
	outboundCh chan []*event.Event
}

// New constructs the application from parsed configuration. Rules are loaded
// eagerly so invalid setups fail at boot.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	rulesDir := ""
	if len(cfg.Detections) > 0 {
		rulesDir = cfg.Detections[0]
	}
	a.reg = registry.New(rulesDir, cfg.API.DataDir, log)
	if len(cfg.Detections) > 0 {
		count, err := a.reg.LoadDir(cfg.Detections...)
		if err != nil {
			return nil, fmt.Errorf("%w: load detections: %v", config.ErrConfig, err)
		}
		log.Info("loaded detection rules", logging.Count(count))
	} else {
		log.Warn("no detection rules configured")
	}

	queue := cfg.Input.Vector.QueueSize
	if queue <= 0 {
		queue = 256
	}
	a.detectCh = make(chan []*event.Event, queue)
	a.storeCh = make(chan []*event.Event, queue)

	if cfg.Storage.Enabled() {
		catalog, err := schema.Load(cfg.Storage.Schema)
		if err != nil {
			return nil, fmt.Errorf("%w: load storage schema: %v", config.ErrConfig, err)
		}
		opts := storage.DefaultOptions(cfg.Storage.Path)
		if cfg.Storage.MaxRows > 0 {
			opts.MaxRows = cfg.Storage.MaxRows
		}
		if cfg.Storage.MaxBytes > 0 {
			opts.MaxBytes = cfg.Storage.MaxBytes
		}
		if cfg.Storage.MaxAge > 0 {
			opts.MaxAge = cfg.Storage.MaxAge
		}
		if cfg.Storage.DateGrain > 0 {
			opts.DateGrain = cfg.Storage.DateGrain
		}
		a.pool = storage.NewPool(catalog, opts, log)
	}

	if cfg.Output.Vector.URL != "" || cfg.Output.Webhook.URL != "" {
		a.outboundCh = make(chan []*event.Event, queue)
	}

	a.alertStore = alerts.NewStore(0)
	a.engine = detect.NewEngine(a.reg, a.storeCh, a.outboundCh, a.alertStore, log)
	a.server = ingest.NewServer(a.detectCh, a.storeCh, cfg.Input.Vector.AdmissionDeadline, log)
	return a, nil
}

// Registry exposes the rule and source registry.
func (a *App) Registry() *registry.Registry { return a.reg }

// Run blocks until ctx is cancelled and the pipeline has drained.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var storageErr error

	// storage and detection run against their channels and exit when those
	// close during drain, so they get a background context
	if a.pool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.pool.Run(context.Background(), a.storeCh); err != nil {
				storageErr = fmt.Errorf("%w: %v", ErrStorage, err)
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainChannel(a.storeCh)
		}()
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		a.engine.Run(context.Background(), a.detectCh)
	}()

	var sinkWg sync.WaitGroup
	if a.outboundCh != nil {
		a.startOutbound(ctx, &sinkWg)
	}

	var apiServer *http.Server
	if a.cfg.API.Enabled {
		apiServer = a.startAPI()
	}

	// the listener owns the lifecycle: it serves until cancellation, then
	// drains in-flight batches within the deadline
	err := a.server.Serve(ctx, a.cfg.Input.Vector.Address, a.cfg.Input.Vector.DrainDeadline)

	// drain: no more producers for detectCh, let detection finish, then
	// close the storage queue so buffered rows materialize
	close(a.detectCh)
	<-engineDone
	close(a.storeCh)
	wg.Wait()
	if a.outboundCh != nil {
		close(a.outboundCh)
		sinkWg.Wait()
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		apiServer.Shutdown(shutdownCtx)
	}

	if err != nil {
		return err
	}
	return storageErr
}

func (a *App) startOutbound(ctx context.Context, wg *sync.WaitGroup) {
	if url := a.cfg.Output.Vector.URL; url != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := dialWithBackoff(ctx, url, a.log)
			if client == nil {
				drainChannel(a.outboundCh)
				return
			}
			client.Run(ctx, a.outboundCh)
		}()
	} else if url := a.cfg.Output.Webhook.URL; url != "" {
		hook := ingest.NewWebhook(url, a.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			hook.Run(ctx, a.outboundCh)
		}()
	}
}

// dialWithBackoff retries the downstream connection with exponential backoff
// until it succeeds or the context is cancelled.
func dialWithBackoff(ctx context.Context, url string, log *logging.Logger) *ingest.Client {
	backoff := time.Second
	for {
		client, err := ingest.Dial(ctx, url, log)
		if err == nil {
			log.Info("connected to downstream collector", "url", url)
			return client
		}
		log.Warn("downstream collector unavailable, retrying",
			"url", url, logging.Error(err), "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (a *App) startAPI() *http.Server {
	handler := api.NewHandler(a.reg, a.alertStore, nil, registry.CollectorOptions{
		IngestAddress: a.cfg.Input.Vector.Address,
		RemapsDir:     a.cfg.Remaps,
	}, a.log)
	srv := &http.Server{
		Addr:         a.cfg.API.Address,
		Handler:      api.NewRouter(handler, a.cfg.API.UIPath),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		a.log.Info("management API listening", "addr", a.cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", logging.Error(err))
		}
	}()
	return srv
}

// drainChannel discards batches so producers never block on a missing
// consumer.
func drainChannel(ch <-chan []*event.Event) {
	for range ch {
	}
}
