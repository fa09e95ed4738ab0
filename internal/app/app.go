package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	temporalworker "go.temporal.io/sdk/worker"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/config"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/headers"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/reminder"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/server"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sheets"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sink"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sms"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sqliteutil"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/store"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

// App owns every long-lived component of the coordinator.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB

	Store     *store.Store
	Table     *headers.Table
	Labels    *normalize.Labels
	Mapper    *webhook.Mapper
	Sink      *sink.Sink
	SMS       dispatch.Queue
	Sync      dispatch.Queue
	Scheduler *reminder.Scheduler

	pools    []*dispatch.Pool
	temporal client.Client
	workers  []temporalworker.Worker
}

// Collaborators lets callers replace outbound clients, mainly in tests.
type Collaborators struct {
	SMSSender   sms.Sender
	SheetWriter sheets.Writer
}

// New opens the store and builds the dispatch backend selected by cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, collab Collaborators) (*App, error) {
	a := &App{cfg: cfg, logger: logger, Labels: normalize.DefaultLabels()}
	if err := a.init(ctx, collab); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, collab Collaborators) error {
	var err error
	a.Table, err = headers.Load(a.cfg.HeaderTablePath)
	if err != nil {
		return err
	}
	policy, err := webhook.ParsePolicy(a.cfg.UnmappedLabelPolicy)
	if err != nil {
		return err
	}
	a.Mapper, err = webhook.NewMapper(webhook.Config{
		SpreadsheetID: a.cfg.SpreadsheetID,
		SheetName:     a.cfg.SheetName,
		Policy:        policy,
	}, a.Table, a.Labels)
	if err != nil {
		return err
	}

	a.db, err = sqliteutil.Open(a.cfg.DBPath)
	if err != nil {
		return err
	}
	a.Store = store.New(a.db)
	if err := a.Store.Init(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	a.Sink = sink.New(a.logger, a.Store)

	sender := collab.SMSSender
	if sender == nil {
		if sender, err = sms.NewSender(a.cfg, a.logger); err != nil {
			return err
		}
	}
	writer := collab.SheetWriter
	if writer == nil && a.cfg.SheetsEnabled() {
		if writer, err = sheets.New(ctx, a.cfg.GoogleServiceAccountJSON, a.cfg.SpreadsheetID); err != nil {
			return err
		}
	}

	handlers := map[string]dispatch.Handler{
		string(dispatch.KindSMS): sms.Handler(sender),
	}
	if writer != nil {
		handlers[string(dispatch.KindSpreadsheetSync)] = sheets.Handler(writer, a.Table, a.Labels, a.logger)
	} else {
		a.logger.Warn("spreadsheet sync disabled: no credentials configured")
	}

	switch a.cfg.DispatchBackend {
	case config.BackendTemporal:
		err = a.startTemporal(handlers)
	default:
		err = a.startLocal(handlers)
	}
	if err != nil {
		return err
	}

	a.Scheduler = reminder.New(a.Store, a.SMS, a.logger)
	a.logger.Info("retreat coordinator ready",
		"backend", a.cfg.DispatchBackend,
		"sms_provider", sender.Name(),
		"sheet_sync", writer != nil,
	)
	return nil
}

func poolConfigs() []dispatch.Config {
	return []dispatch.Config{dispatch.SMSConfig(), dispatch.SpreadsheetConfig()}
}

func (a *App) assign(q dispatch.Queue) {
	switch q.Name() {
	case string(dispatch.KindSMS):
		a.SMS = q
	case string(dispatch.KindSpreadsheetSync):
		a.Sync = q
	}
}

func (a *App) startLocal(handlers map[string]dispatch.Handler) error {
	for _, cfg := range poolConfigs() {
		h, ok := handlers[cfg.Name]
		if !ok {
			continue
		}
		p, err := dispatch.NewPool(cfg, h, a.Sink.Handle, dispatch.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.pools = append(a.pools, p)
		a.assign(p)
	}
	return nil
}

func (a *App) startTemporal(handlers map[string]dispatch.Handler) error {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.TemporalHostPort,
		Namespace: a.cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(a.logger.With("component", "temporal")),
	})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	a.temporal = c

	for _, cfg := range poolConfigs() {
		h, ok := handlers[cfg.Name]
		if !ok {
			continue
		}
		jobs, err := dispatch.RegisterJobWorker(c, cfg, h, a.logger)
		if err != nil {
			return err
		}
		completions, err := dispatch.RegisterCompletionWorker(c, cfg, a.Sink.Handle, a.logger)
		if err != nil {
			return err
		}
		for _, w := range []temporalworker.Worker{jobs, completions} {
			if err := w.Start(); err != nil {
				return fmt.Errorf("start %s worker: %w", cfg.Name, err)
			}
			a.workers = append(a.workers, w)
		}

		q, err := dispatch.NewTemporalQueue(c, cfg, a.logger)
		if err != nil {
			return err
		}
		a.assign(q)
	}
	return nil
}

// SheetName is the spreadsheet tab that sync jobs rewrite.
func (a *App) SheetName() string { return a.cfg.SheetName }

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return server.NewServer(server.Options{
		Store:     a.Store,
		Mapper:    a.Mapper,
		Scheduler: a.Scheduler,
		Labels:    a.Labels,
		SMSQueue:  a.SMS,
		SyncQueue: a.Sync,
		SheetName: a.cfg.SheetName,
		Logger:    a.logger,
	}).Router()
}

// Serve runs the HTTP server and the daily reminder loop until ctx is done,
// then stops both and shuts the dispatch backend down.
func (a *App) Serve(ctx context.Context) error {
	offset, err := reminder.ParseTimeOfDay(a.cfg.ReminderAt)
	if err != nil {
		return err
	}
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := a.Scheduler.StartDaily(loopCtx, offset)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr, "db", a.cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", "error", err)
	}
	stopLoop()
	<-loopDone
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("dispatch shutdown failed", "error", err)
	}
	return serveErr
}

// Drain stops accepting jobs and waits for every accepted job to settle.
// Temporal workers are stopped; their workflows continue on other workers.
func (a *App) Drain(ctx context.Context) error {
	var errs []error
	for _, p := range a.pools {
		errs = append(errs, p.Close(ctx))
	}
	a.stopWorkers()
	return errors.Join(errs...)
}

// Shutdown cancels queued and retrying jobs and waits for running attempts.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range a.pools {
		errs = append(errs, p.Shutdown(ctx))
	}
	a.stopWorkers()
	return errors.Join(errs...)
}

func (a *App) stopWorkers() {
	for _, w := range a.workers {
		w.Stop()
	}
	a.workers = nil
}

// Close releases the Temporal client and the database.
func (a *App) Close() {
	a.stopWorkers()
	if a.temporal != nil {
		a.temporal.Close()
		a.temporal = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("close db", "error", err)
		}
		a.db = nil
	}
}
