package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/caseworker/internal/caselock"
	"github.com/c360studio/caseworker/internal/classifier"
	"github.com/c360studio/caseworker/internal/config"
	"github.com/c360studio/caseworker/internal/decisioner"
	"github.com/c360studio/caseworker/internal/dispatcher"
	"github.com/c360studio/caseworker/internal/email"
	"github.com/c360studio/caseworker/internal/executor"
	"github.com/c360studio/caseworker/internal/httpapi"
	"github.com/c360studio/caseworker/internal/inbound"
	"github.com/c360studio/caseworker/internal/metrics"
	"github.com/c360studio/caseworker/internal/notify"
	"github.com/c360studio/caseworker/internal/planner"
	"github.com/c360studio/caseworker/internal/policy"
	"github.com/c360studio/caseworker/internal/portal"
	"github.com/c360studio/caseworker/internal/reaper"
	"github.com/c360studio/caseworker/internal/scheduler"
	"github.com/c360studio/caseworker/internal/store"
	"github.com/c360studio/caseworker/internal/waitpoint"
)

// App wires together every component the caseworker engine needs, the way
// cmd/semspec's App wires NATS, storage, and tool executors.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	db       *store.DB
	store    *store.Store

	locks      *caselock.Manager
	dispatcher *dispatcher.Dispatcher
	waitpoints *waitpoint.Manager
	notify     *notify.Bus
	metrics    *metrics.Metrics

	policy     *policy.Registry
	classifier classifier.Port
	planner    *planner.Planner
	decisioner *decisioner.Decisioner
	executor   *executor.Executor
	pipeline   *inbound.Pipeline
	scheduler  *scheduler.Scheduler
	httpapi    *httpapi.Server
}

// NewApp builds an App from cfg but does not start any network
// connections or background loops; call Start for that.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start connects to NATS and sqlite, then constructs and wires every
// component. It does not yet start the worker loop or HTTP listener; call
// Run for that.
func (a *App) Start(ctx context.Context) error {
	natsURL := a.cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	a.natsConn = conn

	db, err := store.Open(a.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.db = db
	a.store = store.NewStore(db)

	a.locks = caselock.NewManager(a.store, a.cfg.Reaper.LockTTL)

	disp, err := dispatcher.New(ctx, conn, a.logger, a.cfg.Dispatcher.DebounceDelay)
	if err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	a.dispatcher = disp

	wp, err := waitpoint.New(ctx, a.store, conn)
	if err != nil {
		return fmt.Errorf("start waitpoint manager: %w", err)
	}
	a.waitpoints = wp

	a.notify = notify.New(conn, a.logger)
	a.metrics = metrics.New(prometheus.DefaultRegisterer)

	a.policy = policy.NewRegistry(a.cfg.Policy)
	a.classifier = classifier.NewStub()
	a.planner = planner.New(a.policy, a.classifier)
	a.decisioner = decisioner.New(a.store, a.waitpoints, a.policy, a.cfg.Reaper.WaitpointTTL)
	a.executor = executor.New(a.store, email.NewLoggingSender(a.logger), portal.NewStubWorker(a.logger))

	a.pipeline = inbound.New(a.store, a.locks, a.planner, a.decisioner, a.classifier, a.notify, a.executor, a.cfg.Reaper.LockTTL)

	a.scheduler = scheduler.New(a.logger)
	a.scheduler.AddJob(reaper.NewExpireLocksJob(a.store, a.logger), a.cfg.Reaper.Interval)
	a.scheduler.AddJob(reaper.NewExpireWaitpointsJob(a.store, a.logger), a.cfg.Reaper.Interval)
	a.scheduler.AddJob(reaper.NewStuckRunsJob(a.store, a.cfg.Reaper.RunStuckThreshold, a.logger), a.cfg.Reaper.Interval)
	a.scheduler.AddJob(reaper.NewPortalTimeoutJob(a.store, a.cfg.Reaper.PortalSoftTimeout, a.cfg.Reaper.PortalHardTimeout, a.logger), a.cfg.Reaper.Interval)

	a.httpapi = httpapi.New(a.store, a.decisioner, a.executor, a.dispatcher, a.notify, a.logger)

	return nil
}

// Shutdown releases every held resource. Safe to call even if Start
// failed partway through.
func (a *App) Shutdown(timeout time.Duration) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Run starts the scheduler, the HTTP listener, and the worker consumer
// loop, blocking until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start(ctx)

	go func() {
		addr := a.cfg.HTTP.Addr
		a.logger.Info("http listening", "addr", addr)
		if err := httpServe(ctx, addr, a.httpapi.Handler()); err != nil {
			a.logger.Error("http server exited", "error", err)
		}
	}()

	return a.runWorkerLoop(ctx)
}

// runWorkerLoop consumes dispatched tasks from the shared JetStream
// consumer and runs each through the InboundPipeline. Per-case
// single-flight is enforced by the pipeline's case lock underneath, not by
// consumer ack-pending (dispatcher.WorkerConsumer's doc comment).
func (a *App) runWorkerLoop(ctx context.Context) error {
	consumer, err := a.dispatcher.WorkerConsumer(ctx, "caseworker-workers", 16)
	if err != nil {
		return fmt.Errorf("create worker consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		a.handleTask(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("start consuming tasks: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

// handleTask decodes a dispatched Task and runs it through the
// InboundPipeline, acking only once the run has completed so a crash
// mid-run leaves the task redelivered rather than silently dropped.
func (a *App) handleTask(ctx context.Context, msg jetstream.Msg) {
	var task dispatcher.Task
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		a.logger.Error("discarding malformed task", "error", err)
		_ = msg.Term()
		return
	}

	if err := a.pipeline.Process(ctx, task.CaseID, task.TriggerType); err != nil {
		a.logger.Error("pipeline run failed", "case_id", task.CaseID, "trigger_type", task.TriggerType, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}
