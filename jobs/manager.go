// Package jobs runs trace requests as persisted, cancellable background jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DQYXACML/chaintrace/common/errs"
	"github.com/DQYXACML/chaintrace/common/tasks"
	"github.com/DQYXACML/chaintrace/database/worker"
	"github.com/DQYXACML/chaintrace/metrics"
	"github.com/DQYXACML/chaintrace/trace"
)

const (
	DefaultWorkers      = 3
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 1
)

var tracer = otel.Tracer("chaintrace/jobs")

// Tracer runs a single trace. *trace.Orchestrator implements it.
type Tracer interface {
	Validate(req trace.Request) error
	Trace(ctx context.Context, req trace.Request) (*trace.Result, error)
}

type Config struct {
	Workers      int
	PollInterval time.Duration
	// MaxAttempts bounds how often a job runs. Only failures of a retryable
	// error type (network, timeout) are requeued. *trace.Orchestrator never
	// returns those: it records failed lookups as skipped nodes and only fails
	// on invalid or cancelled requests, so with it this knob has no effect.
	// It matters for Tracer implementations that surface transport errors.
	MaxAttempts int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

type SubmitRequest struct {
	Seed      string `json:"seed" validate:"required"`
	Chain     string `json:"chain" validate:"required"`
	MaxDepth  int    `json:"maxDepth" validate:"gte=1"`
	Requester string `json:"requester" validate:"required,max=255"`
}

type Manager struct {
	store    worker.TraceJobDB
	tracer   Tracer
	cfg      Config
	metrics  metrics.Metricer
	validate *validator.Validate
	log      log.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc

	wake           chan struct{}
	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
	started        atomic.Bool
	stopping       atomic.Bool
	stopped        atomic.Bool
}

func NewManager(store worker.TraceJobDB, t Tracer, cfg Config, m metrics.Metricer) *Manager {
	cfg.setDefaults()
	if m == nil {
		m = metrics.NoopMetrics
	}
	resCtx, resCancel := context.WithCancel(context.Background())
	logger := log.New("component", "jobs")
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &Manager{
		store:          store,
		tracer:         t,
		cfg:            cfg,
		metrics:        m,
		validate:       validate,
		log:            logger,
		running:        make(map[uuid.UUID]context.CancelFunc),
		wake:           make(chan struct{}, cfg.Workers),
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			logger.Error("job worker crashed", "err", err)
		}},
	}
}

// Submit validates req and persists a PENDING job. Invalid requests return a
// validation *errs.TraceError and create nothing.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if err := m.validate.Struct(req); err != nil {
		return uuid.Nil, toValidationError(err)
	}
	treq := trace.Request{Chain: req.Chain, Seed: req.Seed, MaxDepth: req.MaxDepth}
	if err := m.tracer.Validate(treq); err != nil {
		return uuid.Nil, err
	}
	_, seed, _ := trace.ParseSeed(req.Seed)

	job := &worker.TraceJob{
		GUID:      uuid.New(),
		Seed:      seed,
		Chain:     req.Chain,
		MaxDepth:  req.MaxDepth,
		Requester: req.Requester,
	}
	if err := m.store.CreateTraceJob(ctx, job); err != nil {
		return uuid.Nil, errs.Wrap(errs.ErrorTypeStorage, "failed to create trace job", err)
	}
	m.metrics.RecordJobSubmitted(req.Chain)
	m.log.Info("trace job submitted", "guid", job.GUID, "chain", job.Chain, "seed", job.Seed,
		"depth", job.MaxDepth, "requester", job.Requester)

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return job.GUID, nil
}

func (m *Manager) GetStatus(ctx context.Context, guid uuid.UUID) (*worker.TraceJob, error) {
	return m.store.GetTraceJob(ctx, guid)
}

// Cancel fails a PENDING or PROCESSING job as cancelled and reports whether
// it did. A running trace is asked to stop through its context; whatever it
// returns afterwards is discarded.
func (m *Manager) Cancel(ctx context.Context, guid uuid.UUID) (bool, error) {
	job, err := m.store.GetTraceJob(ctx, guid)
	if err != nil {
		return false, err
	}
	ok, err := m.store.CancelTraceJob(ctx, guid)
	if err != nil || !ok {
		return false, err
	}

	m.mu.Lock()
	cancel, running := m.running[guid]
	m.mu.Unlock()
	if running {
		cancel()
	}
	m.metrics.RecordJobFinished(job.Chain, "CANCELLED", 0)
	m.log.Info("trace job cancelled", "guid", guid, "was_running", running)
	return true, nil
}

func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("job manager already started")
	}
	for i := 0; i < m.cfg.Workers; i++ {
		id := i
		m.tasks.Go(func() error {
			m.workerLoop(id)
			return nil
		})
	}
	m.log.Info("job workers started", "workers", m.cfg.Workers)
	return nil
}

// Stop cancels in-flight traces, requeues their jobs and waits for the
// workers to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopping.Store(true)
	m.resourceCancel()

	done := make(chan error, 1)
	go func() { done <- m.tasks.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.stopped.Store(true)
	m.log.Info("job workers stopped")
	return err
}

func (m *Manager) Stopped() bool {
	return m.stopped.Load()
}

func (m *Manager) workerLoop(id int) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if m.resourceCtx.Err() != nil {
			return
		}
		processed, err := m.ProcessNext(m.resourceCtx)
		if err != nil {
			m.log.Error("failed to process trace job", "worker", id, "err", err)
		}
		if processed {
			continue
		}
		select {
		case <-m.resourceCtx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

// ProcessNext claims one PENDING job and runs it to a terminal or requeued
// state. It reports whether a job was claimed.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, err := m.store.ClaimNextPending(ctx)
	if err != nil {
		return false, errs.Wrap(errs.ErrorTypeStorage, "failed to claim trace job", err)
	}
	if job == nil {
		return false, nil
	}
	return true, m.run(ctx, job)
}

func (m *Manager) run(ctx context.Context, job *worker.TraceJob) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.running[job.GUID] = cancel
	m.metrics.SetActiveJobs(len(m.running))
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, job.GUID)
		m.metrics.SetActiveJobs(len(m.running))
		m.mu.Unlock()
	}()

	jobCtx, span := tracer.Start(jobCtx, "Manager.run", oteltrace.WithAttributes(
		attribute.String("job.guid", job.GUID.String()),
		attribute.String("job.chain", job.Chain),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	logger := m.log.New("guid", job.GUID, "attempt", job.Attempts)
	logger.Info("trace job started", "chain", job.Chain, "seed", job.Seed, "depth", job.MaxDepth)

	start := time.Now()
	result, err := m.safeTrace(jobCtx, trace.Request{Chain: job.Chain, Seed: job.Seed, MaxDepth: job.MaxDepth})

	// the job context may be cancelled already; store writes must still land
	storeCtx := context.WithoutCancel(ctx)

	if err == nil {
		ok, serr := m.store.CompleteTraceJob(storeCtx, job.GUID, result)
		if serr != nil {
			return errs.Wrap(errs.ErrorTypeStorage, "failed to complete trace job", serr)
		}
		if !ok {
			logger.Warn("discarding result of a job that is no longer processing")
			return nil
		}
		m.metrics.RecordJobFinished(job.Chain, worker.StatusCompleted, time.Since(start))
		logger.Info("trace job completed", "edges", len(result.Edges), "skipped", len(result.Skipped),
			"duration", time.Since(start))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	flags := errs.FlagsOf(err)

	requeue := errs.IsRetryable(err) && job.Attempts < m.cfg.MaxAttempts
	if errs.TypeOf(err) == errs.ErrorTypeCancelled && m.stopping.Load() {
		// interrupted by shutdown, not by the caller
		requeue = true
	}
	if requeue {
		ok, serr := m.store.RequeueTraceJob(storeCtx, job.GUID, flags)
		if serr != nil {
			return errs.Wrap(errs.ErrorTypeStorage, "failed to requeue trace job", serr)
		}
		if ok {
			m.metrics.RecordJobRetry(job.Chain)
			logger.Warn("trace job requeued", "err", err)
		}
		return nil
	}

	ok, serr := m.store.FailTraceJob(storeCtx, job.GUID, flags)
	if serr != nil {
		return errs.Wrap(errs.ErrorTypeStorage, "failed to fail trace job", serr)
	}
	if ok {
		m.metrics.RecordJobFinished(job.Chain, worker.StatusFailed, time.Since(start))
		logger.Error("trace job failed", "err", err)
	}
	return nil
}

// safeTrace turns a panic in the trace into an execution error.
func (m *Manager) safeTrace(ctx context.Context, req trace.Request) (result *trace.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("trace panicked", "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = errs.New(errs.ErrorTypeExecution, fmt.Sprintf("trace panicked: %v", r))
		}
	}()
	return m.tracer.Trace(ctx, req)
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errs.NewValidationError(fe.Field(), fmt.Sprintf("failed %q constraint", fe.Tag()))
	}
	return errs.Wrap(errs.ErrorTypeValidation, "invalid request", err)
}
