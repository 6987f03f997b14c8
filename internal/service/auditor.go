package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/docmeter/internal/metrics"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

// Auditor defaults.
const (
	DefaultAuditWorkers      = 2
	DefaultAuditQueueSize    = 1024
	DefaultAuditWriteTimeout = 5 * time.Second
)

// AuditorConfig sizes the auditor's queue and worker pool.
type AuditorConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

func (c AuditorConfig) withDefaults() AuditorConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultAuditWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultAuditQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultAuditWriteTimeout
	}
	return c
}

// UsageAuditor writes usage events in the background.
//
// Record never blocks the caller and never reports failure: the event is put
// on a bounded queue, or dropped with a log line when the queue is full.
// Workers write each event under their own timeout, detached from whatever
// request produced it. An auditor without a repository accepts and discards
// everything.
type UsageAuditor struct {
	repo    repository.UsageRepository
	cfg     AuditorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	events chan model.UsageEvent

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewUsageAuditor creates an auditor. Call Start before serving traffic and
// Stop on shutdown. repo may be nil.
func NewUsageAuditor(repo repository.UsageRepository, cfg AuditorConfig, logger *slog.Logger, m *metrics.Metrics) *UsageAuditor {
	cfg = cfg.withDefaults()
	return &UsageAuditor{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		events:  make(chan model.UsageEvent, cfg.QueueSize),
	}
}

// Enabled reports whether events are actually persisted.
func (a *UsageAuditor) Enabled() bool {
	return a != nil && a.repo != nil
}

// Start launches the worker pool. Calling it more than once is harmless.
func (a *UsageAuditor) Start() {
	if !a.Enabled() {
		return
	}
	a.startOnce.Do(func() {
		a.logger.Info("starting usage auditor",
			slog.Int("workers", a.cfg.Workers),
			slog.Int("queueSize", a.cfg.QueueSize),
		)
		for i := 0; i < a.cfg.Workers; i++ {
			a.wg.Add(1)
			go a.worker()
		}
	})
}

// Stop stops accepting events, waits for queued events to be written and
// returns. Events recorded after Stop are dropped.
func (a *UsageAuditor) Stop() {
	if !a.Enabled() {
		return
	}
	a.stopOnce.Do(func() {
		// Workers drain the closed channel, so make sure they exist.
		a.Start()

		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()

		a.logger.Info("draining usage auditor", slog.Int("pending", len(a.events)))
		a.wg.Wait()
		a.metrics.AuditQueueDepth(0)
	})
}

// Record enqueues event for writing. It stamps CreatedAt when unset so the
// stored time is the time of the attempt, not of the write.
func (a *UsageAuditor) Record(event model.UsageEvent) {
	if !a.Enabled() {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped(event, "auditor stopped")
		return
	}

	select {
	case a.events <- event:
		a.metrics.AuditQueueDepth(len(a.events))
	default:
		a.dropped(event, "queue full")
	}
}

func (a *UsageAuditor) worker() {
	defer a.wg.Done()
	for event := range a.events {
		a.write(event)
		a.metrics.AuditQueueDepth(len(a.events))
	}
}

// write persists one event. A failing or panicking repository is logged and
// counted; it never takes the worker down.
func (a *UsageAuditor) write(event model.UsageEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.AuditEvent(metrics.ResultPanic)
			a.logger.Error("usage event write panicked",
				slog.String("userID", event.UserID),
				slog.String("endpoint", event.Endpoint),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	if err := a.repo.InsertUsage(ctx, &event); err != nil {
		a.metrics.AuditEvent(metrics.ResultError)
		a.logger.Warn("failed to record usage event",
			slog.String("userID", event.UserID),
			slog.String("endpoint", event.Endpoint),
			slog.Int("statusCode", event.StatusCode),
			slog.String("error", err.Error()),
		)
		return
	}
	a.metrics.AuditEvent(metrics.ResultOK)
}

func (a *UsageAuditor) dropped(event model.UsageEvent, reason string) {
	a.metrics.AuditEvent(metrics.ResultDropped)
	a.logger.Warn("usage event dropped",
		slog.String("reason", reason),
		slog.String("userID", event.UserID),
		slog.String("endpoint", event.Endpoint),
	)
}
