package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/docmeter/internal/metrics"
	"github.com/sakif/docmeter/internal/model"
)

// =========================================================================
// FAKE USAGE REPOSITORY
// =========================================================================

type memUsageRepo struct {
	mu     sync.Mutex
	events []model.UsageEvent

	err error
	// panicOn makes InsertUsage panic for events with this endpoint.
	panicOn string
	// gate, when non-nil, holds every insert until it is closed.
	gate chan struct{}
	// hadDeadline records whether every insert ran under a deadline.
	hadDeadline bool
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{hadDeadline: true}
}

func (m *memUsageRepo) InsertUsage(ctx context.Context, event *model.UsageEvent) error {
	if m.gate != nil {
		<-m.gate
	}
	if event.Endpoint == m.panicOn && m.panicOn != "" {
		panic("audit store exploded")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		m.hadDeadline = false
	}
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *memUsageRepo) stored() []model.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UsageEvent(nil), m.events...)
}

func usageEvent(endpoint string) model.UsageEvent {
	return model.UsageEvent{UserID: "u1", Endpoint: endpoint, StatusCode: 200, CreditsConsumed: 1}
}

// =========================================================================
// RECORD / DRAIN TESTS
// =========================================================================

func TestAuditor_StopDrainsQueue(t *testing.T) {
	repo := newMemUsageRepo()
	a := NewUsageAuditor(repo, AuditorConfig{Workers: 3, QueueSize: 64}, discardLogger(), metrics.New())
	a.Start()

	for i := 0; i < 50; i++ {
		a.Record(usageEvent("documents.extract"))
	}
	a.Stop()

	events := repo.stored()
	require.Len(t, events, 50)
	for _, e := range events {
		assert.False(t, e.CreatedAt.IsZero(), "CreatedAt should be stamped at record time")
	}
	assert.True(t, repo.hadDeadline, "every insert should run under its own timeout")
}

func TestAuditor_StopWithoutStartStillWrites(t *testing.T) {
	repo := newMemUsageRepo()
	a := NewUsageAuditor(repo, AuditorConfig{}, discardLogger(), nil)

	a.Record(usageEvent("credits.debit"))
	a.Stop()

	assert.Len(t, repo.stored(), 1)
}

func TestAuditor_RecordAfterStopIsDropped(t *testing.T) {
	repo := newMemUsageRepo()
	a := NewUsageAuditor(repo, AuditorConfig{}, discardLogger(), nil)
	a.Start()
	a.Stop()

	assert.NotPanics(t, func() { a.Record(usageEvent("credits.debit")) })
	assert.Empty(t, repo.stored())

	// A second Stop is harmless.
	a.Stop()
}

func TestAuditor_NilRepositoryIsNoop(t *testing.T) {
	a := NewUsageAuditor(nil, AuditorConfig{}, discardLogger(), nil)
	assert.False(t, a.Enabled())

	assert.NotPanics(t, func() {
		a.Start()
		a.Record(usageEvent("credits.debit"))
		a.Stop()
	})
}

// =========================================================================
// FAILURE ISOLATION TESTS
// =========================================================================

func TestAuditor_FullQueueDropsWithoutBlocking(t *testing.T) {
	repo := newMemUsageRepo()
	repo.gate = make(chan struct{})
	a := NewUsageAuditor(repo, AuditorConfig{Workers: 1, QueueSize: 2}, discardLogger(), metrics.New())
	a.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Record(usageEvent("documents.extract"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled audit store")
	}

	close(repo.gate)
	a.Stop()

	// One event in flight plus a full queue at most; the rest were dropped.
	assert.LessOrEqual(t, len(repo.stored()), 3)
	assert.NotEmpty(t, repo.stored())
}

func TestAuditor_InsertErrorIsSwallowed(t *testing.T) {
	repo := newMemUsageRepo()
	repo.err = errors.New("relation \"usage_events\" does not exist")
	a := NewUsageAuditor(repo, AuditorConfig{Workers: 1}, discardLogger(), metrics.New())
	a.Start()

	assert.NotPanics(t, func() {
		a.Record(usageEvent("credits.debit"))
		a.Stop()
	})
	assert.Empty(t, repo.stored())
}

func TestAuditor_PanicDoesNotKillWorker(t *testing.T) {
	repo := newMemUsageRepo()
	repo.panicOn = "boom"
	a := NewUsageAuditor(repo, AuditorConfig{Workers: 1, QueueSize: 8}, discardLogger(), nil)
	a.Start()

	a.Record(usageEvent("boom"))
	a.Record(usageEvent("credits.debit"))
	a.Stop()

	events := repo.stored()
	require.Len(t, events, 1)
	assert.Equal(t, "credits.debit", events[0].Endpoint)
}
