package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/storage/memory"
)

var _ domain.IdempotencyRepository = (*stubCleanupRepo)(nil)

func newTestCleanupWorker(t *testing.T, repo domain.IdempotencyRepository, options ...CleanupOption) (*CleanupWorker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	options = append([]CleanupOption{WithMetrics(metrics.NewCleanupMetrics(reg))}, options...)
	return NewCleanupWorker(repo, options...), reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{2, 2, 1},
	}

	worker, _ := newTestCleanupWorker(t, repo, WithBatchSize(2))

	result, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}

	want := CleanupResult{Deleted: 5, Batches: 3}
	if result != want {
		t.Fatalf("unexpected result: got=%+v want=%+v", result, want)
	}
	if calls := repo.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestCleanupWorker_DeleteExpired_StopsAtMaxBatches(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{2, 2, 2, 2, 2},
	}

	worker, _ := newTestCleanupWorker(t, repo, WithBatchSize(2), WithMaxBatches(3))

	result, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}

	want := CleanupResult{Deleted: 6, Batches: 3, Truncated: true}
	if result != want {
		t.Fatalf("unexpected result: got=%+v want=%+v", result, want)
	}
	if calls := repo.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{10},
		deleteErrors:  []error{nil, errors.New("boom")},
	}

	worker, _ := newTestCleanupWorker(t, repo, WithBatchSize(10))

	result, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if result.Deleted != 10 || result.Batches != 1 {
		t.Fatalf("partial progress must be reported: %+v", result)
	}
}

func TestCleanupWorker_DeleteExpired_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{deleteResults: []int{10}}
	worker, _ := newTestCleanupWorker(t, repo, WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := worker.DeleteExpired(ctx, time.Now().UTC()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls := repo.calls(); calls != 0 {
		t.Fatalf("repository must not be called after cancel, got %d calls", calls)
	}
}

func TestCleanupWorker_RunOnce_SetsBacklogGauge(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{
		deleteResults: []int{1, 1, 0},
	}
	worker, reg := newTestCleanupWorker(t, repo, WithBatchSize(1), WithMaxBatches(2))

	worker.runOnce(context.Background())
	if got := gaugeValue(t, reg, "orders_idempotency_cleanup_backlog"); got != 1 {
		t.Fatalf("backlog gauge after truncated run: got=%v want=1", got)
	}
	if got := gaugeValue(t, reg, "orders_idempotency_cleanup_last_deleted"); got != 2 {
		t.Fatalf("last deleted gauge: got=%v want=2", got)
	}

	worker.runOnce(context.Background())
	if got := gaugeValue(t, reg, "orders_idempotency_cleanup_backlog"); got != 0 {
		t.Fatalf("backlog gauge after drained run: got=%v want=0", got)
	}
}

func TestCleanupWorker_RunOnce_UsesClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubCleanupRepo{}
	worker, _ := newTestCleanupWorker(t, repo, WithClock(func() time.Time { return now }))

	worker.runOnce(context.Background())

	if got := repo.lastBefore(); !got.Equal(now) {
		t.Fatalf("unexpected cleanup cutoff: got=%s want=%s", got, now)
	}
}

func TestCleanupWorker_Run_CleansImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker, _ := newTestCleanupWorker(t, repo, WithInterval(time.Hour), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for repo.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected cleanup to run before the first tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestCleanupWorker_Run_NilRepository(t *testing.T) {
	t.Parallel()

	worker, _ := newTestCleanupWorker(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without repository must return immediately")
	}
}

func TestCleanupWorker_DeleteExpired_MemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i, ttl := range []time.Time{now.Add(-time.Hour), now.Add(-time.Minute), now.Add(-time.Second), now.Add(time.Hour)} {
		key := fmt.Sprintf("key-%d", i)
		if _, err := repo.CreateProcessing(ctx, key, "hash", ttl); err != nil {
			t.Fatalf("CreateProcessing %s: %v", key, err)
		}
	}

	worker, _ := newTestCleanupWorker(t, repo, WithBatchSize(2))
	result, err := worker.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if result.Deleted != 3 || result.Truncated {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, err := repo.Get(ctx, "key-3"); err != nil {
		t.Fatalf("active key must survive cleanup: %v", err)
	}
}

type stubCleanupRepo struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
	before        time.Time
}

func (s *stubCleanupRepo) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkDone(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) MarkFailed(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *stubCleanupRepo) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.before = before

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubCleanupRepo) lastBefore() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before
}
