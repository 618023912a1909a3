package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cmc-drop-sentry/internal/storage"
	"cmc-drop-sentry/pkg/types"
)

type stubSource struct {
	quotes  []types.Quote
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (s *stubSource) FetchQuotes(ctx context.Context, limit int) []types.Quote {
	atomic.AddInt32(&s.calls, 1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		<-s.release
	}
	return s.quotes
}

type recordingNotifier struct {
	mu      sync.Mutex
	symbols []string
	failFor string
}

func (n *recordingNotifier) SendAlert(_ context.Context, alert *types.DropAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if alert.Symbol == n.failFor {
		return errors.New("delivery failed")
	}
	n.symbols = append(n.symbols, alert.Symbol)
	return nil
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) RecordSnapshot(context.Context, []types.Quote) error {
	return errors.New("disk full")
}

func q(symbol, price string) types.Quote {
	return types.Quote{Symbol: symbol, Price: decimal.RequireFromString(price), PercentChange7d: decimal.Zero}
}

func TestRunCycle_EmptyWatchlistSkipsFetch(t *testing.T) {
	source := &stubSource{quotes: []types.Quote{q("BTC", "1")}}
	s := NewScheduler(storage.NewMemoryStore(), source, &recordingNotifier{}, time.Hour, 100)

	result := s.RunCycle(context.Background())
	if !result.Skipped {
		t.Error("expected cycle to be skipped")
	}
	if source.calls != 0 {
		t.Errorf("fetch calls = %d; want 0", source.calls)
	}
}

func TestRunCycle_DetectsDropAgainstPriorSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "ETH")
	_ = store.Track(ctx, "BTC")
	_ = store.RecordSnapshot(ctx, []types.Quote{q("ETH", "100"), q("BTC", "100")})

	source := &stubSource{quotes: []types.Quote{q("ETH", "94.9"), q("BTC", "95.1"), q("SOL", "1")}}
	n := &recordingNotifier{}
	s := NewScheduler(store, source, n, time.Hour, 100)

	result := s.RunCycle(ctx)
	if !result.Recorded || result.Alerts != 1 || result.Notified != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(n.symbols) != 1 || n.symbols[0] != "ETH" {
		t.Errorf("notified = %v; want [ETH]", n.symbols)
	}

	// 本轮行情已写入，下一轮以94.9为基准
	price, _, _ := store.LatestPrice(ctx, "ETH")
	if !price.Equal(decimal.RequireFromString("94.9")) {
		t.Errorf("latest ETH = %s; want 94.9", price)
	}
	history, _ := store.RecentHistory(ctx, 100)
	if len(history) != 5 {
		t.Errorf("history len = %d; want 5", len(history))
	}
}

func TestRunCycle_FirstObservationDoesNotAlert(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "NEW")

	n := &recordingNotifier{}
	s := NewScheduler(store, &stubSource{quotes: []types.Quote{q("NEW", "0.01")}}, n, time.Hour, 100)

	result := s.RunCycle(ctx)
	if result.Alerts != 0 || len(n.symbols) != 0 {
		t.Fatalf("expected no alerts for symbol without history, got %+v", result)
	}
	if !result.Recorded {
		t.Error("expected snapshot to be recorded")
	}
}

func TestRunCycle_EmptyFetchWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "BTC")

	source := &stubSource{}
	s := NewScheduler(store, source, &recordingNotifier{}, time.Hour, 100)

	result := s.RunCycle(ctx)
	if result.Recorded || result.Quotes != 0 {
		t.Fatalf("result = %+v", result)
	}
	if source.calls != 1 {
		t.Errorf("fetch calls = %d; want 1", source.calls)
	}
	history, _ := store.RecentHistory(ctx, 10)
	if len(history) != 0 {
		t.Errorf("history len = %d; want 0", len(history))
	}
}

func TestRunCycle_NotifyFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "ETH")
	_ = store.Track(ctx, "ADA")
	_ = store.RecordSnapshot(ctx, []types.Quote{q("ETH", "100"), q("ADA", "1")})

	n := &recordingNotifier{failFor: "ETH"}
	s := NewScheduler(store, &stubSource{quotes: []types.Quote{q("ETH", "50"), q("ADA", "0.5")}}, n, time.Hour, 100)

	result := s.RunCycle(ctx)
	if result.Alerts != 2 || result.Notified != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(n.symbols) != 1 || n.symbols[0] != "ADA" {
		t.Errorf("notified = %v; want [ADA]", n.symbols)
	}
	price, _, _ := store.LatestPrice(ctx, "ETH")
	if !price.Equal(decimal.NewFromInt(50)) {
		t.Errorf("latest ETH = %s; want 50", price)
	}
}

func TestRunCycle_StoreFailureEndsCycle(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryStore()
	_ = inner.Track(ctx, "ETH")
	_ = inner.RecordSnapshot(ctx, []types.Quote{q("ETH", "100")})

	n := &recordingNotifier{}
	s := NewScheduler(failingStore{inner}, &stubSource{quotes: []types.Quote{q("ETH", "10")}}, n, time.Hour, 100)

	result := s.RunCycle(ctx)
	if result.Recorded || len(n.symbols) != 0 {
		t.Fatalf("result = %+v, notified = %v", result, n.symbols)
	}
}

func TestTrigger_DropsReentrantCalls(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "BTC")

	source := &stubSource{
		quotes:  []types.Quote{q("BTC", "1")},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewScheduler(store, source, &recordingNotifier{}, time.Hour, 100)

	done := make(chan bool)
	go func() { done <- s.Trigger(ctx) }()

	<-source.started
	if s.Trigger(ctx) {
		t.Error("second trigger should be dropped while the first is running")
	}
	close(source.release)

	if ran := <-done; !ran {
		t.Error("first trigger should have run")
	}
	if got := atomic.LoadInt32(&source.calls); got != 1 {
		t.Errorf("fetch calls = %d; want 1", got)
	}

	// 上一轮结束后可以再次触发
	source.started = nil
	source.release = nil
	if !s.Trigger(ctx) {
		t.Error("trigger after completion should run")
	}
}

func TestStart_StopsOnHalt(t *testing.T) {
	s := NewScheduler(storage.NewMemoryStore(), &stubSource{}, &recordingNotifier{}, time.Millisecond, 100)

	stopped := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(stopped)
	}()

	s.Halt()
	s.Halt()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after Halt")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(storage.NewMemoryStore(), &stubSource{}, &recordingNotifier{}, time.Millisecond, 100)

	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestStart_WaitsForRunningCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemoryStore()
	_ = store.Track(ctx, "BTC")

	source := &stubSource{
		quotes:  []types.Quote{q("BTC", "1")},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewScheduler(store, source, &recordingNotifier{}, time.Millisecond, 100)

	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	<-source.started
	cancel()

	// 轮询仍在拉取行情，Start不能返回
	select {
	case <-stopped:
		t.Fatal("Start returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(source.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after the cycle finished")
	}
}
