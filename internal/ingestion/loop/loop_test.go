package loop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/catalog-etl/internal/core/domain"
	"github.com/vietddude/catalog-etl/internal/extract"
	"github.com/vietddude/catalog-etl/internal/infra/storage"
	"github.com/vietddude/catalog-etl/internal/infra/storage/memory"
	"github.com/vietddude/catalog-etl/internal/ingestion/recovery"
)

func catalog(n int, badOrdinal int) []byte {
	var b strings.Builder
	b.WriteString(`<yml_catalog><shop><categories>`)
	b.WriteString(`<category id="1">Root</category><category id="2" parentId="1">Shoes</category>`)
	b.WriteString(`</categories><offers>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<offer id="%d">`, i)
		if i != badOrdinal {
			fmt.Fprintf(&b, `<name>Item %d</name>`, i)
		}
		fmt.Fprintf(&b, `<picture>https://img.example.com/%d.jpg</picture>`, i)
		b.WriteString(`<categoryId>2</categoryId><currencyId>RUR</currencyId><modified_time>1700000000</modified_time>`)
		b.WriteString(`</offer>`)
	}
	b.WriteString(`</offers></shop></yml_catalog>`)
	return []byte(b.String())
}

// flakySource serves bad until the given number of opens, then good.
type flakySource struct {
	bad, good []byte
	badOpens  int32
	opens     atomic.Int32
	closes    atomic.Int32
}

func (s *flakySource) Open(ctx context.Context) (io.ReadCloser, error) {
	n := s.opens.Add(1)
	doc := s.good
	if n <= s.badOpens {
		doc = s.bad
	}
	return &countingReader{Reader: bytes.NewReader(doc), closes: &s.closes}, nil
}

func (s *flakySource) Name() string { return "flaky" }

type countingReader struct {
	io.Reader
	closes *atomic.Int32
}

func (r *countingReader) Close() error {
	r.closes.Add(1)
	return nil
}

// recordingSink wraps a memory store and records batch sizes per session.
type recordingSink struct {
	store    *memory.ProductStore
	failOn   int
	mu       sync.Mutex
	sessions [][]int
	closed   int
	saves    int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{store: memory.NewProductStore()}
}

func (r *recordingSink) Acquire(ctx context.Context) (storage.ProductSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, nil)
	return &recordingSession{parent: r, idx: len(r.sessions) - 1}, nil
}

func (r *recordingSink) batchSizes() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int, len(r.sessions))
	copy(out, r.sessions)
	return out
}

type recordingSession struct {
	parent *recordingSink
	idx    int
}

func (s *recordingSession) SaveBatch(ctx context.Context, batch domain.Batch) (int64, error) {
	s.parent.mu.Lock()
	s.parent.saves++
	if s.parent.failOn > 0 && s.parent.saves == s.parent.failOn {
		s.parent.mu.Unlock()
		return 0, errors.New("connection reset")
	}
	s.parent.sessions[s.idx] = append(s.parent.sessions[s.idx], len(batch))
	s.parent.mu.Unlock()
	return s.parent.store.SaveBatch(ctx, batch)
}

func (s *recordingSession) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.closed++
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	limit  int
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()
	if r.limit > 0 && n >= r.limit && r.cancel != nil {
		r.cancel()
		return ctx.Err()
	}
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func extractorFor(src extract.Source) *extract.Extractor {
	return extract.NewExtractor(src, extract.Config{
		ProductTag:           "offer",
		CategoryContainerTag: "categories",
		CategoryTag:          "category",
		ChunkSize:            3,
	})
}

func newTestLoop(src extract.Source, sink storage.SinkConnector, sleeper *sleepRecorder, interval time.Duration) *Loop {
	return New(Config{
		Interval:   interval,
		Extractor:  extractorFor(src),
		Sink:       sink,
		Supervisor: recovery.NewSupervisor(recovery.DefaultBackoff(), sleeper.sleep),
		Sleep:      sleeper.sleep,
	})
}

func equalSizes(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func TestRunOnce_RetriesWholeCycleAfterBadRecord(t *testing.T) {
	// First cycle hits a missing title on the 7th offer, the retry sees a fixed document.
	src := &flakySource{bad: catalog(7, 7), good: catalog(7, 0), badOpens: 2}
	sink := newRecordingSink()
	sleeper := &sleepRecorder{}
	l := newTestLoop(src, sink, sleeper, time.Minute)

	stats, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := [][]int{{3, 3}, {3, 3, 1}}
	if got := sink.batchSizes(); !equalSizes(got, want) {
		t.Errorf("batch sizes = %v, want %v", got, want)
	}
	if got := sleeper.recorded(); len(got) != 1 || got[0] != 100*time.Millisecond {
		t.Errorf("waits = %v, want [100ms]", got)
	}
	// Index pass plus product pass per attempt.
	if got := src.opens.Load(); got != 4 {
		t.Errorf("opens = %d, want 4", got)
	}
	if got := src.closes.Load(); got != 4 {
		t.Errorf("closes = %d, want 4", got)
	}
	if sink.closed != 2 {
		t.Errorf("sink sessions closed = %d, want 2", sink.closed)
	}

	if stats.Batches != 3 || stats.Records != 7 || stats.Categories != 2 {
		t.Errorf("stats = %+v", stats)
	}
	// The first six rows were already stored by the failed attempt.
	if stats.Inserted != 1 || stats.Skipped != 6 {
		t.Errorf("inserted/skipped = %d/%d, want 1/6", stats.Inserted, stats.Skipped)
	}
	if n, _ := sink.store.Count(context.Background()); n != 7 {
		t.Errorf("stored rows = %d, want 7", n)
	}
}

func TestRunOnce_PersistentFailureBacksOff(t *testing.T) {
	src := &flakySource{bad: catalog(7, 7), good: catalog(7, 7)}
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &sleepRecorder{cancel: cancel, limit: 4}
	l := newTestLoop(src, sink, sleeper, time.Minute)

	_, err := l.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunOnce() error = %v, want context.Canceled", err)
	}

	wantWaits := []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond, 6400 * time.Millisecond}
	got := sleeper.recorded()
	if len(got) != len(wantWaits) {
		t.Fatalf("waits = %v, want %v", got, wantWaits)
	}
	for i := range wantWaits {
		if got[i] != wantWaits[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], wantWaits[i])
		}
	}
	// Every attempt re-emits the same two batches before failing.
	want := [][]int{{3, 3}, {3, 3}, {3, 3}, {3, 3}}
	if got := sink.batchSizes(); !equalSizes(got, want) {
		t.Errorf("batch sizes = %v, want %v", got, want)
	}
	if n, _ := sink.store.Count(context.Background()); n != 6 {
		t.Errorf("stored rows = %d, want 6", n)
	}
}

func TestRunOnce_SinkFailureRestartsFromScratch(t *testing.T) {
	src := &flakySource{good: catalog(7, 0)}
	sink := newRecordingSink()
	sink.failOn = 2
	sleeper := &sleepRecorder{}
	l := newTestLoop(src, sink, sleeper, time.Minute)

	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := [][]int{{3}, {3, 3, 1}}
	if got := sink.batchSizes(); !equalSizes(got, want) {
		t.Errorf("batch sizes = %v, want %v", got, want)
	}
	if got := src.closes.Load(); got != src.opens.Load() {
		t.Errorf("closes = %d, opens = %d", got, src.opens.Load())
	}
	if n, _ := sink.store.Count(context.Background()); n != 7 {
		t.Errorf("stored rows = %d, want 7", n)
	}
}

func TestRun_RepeatsCyclesAfterInterval(t *testing.T) {
	src := &flakySource{good: catalog(4, 0)}
	store := memory.NewProductStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &sleepRecorder{cancel: cancel, limit: 2}
	l := newTestLoop(src, store, sleeper, 2*time.Second)

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := sleeper.recorded(); len(got) != 2 || got[0] != 2*time.Second || got[1] != 2*time.Second {
		t.Errorf("waits = %v, want [2s 2s]", got)
	}
	if got := src.opens.Load(); got != 4 {
		t.Errorf("opens = %d, want 4", got)
	}
	// Reloading unchanged data stores nothing new.
	if n, _ := store.Count(context.Background()); n != 4 {
		t.Errorf("stored rows = %d, want 4", n)
	}
	if l.State() != domain.LoopStateStopped {
		t.Errorf("state = %s, want stopped", l.State())
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	src := &flakySource{good: catalog(4, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := newTestLoop(src, memory.NewProductStore(), &sleepRecorder{}, time.Second)

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
}

type fakeLock struct {
	mu        sync.Mutex
	held      int
	attempts  int
	unlocks   int
	refreshes int
	loseAt    int
}

func (f *fakeLock) TryLock(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return f.attempts > f.held, nil
}

// Refresh reports the lock as lost on the loseAt-th call only.
func (f *fakeLock) Refresh(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshes != f.loseAt, nil
}

func (f *fakeLock) Unlock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
	return nil
}

type fakeRecorder struct {
	runs []domain.CycleStats
}

func (f *fakeRecorder) RecordRun(ctx context.Context, stats domain.CycleStats) error {
	f.runs = append(f.runs, stats)
	return nil
}

type fakeObserver struct {
	mu        sync.Mutex
	states    []domain.LoopState
	successes int
	failures  []error
}

func (f *fakeObserver) StateChanged(s domain.LoopState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func (f *fakeObserver) CycleSucceeded(domain.CycleStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeObserver) CycleFailed(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

func TestRunOnce_WaitsForCycleLock(t *testing.T) {
	src := &flakySource{good: catalog(2, 0)}
	lock := &fakeLock{held: 2}
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	sleeper := &sleepRecorder{}
	l := New(Config{
		Interval:   time.Second,
		Extractor:  extractorFor(src),
		Sink:       memory.NewProductStore(),
		Supervisor: recovery.NewSupervisor(recovery.DefaultBackoff(), sleeper.sleep),
		Lock:       lock,
		Recorder:   rec,
		Observer:   obs,
		Sleep:      sleeper.sleep,
	})

	if _, err := l.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if lock.attempts != 3 || lock.unlocks != 1 {
		t.Errorf("lock attempts/unlocks = %d/%d, want 3/1", lock.attempts, lock.unlocks)
	}
	if len(obs.failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(obs.failures))
	}
	for _, err := range obs.failures {
		if !errors.Is(err, ErrCycleLocked) {
			t.Errorf("failure = %v, want ErrCycleLocked", err)
		}
	}
	// No source access while the lock is held elsewhere.
	if got := src.opens.Load(); got != 2 {
		t.Errorf("opens = %d, want 2", got)
	}
	if len(rec.runs) != 1 || rec.runs[0].Records != 2 {
		t.Errorf("recorded runs = %+v", rec.runs)
	}
	if obs.successes != 1 {
		t.Errorf("successes = %d, want 1", obs.successes)
	}

	wantStates := []domain.LoopState{
		domain.LoopStateConnecting, domain.LoopStateBackoff,
		domain.LoopStateConnecting, domain.LoopStateBackoff,
		domain.LoopStateConnecting, domain.LoopStateLoading,
	}
	if len(obs.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", obs.states, wantStates)
	}
	for i := range wantStates {
		if obs.states[i] != wantStates[i] {
			t.Errorf("state[%d] = %s, want %s", i, obs.states[i], wantStates[i])
		}
	}
}

func TestRunOnce_RefreshesLockPerBatch(t *testing.T) {
	lock := &fakeLock{}
	sleeper := &sleepRecorder{}
	l := New(Config{
		Interval:   time.Second,
		Extractor:  extractorFor(&flakySource{good: catalog(7, 0)}),
		Sink:       memory.NewProductStore(),
		Supervisor: recovery.NewSupervisor(recovery.DefaultBackoff(), sleeper.sleep),
		Lock:       lock,
		Sleep:      sleeper.sleep,
	})

	stats, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if stats.Batches != 3 {
		t.Fatalf("batches = %d, want 3", stats.Batches)
	}
	if lock.refreshes != 3 {
		t.Errorf("refreshes = %d, want 3", lock.refreshes)
	}
}

func TestRunOnce_LostLockRestartsCycle(t *testing.T) {
	src := &flakySource{good: catalog(7, 0)}
	lock := &fakeLock{loseAt: 1}
	store := memory.NewProductStore()
	obs := &fakeObserver{}
	sleeper := &sleepRecorder{}
	l := New(Config{
		Interval:   time.Second,
		Extractor:  extractorFor(src),
		Sink:       store,
		Supervisor: recovery.NewSupervisor(recovery.DefaultBackoff(), sleeper.sleep),
		Lock:       lock,
		Observer:   obs,
		Sleep:      sleeper.sleep,
	})

	stats, err := l.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(obs.failures) != 1 || !errors.Is(obs.failures[0], ErrCycleLockLost) {
		t.Fatalf("failures = %v, want one ErrCycleLockLost", obs.failures)
	}
	if lock.attempts != 2 || lock.unlocks != 2 {
		t.Errorf("lock attempts/unlocks = %d/%d, want 2/2", lock.attempts, lock.unlocks)
	}
	// The first batch landed before the lock was lost.
	if stats.Inserted != 4 || stats.Skipped != 3 {
		t.Errorf("inserted/skipped = %d/%d, want 4/3", stats.Inserted, stats.Skipped)
	}
	if n, _ := store.Count(context.Background()); n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{domain.LoopStateIdle, domain.LoopStateConnecting, true},
		{domain.LoopStateConnecting, domain.LoopStateLoading, true},
		{domain.LoopStateLoading, domain.LoopStateSleeping, true},
		{domain.LoopStateLoading, domain.LoopStateBackoff, true},
		{domain.LoopStateBackoff, domain.LoopStateConnecting, true},
		{domain.LoopStateSleeping, domain.LoopStateConnecting, true},
		{domain.LoopStateIdle, domain.LoopStateLoading, false},
		{domain.LoopStateSleeping, domain.LoopStateLoading, false},
		{domain.LoopStateBackoff, domain.LoopStateLoading, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
