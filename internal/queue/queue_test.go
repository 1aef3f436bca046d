package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"notice_hub/internal/model"
)

type job struct {
	ID string `json:"id"`
}

type failureLog struct {
	mu       sync.Mutex
	failures []model.JobFailure
	done     chan struct{}
}

func newFailureLog() *failureLog {
	return &failureLog{done: make(chan struct{}, 8)}
}

func (f *failureLog) RecordJobFailure(_ context.Context, jf *model.JobFailure) error {
	f.mu.Lock()
	f.failures = append(f.failures, *jf)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions(name string) Options {
	return Options{Name: name, Workers: 2, MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueueRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 10)
	var mu sync.Mutex
	var seen []string
	q := New[job](fastOptions("ingest"), func(_ context.Context, j job) error {
		mu.Lock()
		seen = append(seen, j.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil, discardLogger())
	q.Start(ctx)
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, job{ID: id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		waitFor(t, done, "job")
	}

	mu.Lock()
	got := len(seen)
	mu.Unlock()
	if got != 3 {
		t.Errorf("handled %d jobs, want 3", got)
	}

	// Counters are updated after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := q.Stats(); st.Succeeded == 3 && st.InFlight == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	st := q.Stats()
	want := Stats{Name: "ingest", Workers: 2, Enqueued: 3, Succeeded: 3}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	failures := newFailureLog()
	q := New[job](fastOptions("process"), func(_ context.Context, _ job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		done <- struct{}{}
		return nil
	}, failures, discardLogger())
	q.Start(ctx)
	defer q.Stop()

	if err := q.Enqueue(ctx, job{ID: "x"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, done, "third attempt")

	if got := calls.Load(); got != 3 {
		t.Errorf("handler called %d times, want 3", got)
	}
	if got := q.Stats().Retried; got != 2 {
		t.Errorf("Retried = %d, want 2", got)
	}
	failures.mu.Lock()
	defer failures.mu.Unlock()
	if len(failures.failures) != 0 {
		t.Errorf("unexpected failures recorded: %+v", failures.failures)
	}
}

func TestQueueRecordsFailure(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
		wantError    string
	}{
		{
			name:         "exhausted retries",
			err:          errors.New("source unreachable"),
			wantAttempts: 3,
			wantError:    "source unreachable",
		},
		{
			name:         "permanent error not retried",
			err:          Permanent(errors.New("source inactive")),
			wantAttempts: 1,
			wantError:    "permanent: source inactive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var calls atomic.Int32
			failures := newFailureLog()
			q := New[job](fastOptions("notify"), func(_ context.Context, _ job) error {
				calls.Add(1)
				return tt.err
			}, failures, discardLogger())
			q.Start(ctx)
			defer q.Stop()

			if err := q.Enqueue(ctx, job{ID: "j1"}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			waitFor(t, failures.done, "failure record")

			failures.mu.Lock()
			got := failures.failures[0]
			failures.mu.Unlock()

			want := model.JobFailure{Queue: "notify", Payload: []byte(`{"id":"j1"}`), Error: tt.wantError, Attempts: tt.wantAttempts}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("failure mismatch (-want +got):\n%s", diff)
			}
			if int(calls.Load()) != tt.wantAttempts {
				t.Errorf("handler called %d times, want %d", calls.Load(), tt.wantAttempts)
			}
		})
	}
}

func TestQueueRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := newFailureLog()
	opts := fastOptions("process")
	opts.MaxAttempts = 1
	q := New[job](opts, func(context.Context, job) error {
		panic("boom")
	}, failures, discardLogger())
	q.Start(ctx)
	defer q.Stop()

	if err := q.Enqueue(ctx, job{ID: "p"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, failures.done, "failure record")

	failures.mu.Lock()
	defer failures.mu.Unlock()
	if diff := cmp.Diff("panic: boom", failures.failures[0].Error); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedJobDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 1)
	opts := fastOptions("notify")
	opts.Workers = 1
	opts.BaseDelay = 50 * time.Millisecond
	opts.MaxDelay = 50 * time.Millisecond
	q := New[job](opts, func(_ context.Context, j job) error {
		if j.ID == "bad" {
			return errors.New("always fails")
		}
		done <- struct{}{}
		return nil
	}, nil, discardLogger())
	q.Start(ctx)
	defer q.Stop()

	_ = q.Enqueue(ctx, job{ID: "bad"})
	_ = q.Enqueue(ctx, job{ID: "good"})
	waitFor(t, done, "good job while bad job backs off")
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New[job](fastOptions("ingest"), func(context.Context, job) error { return nil }, nil, discardLogger())
	q.Start(context.Background())
	q.Stop()

	if err := q.Enqueue(context.Background(), job{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue() error = %v, want ErrStopped", err)
	}
}

func TestEnqueueFullBufferHonorsContext(t *testing.T) {
	opts := fastOptions("ingest")
	opts.Buffer = 1
	q := New[job](opts, func(context.Context, job) error { return nil }, nil, discardLogger())
	// Not started: nothing drains the buffer.
	if err := q.Enqueue(context.Background(), job{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, job{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue() error = %v, want deadline exceeded", err)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	wrapped := Permanent(base)
	if !IsPermanent(wrapped) || !errors.Is(wrapped, base) {
		t.Errorf("Permanent() lost identity: %v", wrapped)
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
}

func TestBackoff(t *testing.T) {
	q := New[int](Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.2}, func(context.Context, int) error { return nil }, nil, discardLogger())

	tests := []struct {
		attempt int
		nominal time.Duration
	}{
		{attempt: 1, nominal: 100 * time.Millisecond},
		{attempt: 2, nominal: 200 * time.Millisecond},
		{attempt: 3, nominal: 400 * time.Millisecond},
		{attempt: 5, nominal: time.Second},
		{attempt: 70, nominal: time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			d := q.backoff(tt.attempt)
			lo := time.Duration(float64(tt.nominal) * 0.8)
			hi := time.Duration(float64(tt.nominal) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("backoff(%d) = %v, want within [%v, %v]", tt.attempt, d, lo, hi)
			}
		}
	}
}
