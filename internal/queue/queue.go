// Package queue is an in-process job queue with a fixed worker pool and
// timer-based retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notice_hub/internal/model"
)

// Handler processes one job. Returning an error schedules a retry unless the
// error is Permanent or attempts are exhausted.
type Handler[T any] func(ctx context.Context, job T) error

// Enqueuer accepts jobs of type T.
type Enqueuer[T any] interface {
	Enqueue(ctx context.Context, job T) error
}

// FailureRecorder persists jobs that were given up on.
type FailureRecorder interface {
	RecordJobFailure(ctx context.Context, f *model.JobFailure) error
}

// Options configures a Queue. Zero values take defaults.
type Options struct {
	Name        string
	Workers     int
	MaxAttempts int
	Buffer      int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.2 = ±20%
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Minute
	}
	if o.Jitter <= 0 || o.Jitter >= 1 {
		o.Jitter = 0.2
	}
	return o
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Delayed   int64  `json:"delayed"`
	InFlight  int64  `json:"in_flight"`
	Enqueued  uint64 `json:"enqueued"`
	Succeeded uint64 `json:"succeeded"`
	Retried   uint64 `json:"retried"`
	Failed    uint64 `json:"failed"`
}

type envelope[T any] struct {
	job     T
	attempt int
}

// Queue runs jobs of type T on a fixed pool of workers.
type Queue[T any] struct {
	opts     Options
	handler  Handler[T]
	failures FailureRecorder
	log      *slog.Logger

	jobs chan envelope[T]
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	delayed   atomic.Int64
	inFlight  atomic.Int64
	enqueued  atomic.Uint64
	succeeded atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a queue. failures may be nil.
func New[T any](opts Options, handler Handler[T], failures FailureRecorder, log *slog.Logger) *Queue[T] {
	opts = opts.withDefaults()
	return &Queue[T]{
		opts:     opts,
		handler:  handler,
		failures: failures,
		log:      log.With("queue", opts.Name),
		jobs:     make(chan envelope[T], opts.Buffer),
		stop:     make(chan struct{}),
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (q *Queue[T]) Start(ctx context.Context) {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.log.Info("queue started", "workers", q.opts.Workers, "max_attempts", q.opts.MaxAttempts)
}

// Stop halts the workers and waits for in-flight jobs. Jobs still buffered or
// waiting for a retry are dropped.
func (q *Queue[T]) Stop() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
	if n := len(q.jobs); n > 0 {
		q.log.Warn("queue stopped with pending jobs", "pending", n)
	}
}

// Enqueue adds job to the queue, blocking while the buffer is full.
func (q *Queue[T]) Enqueue(ctx context.Context, job T) error {
	select {
	case <-q.stop:
		return ErrStopped
	default:
	}
	select {
	case q.jobs <- envelope[T]{job: job, attempt: 1}:
		q.enqueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stop:
		return ErrStopped
	}
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.opts.Name,
		Workers:   q.opts.Workers,
		Queued:    len(q.jobs),
		Delayed:   q.delayed.Load(),
		InFlight:  q.inFlight.Load(),
		Enqueued:  q.enqueued.Load(),
		Succeeded: q.succeeded.Load(),
		Retried:   q.retried.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case env := <-q.jobs:
			q.inFlight.Add(1)
			q.exec(ctx, env)
			q.inFlight.Add(-1)
		}
	}
}

func (q *Queue[T]) exec(ctx context.Context, env envelope[T]) {
	err := q.run(ctx, env.job)
	if err == nil {
		q.succeeded.Add(1)
		return
	}

	if IsPermanent(err) || env.attempt >= q.opts.MaxAttempts {
		q.fail(ctx, env, err)
		return
	}

	delay := q.backoff(env.attempt)
	q.retried.Add(1)
	q.log.Warn("job failed, retry scheduled",
		"attempt", env.attempt, "delay", delay, "error", err)

	next := envelope[T]{job: env.job, attempt: env.attempt + 1}
	q.delayed.Add(1)
	time.AfterFunc(delay, func() {
		defer q.delayed.Add(-1)
		select {
		case q.jobs <- next:
		case <-q.stop:
		case <-ctx.Done():
		}
	})
}

// run invokes the handler, converting a panic into an error.
func (q *Queue[T]) run(ctx context.Context, job T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			q.log.Error("job panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue[T]) fail(ctx context.Context, env envelope[T], err error) {
	q.failed.Add(1)
	q.log.Error("job failed", "attempts", env.attempt, "permanent", IsPermanent(err), "error", err)
	if q.failures == nil {
		return
	}

	payload, mErr := json.Marshal(env.job)
	if mErr != nil {
		payload = []byte(fmt.Sprintf("%q", fmt.Sprint(env.job)))
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rErr := q.failures.RecordJobFailure(rctx, &model.JobFailure{
		Queue:    q.opts.Name,
		Payload:  payload,
		Error:    err.Error(),
		Attempts: env.attempt,
	}); rErr != nil {
		q.log.Error("record job failure", "error", rErr)
	}
}

// backoff returns the delay before the attempt following attempt: the base
// delay doubled per attempt, capped, with symmetric jitter.
func (q *Queue[T]) backoff(attempt int) time.Duration {
	d := q.opts.MaxDelay
	if attempt < 32 {
		d = q.opts.BaseDelay << (attempt - 1)
	}
	if d <= 0 || d > q.opts.MaxDelay {
		d = q.opts.MaxDelay
	}
	j := 1 + q.opts.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * j)
}
