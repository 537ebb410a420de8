package mutationstore

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/matt-ramotar/storex/config"
)

// RetryTask is a unit of retryable work scheduled after a mutation
// resolves Enqueued (§4.9 step 3: "Schedule retry via an out-of-core
// queue (not specified here)"). A nil return ends the retry loop; any
// other error is retried under backoff until MaxAttempts is exhausted.
type RetryTask func(ctx context.Context) error

// RetryQueue paces retries of Enqueued mutation outcomes using an
// exponential backoff per task, grounded on github.com/cenkalti/backoff/v4
// the way the donor's circuit-breaker/retry wiring favors a real
// backoff library over a hand-rolled sleep loop.
type RetryQueue struct {
	cfg config.RetryQueueConfig
	log zerolog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetryQueue constructs a RetryQueue bound to its own cancellable
// scope, torn down by Close.
func NewRetryQueue(cfg config.RetryQueueConfig, log zerolog.Logger) *RetryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryQueue{cfg: cfg, log: log, ctx: ctx, cancel: cancel}
}

// Enqueue schedules task to run in the background with exponential
// backoff, stopping early if the queue is closed or ctx is cancelled.
func (q *RetryQueue) Enqueue(ctx context.Context, label string, task RetryTask) {
	q.mu.Lock()
	qctx := q.ctx
	q.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialInterval
	b.MaxInterval = q.cfg.MaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead, not elapsed wall time

	bounded := backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts))
	merged, mergedCancel := mergeContexts(ctx, qctx)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer mergedCancel()

		attempt := 0
		err := backoff.Retry(func() error {
			attempt++
			err := task(merged)
			if err != nil {
				q.log.Warn().Str("task", label).Int("attempt", attempt).Err(err).Msg("retry task failed")
			}
			return err
		}, backoff.WithContext(bounded, merged))

		if err != nil {
			q.log.Error().Str("task", label).Int("attempts", attempt).Err(err).Msg("retry task exhausted")
		}
	}()
}

// Close cancels every outstanding retry task and waits for them to
// unwind.
func (q *RetryQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

// mergeContexts derives a context cancelled when either parent is
// done, mirroring readstore.Store's childContext merge pattern.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	child, cancelChild := context.WithCancel(a)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-b.Done():
		case <-done:
		}
		cancelChild()
	}()

	return child, func() { once.Do(func() { close(done) }) }
}
