package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Runner runs settlements in the background, at most one per tx_ref in this
// process and at most `concurrency` at a time.
type Runner struct {
	base     context.Context
	workflow *Workflow
	logger   *slog.Logger
	sem      chan struct{}

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup

	// OnDone, when set, is called after each background settlement ends.
	OnDone func(txRef string, out *Outcome, err error)
}

// NewRunner ties every background settlement to ctx: cancelling it stops all
// of them.
func NewRunner(ctx context.Context, wf *Workflow, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		base:     ctx,
		workflow: wf,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start launches settlement of txRef. It returns false if one is already
// running for txRef.
func (r *Runner) Start(txRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inflight[txRef]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(r.base)
	r.inflight[txRef] = cancel
	inflight.Inc()
	r.wg.Add(1)

	go r.run(ctx, txRef)
	return true
}

func (r *Runner) run(ctx context.Context, txRef string) {
	defer r.wg.Done()
	defer r.release(txRef)

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.done(txRef, nil, ctx.Err())
		return
	}
	defer func() { <-r.sem }()

	out, err := r.workflow.Settle(ctx, txRef)
	switch {
	case err == nil:
		r.logger.Info("background settlement finished", "tx_ref", txRef, "status", out.Status, "applied", out.Applied)
	case errors.Is(err, context.Canceled):
		r.logger.Info("background settlement cancelled", "tx_ref", txRef)
	default:
		r.logger.Error("background settlement failed", "tx_ref", txRef, "error", err)
	}
	r.done(txRef, out, err)
}

func (r *Runner) done(txRef string, out *Outcome, err error) {
	if r.OnDone != nil {
		r.OnDone(txRef, out, err)
	}
}

func (r *Runner) release(txRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.inflight[txRef]; ok {
		cancel()
		delete(r.inflight, txRef)
		inflight.Dec()
	}
}

// Cancel stops the background settlement of txRef before its next poll.
// A ledger write or notification already under way still completes.
func (r *Runner) Cancel(txRef string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[txRef]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) Running(txRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[txRef]
	return ok
}

// Wait blocks until every started settlement has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
