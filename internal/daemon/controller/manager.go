package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
)

// ErrAlreadyRunning is returned when Run is called a second time.
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Enqueue schedules a task for the consumer loop.
func (d *Dispatcher) Enqueue(task Task) {
	d.queue.Add(task)
}

// Run loads the ledger, starts recovery and drains the task queue until
// ctx is cancelled. It blocks until the consumer loop has stopped.
// When an owner is configured the ledger lease is held for the whole run;
// losing it stops Run with the lease error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	defer d.stopOnce.Do(func() {
		close(d.stopped)
	})

	if d.owner != "" {
		if err := d.ledger.AcquireLease(ctx, d.owner, d.leaseTTL); err != nil {
			return err
		}
		defer func() {
			if err := d.ledger.ReleaseLease(context.Background(), d.owner); err != nil {
				d.logger.Warn("failed to release ledger lease", "error", err)
			}
		}()
	}

	if err := d.Load(ctx); err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()
	if d.queue.ShuttingDown() {
		cancel(nil)
	}

	d.listener.start(ctx)
	d.queue.Add(Task{Kind: TaskRecover})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runWorker(ctx)
	}()
	if d.owner != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.renewLease(ctx, cancel)
		}()
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Shutdown the queue to unblock the worker waiting on Get()
	d.queue.ShutDown()
	wg.Wait()

	d.mu.Lock()
	if d.repollTimer != nil {
		d.repollTimer.Stop()
		d.repollTimer = nil
	}
	d.mu.Unlock()
	d.listener.closeAll()

	d.logger.Info("dispatcher stopped")

	if cause := context.Cause(ctx); cause != nil && store.IsLeaseHeld(cause) {
		return cause
	}
	return nil
}

// Stop shuts the queue down and waits for Run to return. It must only be
// called after Run was started.
func (d *Dispatcher) Stop() {
	d.queue.ShutDown()
	d.mu.Lock()
	cancel := d.cancelRun
	d.mu.Unlock()
	if cancel != nil {
		cancel(nil)
	}
	<-d.stopped
}

// renewLease refreshes the ledger lease every third of its TTL until ctx
// is done. Another owner taking the lease cancels the run.
func (d *Dispatcher) renewLease(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(d.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.ledger.AcquireLease(ctx, d.owner, d.leaseTTL)
			switch {
			case err == nil:
			case store.IsLeaseHeld(err):
				d.logger.Error("ledger lease lost, stopping", "error", err)
				cancel(err)
				return
			case ctx.Err() != nil:
				return
			default:
				d.logger.Warn("failed to renew ledger lease", "error", err)
			}
		}
	}
}

// runWorker processes tasks until the queue shuts down.
func (d *Dispatcher) runWorker(ctx context.Context) {
	d.logger.Debug("worker started")

	for {
		task, shutdown := d.queue.Get()
		if shutdown {
			d.logger.Debug("worker shutting down")
			return
		}
		d.processTask(ctx, task)
	}
}

// processTask handles a single task.
func (d *Dispatcher) processTask(ctx context.Context, task Task) {
	defer d.queue.Done(task)

	d.logger.Debug("processing", "task", task.String())

	var err error
	switch task.Kind {
	case TaskReconsider:
		d.reconsider(ctx, task.Key)
	case TaskRecover:
		err = d.recoverPass(ctx)
	case TaskBatchUpdate:
		err = d.handleBatchUpdate(ctx, task.Key)
	default:
		d.logger.Warn("unknown task", "task", task.String())
		return
	}

	if err == nil {
		d.logger.Debug("task complete", "task", task.String())
		return
	}
	if store.IsLeaseHeld(err) {
		d.logger.Error("ledger lease lost, stopping", "error", err)
		d.mu.Lock()
		cancel := d.cancelRun
		d.mu.Unlock()
		if cancel != nil {
			cancel(err)
		}
		return
	}
	d.logger.Debug("task failed", "task", task.String(), "error", err)
}
