package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// batchSubscription is one open batch-update stream.
type batchSubscription struct {
	cancel context.CancelFunc
}

// listener keeps one batch-update subscription per monitored batch.
// Notifications only enqueue work; the consumer loop does the fetch.
type listener struct {
	gateway Gateway
	enqueue func(Task)
	metrics *Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	subs map[batchKey]*batchSubscription
}

func newListener(gateway Gateway, enqueue func(Task), metrics *Metrics) *listener {
	return &listener{
		gateway: gateway,
		enqueue: enqueue,
		metrics: metrics,
		logger:  slog.Default(),
		subs:    make(map[batchKey]*batchSubscription),
	}
}

// start sets the context every subscription lives under. Subscriptions are
// only opened after start.
func (l *listener) start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx = ctx
}

// sync opens subscriptions for wanted keys and closes the others.
func (l *listener) sync(wanted map[batchKey]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil || l.ctx.Err() != nil || l.gateway == nil {
		return
	}

	for key, sub := range l.subs {
		if _, ok := wanted[key]; !ok {
			sub.cancel()
			delete(l.subs, key)
			l.logger.Debug("batch subscription closed", "batch", key.String())
		}
	}

	for key := range wanted {
		if _, ok := l.subs[key]; ok {
			continue
		}
		if sub := l.open(key); sub != nil {
			l.subs[key] = sub
		}
	}
	l.metrics.ActiveSubscriptions.Set(float64(len(l.subs)))
}

// open starts one subscription. Failures are logged and retried by the
// next sync.
func (l *listener) open(key batchKey) *batchSubscription {
	ctx, cancel := context.WithCancel(l.ctx)
	ch := make(chan types.BatchUpdate, 8)

	stream, err := l.gateway.SubscribeBatchUpdates(ctx, key.ChainID, key.BatchHash, ch)
	if err != nil {
		cancel()
		l.logger.Debug("batch subscription failed", "batch", key.String(), "error", err)
		return nil
	}

	sub := &batchSubscription{cancel: cancel}
	go l.watch(ctx, key, sub, stream, ch)

	l.logger.Debug("batch subscription opened", "batch", key.String())
	return sub
}

func (l *listener) watch(ctx context.Context, key batchKey, sub *batchSubscription, stream ethereum.Subscription, ch <-chan types.BatchUpdate) {
	defer stream.Unsubscribe()

	task := Task{Kind: TaskBatchUpdate, Key: key.String()}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			l.enqueue(task)
		case err := <-stream.Err():
			l.logger.Debug("batch subscription dropped", "batch", key.String(), "error", err)
			l.drop(key, sub)
			return
		}
	}
}

// drop forgets a dead subscription so the next sync reopens it.
func (l *listener) drop(key batchKey, sub *batchSubscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.subs[key]; ok && current == sub {
		sub.cancel()
		delete(l.subs, key)
		l.metrics.ActiveSubscriptions.Set(float64(len(l.subs)))
	}
}

// closeAll tears every subscription down.
func (l *listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, sub := range l.subs {
		sub.cancel()
		delete(l.subs, key)
	}
	l.metrics.ActiveSubscriptions.Set(0)
}

// count returns the number of open subscriptions.
func (l *listener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// handleBatchUpdate re-fetches a notified batch and settles the actions
// that submitted it.
func (d *Dispatcher) handleBatchUpdate(ctx context.Context, key string) error {
	bk, err := parseBatchKey(key)
	if err != nil {
		return err
	}

	batch, err := d.gateway.GetBatch(ctx, bk.ChainID, bk.BatchHash)
	if err != nil {
		return err
	}
	status, ok := batch.State.Resolve()
	if !ok {
		return nil
	}

	now := d.now()
	d.mu.Lock()
	changed := false
	for _, gs := range d.groups {
		for _, action := range gs.group.Actions {
			if action.ChainID != bk.ChainID || action.BatchHash != bk.BatchHash {
				continue
			}
			if n := action.Resolve(status, now, batch.TransactionHash); n > 0 {
				d.recordResolvedLocked(gs, action, status, n)
				changed = true
			}
		}
	}
	d.commitLocked(ctx, changed)
	active := d.activeLocked()
	d.mu.Unlock()

	if changed && active != "" {
		d.queue.Add(Task{Kind: TaskReconsider, Key: active})
	}
	d.syncSubscriptions()
	return nil
}
