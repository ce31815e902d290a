package controller

import (
	"context"
	"testing"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestListener_SyncOpensAndCloses(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := d.listener
	l.sync(map[batchKey]struct{}{{ChainID: 1, BatchHash: "0xa"}: {}})
	if l.count() != 0 {
		t.Fatal("expected no subscriptions before start")
	}

	l.start(ctx)
	l.sync(map[batchKey]struct{}{
		{ChainID: 1, BatchHash: "0xa"}: {},
		{ChainID: 2, BatchHash: "0xb"}: {},
	})
	if l.count() != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", l.count())
	}

	l.sync(map[batchKey]struct{}{{ChainID: 2, BatchHash: "0xb"}: {}})
	if l.count() != 1 {
		t.Fatalf("expected 1 subscription, got %d", l.count())
	}

	l.closeAll()
	if l.count() != 0 {
		t.Errorf("expected no subscriptions, got %d", l.count())
	}
}

func TestListener_NotificationEnqueues(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.listener.start(ctx)
	d.listener.sync(map[batchKey]struct{}{{ChainID: 1, BatchHash: "0xa"}: {}})

	ch, ok := gw.subscription("0xa")
	if !ok {
		t.Fatal("expected a subscription")
	}
	ch <- types.BatchUpdate{Hash: "0xa", State: types.BatchStateSent}

	task, _ := d.queue.Get()
	if task != (Task{Kind: TaskBatchUpdate, Key: "1/0xa"}) {
		t.Errorf("unexpected task %v", task)
	}
}

func TestHandleBatchUpdate_ConfirmsAction(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	first := pendingAction("a", "0xh")
	if err := d.ledger.Save(ctx, types.Ledger{"1000-0": {first, testAction("b", 1)}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded := d.groups["1000-0"].group.Actions[0]

	gw.setBatch("0xh", types.BatchStatePending, "")
	if err := d.handleBatchUpdate(ctx, "1/0xh"); err != nil {
		t.Fatalf("handleBatchUpdate failed: %v", err)
	}
	if loaded.Transactions[0].Status != types.TxStatusPending {
		t.Errorf("expected an in-flight batch to be a no-op, got %s", loaded.Transactions[0].Status)
	}

	gw.setBatch("0xh", types.BatchStateSent, "0xonchain")
	if err := d.handleBatchUpdate(ctx, "1/0xh"); err != nil {
		t.Fatalf("handleBatchUpdate failed: %v", err)
	}
	if loaded.Transactions[0].Status != types.TxStatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", loaded.Transactions[0].Status)
	}

	// a late revert does not undo the confirmation
	gw.setBatch("0xh", types.BatchStateReverted, "")
	if err := d.handleBatchUpdate(ctx, "1/0xh"); err != nil {
		t.Fatalf("handleBatchUpdate failed: %v", err)
	}
	if loaded.Transactions[0].Status != types.TxStatusConfirmed {
		t.Errorf("expected CONFIRMED to stick, got %s", loaded.Transactions[0].Status)
	}
}

func TestHandleBatchUpdate_InvalidKey(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{Gateway: newFakeGateway()})
	if err := d.handleBatchUpdate(context.Background(), "nope"); err == nil {
		t.Error("expected an error for an invalid key")
	}
}
