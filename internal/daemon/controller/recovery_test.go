package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

func pendingAction(id, batchHash string) *types.CrossChainAction {
	a := testAction(id, 1)
	submitted := time.Now()
	a.Transactions[0].Status = types.TxStatusPending
	a.Transactions[0].SubmitTimestamp = &submitted
	a.Transactions[0].TransactionHash = batchHash
	a.BatchHash = batchHash
	return a
}

func TestRecovery_ConfirmsPendingAndResumesNext(t *testing.T) {
	gw := newFakeGateway()
	est := &fakeEstimator{}
	d, _ := newTestDispatcher(t, Config{Gateway: gw, Estimator: est})
	ctx := context.Background()

	err := d.ledger.Save(ctx, types.Ledger{
		"1000-0": {pendingAction("g1a", "0xh")},
		"2000-0": {testAction("g2a", 1)},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	gw.setBatch("0xh", types.BatchStateSent, "0xonchain")

	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	g1 := d.groups["1000-0"].group.Actions[0]
	g2 := d.groups["2000-0"].group.Actions[0]

	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("recoverPass failed: %v", err)
	}

	tx := g1.Transactions[0]
	if tx.Status != types.TxStatusConfirmed {
		t.Errorf("expected g1 CONFIRMED, got %s", tx.Status)
	}
	if tx.TransactionHash != "0xonchain" || tx.FinishTimestamp == nil {
		t.Errorf("expected resolved hash and finish time, got %q %v", tx.TransactionHash, tx.FinishTimestamp)
	}

	snap := d.Snapshot()
	if snap.Active != "2000-0" {
		t.Errorf("expected g2 active, got %q", snap.Active)
	}
	if len(snap.Groups) != 1 {
		t.Errorf("expected the settled g1 to be dropped, got %d groups", len(snap.Groups))
	}
	if g2.Estimated == nil {
		t.Error("expected g2 to be re-estimated")
	}

	task, _ := d.queue.Get()
	if task != (Task{Kind: TaskReconsider, Key: "2000-0"}) {
		t.Errorf("expected resume of g2, got %v", task)
	}

	persisted, err := d.ledger.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := persisted["1000-0"]; ok {
		t.Error("expected g1 dropped from the ledger")
	}
}

func TestRecovery_RevertFails(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	action := pendingAction("a", "0xh")
	action.Transactions = append(action.Transactions, types.NewTransaction(1, testReceiver, nil, nil))
	action.Transactions[1].Status = types.TxStatusConfirmed
	if err := d.ledger.Save(ctx, types.Ledger{"1000-0": {action}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	gw.setBatch("0xh", types.BatchStateReverted, "")

	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded := d.groups["1000-0"].group.Actions[0]
	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("recoverPass failed: %v", err)
	}

	got := statuses(loaded)
	if got[0] != types.TxStatusFailed {
		t.Errorf("expected the pending transaction FAILED, got %s", got[0])
	}
	if got[1] != types.TxStatusConfirmed {
		t.Errorf("expected CONFIRMED to stick, got %s", got[1])
	}
}

func TestRecovery_Idempotent(t *testing.T) {
	gw := newFakeGateway()
	d, kv := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	confirmed := testAction("a", 2)
	for _, tx := range confirmed.Transactions {
		tx.Status = types.TxStatusConfirmed
	}
	raw, err := json.Marshal(types.Ledger{"1000-0": {confirmed}})
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.SetItem(ctx, store.DefaultLedgerKey, string(raw)); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	writes := kv.Writes()
	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("recoverPass failed: %v", err)
	}
	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("recoverPass failed: %v", err)
	}
	if kv.Writes() != writes {
		t.Errorf("expected no writes, got %d", kv.Writes()-writes)
	}
}

func TestRecovery_PendingRepolls(t *testing.T) {
	gw := newFakeGateway()
	d, kv := newTestDispatcher(t, Config{Gateway: gw, RepollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := d.ledger.Save(ctx, types.Ledger{"1000-0": {pendingAction("a", "0xh")}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	gw.setBatch("0xh", types.BatchStatePending, "")
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	writes := kv.Writes()
	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("recoverPass failed: %v", err)
	}
	if kv.Writes() != writes {
		t.Error("expected an unresolved batch not to be written")
	}

	done := make(chan Task)
	go func() {
		task, _ := d.queue.Get()
		done <- task
	}()
	select {
	case task := <-done:
		if task.Kind != TaskRecover {
			t.Errorf("expected a recover task, got %v", task)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a scheduled recovery pass")
	}
}

func TestRecovery_LookupErrorIsRetried(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	if err := d.ledger.Save(ctx, types.Ledger{"1000-0": {pendingAction("a", "0xmissing")}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := d.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := d.recoverPass(ctx); err != nil {
		t.Fatalf("expected lookup errors to be absorbed, got %v", err)
	}

	d.mu.Lock()
	armed := d.repollTimer != nil
	d.mu.Unlock()
	if !armed {
		t.Error("expected another pass to be scheduled")
	}
}

func TestRecovery_LeaseHeld(t *testing.T) {
	kv := store.NewMemoryStore()
	ledger := store.NewLedgerStore(kv, "")
	ctx := context.Background()
	if err := ledger.AcquireLease(ctx, "other", time.Hour); err != nil {
		t.Fatalf("AcquireLease failed: %v", err)
	}

	d, _ := newTestDispatcher(t, Config{Ledger: ledger, Gateway: newFakeGateway(), Owner: "me"})
	if err := d.recoverPass(ctx); !store.IsLeaseHeld(err) {
		t.Errorf("expected LeaseHeldError, got %v", err)
	}
}
