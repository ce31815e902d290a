package controller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/estimator"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

var testReceiver = common.HexToAddress("0xbeef")

// fakeGateway is an in-memory chain gateway.
type fakeGateway struct {
	mu        sync.Mutex
	submitted [][]types.Call
	emptyHash bool
	submitErr error
	batches   map[string]*types.Batch
	txs       map[string]types.ChainTxStatus
	subs      map[string]chan<- types.BatchUpdate

	// entered and release make SubmitBatch block when set
	entered chan struct{}
	release chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		batches: make(map[string]*types.Batch),
		txs:     make(map[string]types.ChainTxStatus),
		subs:    make(map[string]chan<- types.BatchUpdate),
	}
}

func (g *fakeGateway) SubmitBatch(ctx context.Context, chainID int64, calls []types.Call, feeToken *common.Address) (string, error) {
	g.mu.Lock()
	g.submitted = append(g.submitted, calls)
	n := len(g.submitted)
	entered, release := g.entered, g.release
	emptyHash, submitErr := g.emptyHash, g.submitErr
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if submitErr != nil {
		return "", submitErr
	}
	if emptyHash {
		return "", nil
	}
	return fmt.Sprintf("0xbatch%d", n), nil
}

func (g *fakeGateway) GetBatch(ctx context.Context, chainID int64, hash string) (*types.Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[hash]
	if !ok {
		return nil, errors.New("batch not found")
	}
	c := *b
	return &c, nil
}

func (g *fakeGateway) GetTransaction(ctx context.Context, chainID int64, hash string) (types.ChainTxStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.txs[hash]
	if !ok {
		return types.ChainTxPending, nil
	}
	return s, nil
}

func (g *fakeGateway) SubscribeBatchUpdates(ctx context.Context, chainID int64, hash string, ch chan<- types.BatchUpdate) (ethereum.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[hash] = ch
	return newFakeSubscription(), nil
}

func (g *fakeGateway) setBatch(hash string, state types.BatchState, txHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches[hash] = &types.Batch{Hash: hash, State: state, TransactionHash: txHash}
}

func (g *fakeGateway) submissions() [][]types.Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]types.Call(nil), g.submitted...)
}

func (g *fakeGateway) subscription(hash string) (chan<- types.BatchUpdate, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.subs[hash]
	return ch, ok
}

type fakeSubscription struct {
	once sync.Once
	err  chan error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{err: make(chan error)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.err) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.err
}

// fakeSigner signs nothing and returns sequential hashes.
type fakeSigner struct {
	mu    sync.Mutex
	calls []types.Call
	err   error
}

func (s *fakeSigner) Submit(ctx context.Context, chainID int64, call types.Call) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.calls = append(s.calls, call)
	return fmt.Sprintf("0xtx%d", len(s.calls)), nil
}

func (s *fakeSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeEstimator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEstimator) Estimate(ctx context.Context, action *types.CrossChainAction) (*types.Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &types.Estimate{FeeAsset: types.NativeAsset}, nil
}

func testAction(id string, n int) *types.CrossChainAction {
	a := &types.CrossChainAction{ID: id, ChainID: 1, Type: types.ActionSend}
	for i := 0; i < n; i++ {
		a.Transactions = append(a.Transactions, types.NewTransaction(1, testReceiver, nil, []byte{byte(i)}))
	}
	return a
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *store.MemoryStore) {
	t.Helper()
	kv := store.NewMemoryStore()
	if cfg.Ledger == nil {
		cfg.Ledger = store.NewLedgerStore(kv, "")
	}
	if cfg.RepollInterval == 0 {
		cfg.RepollInterval = time.Hour
	}
	d := NewDispatcher(cfg)
	t.Cleanup(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.repollTimer != nil {
			d.repollTimer.Stop()
		}
	})
	return d, kv
}

func statuses(a *types.CrossChainAction) []types.TxStatus {
	var out []types.TxStatus
	for _, tx := range a.AllTransactions() {
		out = append(out, tx.Status)
	}
	return out
}

func TestDispatcher_SubmitPersistsGroup(t *testing.T) {
	gw := newFakeGateway()
	est := &fakeEstimator{}
	d, kv := newTestDispatcher(t, Config{Gateway: gw, Estimator: est})
	ctx := context.Background()

	id, err := d.Submit(ctx, []*types.CrossChainAction{testAction("a", 1), testAction("b", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected a dispatch id")
	}
	if est.calls != 2 {
		t.Errorf("expected 2 estimates, got %d", est.calls)
	}

	ledger, err := store.NewLedgerStore(kv, "").Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(ledger[id.String()]); got != 2 {
		t.Errorf("expected 2 persisted actions, got %d", got)
	}

	snap := d.Snapshot()
	if snap.Active != id.String() {
		t.Errorf("expected active %s, got %q", id, snap.Active)
	}

	task, _ := d.queue.Get()
	if task != (Task{Kind: TaskReconsider, Key: id.String()}) {
		t.Errorf("expected reconsider task, got %v", task)
	}

	events := d.Events()
	if len(events) != 1 || events[0].Reason != types.ReasonDispatched {
		t.Errorf("expected a Dispatched event, got %v", events)
	}
}

func TestDispatcher_SubmitEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{Gateway: newFakeGateway()})

	if _, err := d.Submit(context.Background(), nil); !errors.Is(err, ErrNoActions) {
		t.Errorf("expected ErrNoActions, got %v", err)
	}
}

func TestDispatcher_SubmitRefusesInsufficientFunds(t *testing.T) {
	est := &fakeEstimator{err: &estimator.InsufficientFundsError{
		Asset:   types.NativeAsset,
		Balance: big.NewInt(0),
		Cost:    big.NewInt(1),
	}}
	d, kv := newTestDispatcher(t, Config{Gateway: newFakeGateway(), Estimator: est})

	_, err := d.Submit(context.Background(), []*types.CrossChainAction{testAction("a", 1)})
	if !errors.Is(err, estimator.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if n := len(d.Snapshot().Groups); n != 0 {
		t.Errorf("expected no groups, got %d", n)
	}
	if kv.Writes() != 0 {
		t.Errorf("expected no ledger writes, got %d", kv.Writes())
	}
}

func TestDispatcher_SubmitToleratesEstimatorError(t *testing.T) {
	est := &fakeEstimator{err: errors.New("node down")}
	d, _ := newTestDispatcher(t, Config{Gateway: newFakeGateway(), Estimator: est})

	action := testAction("a", 1)
	if _, err := d.Submit(context.Background(), []*types.CrossChainAction{action}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if action.Estimated != nil {
		t.Errorf("expected no estimate, got %+v", action.Estimated)
	}
}

func TestDispatcher_IDsAreOrdered(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{Gateway: newFakeGateway()})
	ctx := context.Background()

	first, err := d.Submit(ctx, []*types.CrossChainAction{testAction("a", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second, err := d.Submit(ctx, []*types.CrossChainAction{testAction("b", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !first.Before(second) {
		t.Errorf("expected %s before %s", first, second)
	}

	snap := d.Snapshot()
	if snap.Active != first.String() {
		t.Errorf("expected the oldest group active, got %q", snap.Active)
	}
	if len(snap.Groups) != 2 || snap.Groups[0].ID != first {
		t.Errorf("expected groups oldest first, got %v", snap.Groups)
	}
}

func TestDispatcher_Cancel(t *testing.T) {
	gw := newFakeGateway()
	d, kv := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	if err := d.Cancel(ctx, "1-0"); !store.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	id, err := d.Submit(ctx, []*types.CrossChainAction{testAction("a", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := d.Cancel(ctx, id.String()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, ok, _ := kv.GetItem(ctx, store.DefaultLedgerKey); ok {
		t.Error("expected the ledger entry to be removed")
	}
	if _, err := d.Group(id.String()); !store.IsNotFound(err) {
		t.Errorf("expected cancelled group to be gone, got %v", err)
	}
}

func TestDispatcher_CancelAfterSubmission(t *testing.T) {
	gw := newFakeGateway()
	d, _ := newTestDispatcher(t, Config{Gateway: gw})
	ctx := context.Background()

	id, err := d.Submit(ctx, []*types.CrossChainAction{testAction("a", 1), testAction("b", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	d.reconsider(ctx, id.String())

	if err := d.Cancel(ctx, id.String()); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestDispatcher_SubscribeKeepsLatest(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{Gateway: newFakeGateway()})
	ctx := context.Background()

	ch, cancel := d.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := d.Submit(ctx, []*types.CrossChainAction{testAction(fmt.Sprint(i), 1)}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	select {
	case snap := <-ch:
		if len(snap.Groups) != 3 {
			t.Errorf("expected the latest snapshot with 3 groups, got %d", len(snap.Groups))
		}
	default:
		t.Fatal("expected a snapshot")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected the channel to be closed")
	}
}

func TestDispatcher_LoadKeepsUnknownKeys(t *testing.T) {
	kv := store.NewMemoryStore()
	ledger := store.NewLedgerStore(kv, "")
	ctx := context.Background()

	err := ledger.Save(ctx, types.Ledger{
		"legacy": {testAction("x", 1)},
		"1000-0": {testAction("a", 1)},
		"2000-3": {testAction("b", 1)},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	d, _ := newTestDispatcher(t, Config{Ledger: ledger, Gateway: newFakeGateway()})
	id, err := d.Submit(ctx, []*types.CrossChainAction{testAction("c", 1)})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !(types.DispatchID{Timestamp: 2000, Sequence: 3}).Before(id) {
		t.Errorf("expected new id after loaded ids, got %s", id)
	}

	persisted, err := ledger.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := persisted["legacy"]; !ok {
		t.Error("expected the unknown entry to survive a save")
	}
	if len(persisted) != 4 {
		t.Errorf("expected 4 entries, got %d", len(persisted))
	}
}

func TestDispatcher_LoadCorruptLedger(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	if err := kv.SetItem(ctx, store.DefaultLedgerKey, "{not json"); err != nil {
		t.Fatal(err)
	}

	d, _ := newTestDispatcher(t, Config{Ledger: store.NewLedgerStore(kv, ""), Gateway: newFakeGateway()})
	err := d.Load(ctx)
	var corrupt *store.CorruptLedgerError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptLedgerError, got %v", err)
	}
	if !strings.Contains(err.Error(), store.DefaultLedgerKey) {
		t.Errorf("expected the key in %q", err)
	}
}
