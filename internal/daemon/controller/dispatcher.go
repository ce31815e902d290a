// internal/daemon/controller/dispatcher.go
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/estimator"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/store"
	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// Gateway is the managed-wallet chain gateway.
type Gateway interface {
	SubmitBatch(ctx context.Context, chainID int64, calls []types.Call, feeToken *common.Address) (string, error)
	GetBatch(ctx context.Context, chainID int64, hash string) (*types.Batch, error)
	GetTransaction(ctx context.Context, chainID int64, hash string) (types.ChainTxStatus, error)
	SubscribeBatchUpdates(ctx context.Context, chainID int64, hash string, ch chan<- types.BatchUpdate) (ethereum.Subscription, error)
}

// Signer submits external-signer transactions one at a time.
type Signer interface {
	Submit(ctx context.Context, chainID int64, call types.Call) (string, error)
}

// Estimator prices an action and refuses unaffordable ones.
type Estimator interface {
	Estimate(ctx context.Context, action *types.CrossChainAction) (*types.Estimate, error)
}

// Config configures a Dispatcher.
type Config struct {
	Ledger    *store.LedgerStore
	Gateway   Gateway
	Signer    Signer
	Estimator Estimator

	// Owner identifies this instance in the ledger lease. Empty disables
	// the lease.
	Owner    string
	LeaseTTL time.Duration

	// RepollInterval is the delay between recovery passes while any
	// transaction is pending.
	RepollInterval time.Duration

	// Registerer receives the dispatcher metrics. A private registry is
	// used when nil.
	Registerer prometheus.Registerer

	// EventCapacity bounds the retained events.
	EventCapacity int
}

// groupState is one in-memory dispatch group.
type groupState struct {
	group *types.Group
	// processing is the id of the action being submitted, empty when idle.
	processing string
	// aborted groups failed submission; they only wait for their
	// already-submitted transactions to settle.
	aborted bool
}

// Snapshot is a consistent copy of the dispatcher state.
type Snapshot struct {
	// Active is the group the sequencer advances, empty if none.
	Active string `json:"active,omitempty"`
	// Groups are the visible groups, oldest first.
	Groups []*types.Group `json:"groups"`
	// Processing maps group ids to the action being submitted.
	Processing map[string]string `json:"processing,omitempty"`
}

// Dispatcher owns every dispatch group and serializes all work on them
// through one task queue.
type Dispatcher struct {
	mu sync.Mutex

	groups map[string]*groupState
	// foreign holds ledger entries whose keys are not dispatch ids.
	foreign types.Ledger
	loaded  bool

	ledger    *store.LedgerStore
	gateway   Gateway
	signer    Signer
	estimator Estimator

	owner    string
	leaseTTL time.Duration
	repoll   time.Duration

	queue    *WorkQueue
	ids      *types.IDGenerator
	events   *types.EventRing
	listener *listener
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	repollTimer *time.Timer
	running     bool
	cancelRun   context.CancelCauseFunc

	subMu       sync.Mutex
	subscribers map[int]chan Snapshot
	nextSub     int

	// Shutdown coordination
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Minute
	}
	if cfg.RepollInterval <= 0 {
		cfg.RepollInterval = 10 * time.Second
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = 100
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	d := &Dispatcher{
		groups:      make(map[string]*groupState),
		foreign:     types.Ledger{},
		ledger:      cfg.Ledger,
		gateway:     cfg.Gateway,
		signer:      cfg.Signer,
		estimator:   cfg.Estimator,
		owner:       cfg.Owner,
		leaseTTL:    cfg.LeaseTTL,
		repoll:      cfg.RepollInterval,
		queue:       NewWorkQueue(),
		ids:         types.NewIDGenerator(),
		events:      types.NewEventRing(cfg.EventCapacity),
		metrics:     NewMetrics(reg),
		logger:      slog.Default(),
		now:         time.Now,
		subscribers: make(map[int]chan Snapshot),
		stopped:     make(chan struct{}),
	}
	d.listener = newListener(cfg.Gateway, d.queue.Add, d.metrics)
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger *slog.Logger) {
	d.logger = logger
	d.listener.logger = logger
}

// Metrics returns the dispatcher metrics.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Load reads the persisted ledger into memory. It runs once; later calls
// are no-ops.
func (d *Dispatcher) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return nil
	}
	ledger, err := d.ledger.Load(ctx)
	if err != nil {
		return err
	}

	for key, actions := range ledger {
		id, err := types.ParseDispatchID(key)
		if err != nil {
			d.logger.Warn("keeping ledger entry with unknown key", "key", key)
			d.foreign[key] = actions
			continue
		}
		d.ids.Observe(id)
		if _, exists := d.groups[key]; exists {
			continue
		}
		d.groups[key] = &groupState{group: &types.Group{ID: id, Actions: actions}}
	}
	d.loaded = true

	d.logger.Info("ledger loaded", "groups", len(d.groups))
	return nil
}

// Snapshot returns a copy of the visible state.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Group returns a copy of one group.
func (d *Dispatcher) Group(id string) (*types.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gs, ok := d.groups[id]
	if !ok || gs.aborted {
		return nil, &store.NotFoundError{Resource: "dispatch group", Name: id}
	}
	return gs.group.Clone(), nil
}

// Events returns the retained events, oldest first.
func (d *Dispatcher) Events() []types.Event {
	return d.events.List()
}

// EventsSince returns the retained events with a sequence number above
// seq, oldest first.
func (d *Dispatcher) EventsSince(seq uint64) []types.Event {
	return d.events.Since(seq)
}

// Alerts returns the retained alerts, oldest first.
func (d *Dispatcher) Alerts() []types.Event {
	return d.events.Alerts()
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow readers only see the latest snapshot. Call the returned function
// to unsubscribe.
func (d *Dispatcher) Subscribe() (<-chan Snapshot, func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	id := d.nextSub
	d.nextSub++
	ch := make(chan Snapshot, 1)
	d.subscribers[id] = ch

	return ch, func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		if c, ok := d.subscribers[id]; ok {
			delete(d.subscribers, id)
			close(c)
		}
	}
}

// Submit estimates every action that lacks an estimate and commits them as
// a new dispatch group. The dispatcher takes ownership of actions. When any
// action is unaffordable nothing is committed.
func (d *Dispatcher) Submit(ctx context.Context, actions []*types.CrossChainAction) (types.DispatchID, error) {
	if len(actions) == 0 {
		return types.DispatchID{}, ErrNoActions
	}
	if err := d.Load(ctx); err != nil {
		return types.DispatchID{}, err
	}

	for _, action := range actions {
		if action.Estimated != nil && action.Estimated.Error == "" {
			continue
		}
		if err := d.estimate(ctx, action); err != nil {
			return types.DispatchID{}, fmt.Errorf("action %s: %w", action.ID, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.ids.Next()
	key := id.String()
	d.groups[key] = &groupState{group: &types.Group{ID: id, Actions: actions}}

	if err := d.persistLocked(ctx); err != nil {
		delete(d.groups, key)
		return types.DispatchID{}, fmt.Errorf("failed to persist dispatch %s: %w", key, err)
	}

	d.logger.Info("dispatch committed", "dispatchId", key, "actions", len(actions))
	d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonDispatched,
		fmt.Sprintf("dispatch with %d actions committed", len(actions)), key))
	d.broadcastLocked()
	d.queue.Add(Task{Kind: TaskReconsider, Key: key})
	return id, nil
}

// estimate fills action.Estimated. Insufficient funds is returned; other
// estimator failures are logged and leave the action to be re-estimated.
func (d *Dispatcher) estimate(ctx context.Context, action *types.CrossChainAction) error {
	if d.estimator == nil {
		return nil
	}
	est, err := d.estimator.Estimate(ctx, action)
	if err == nil {
		action.Estimated = est
		return nil
	}

	d.metrics.EstimateFailures.Inc()
	if isInsufficientFunds(err) {
		action.Estimated = &types.Estimate{Error: err.Error()}
		return err
	}
	d.logger.Warn("estimate failed", "action", action.ID, "error", err)
	action.Estimated = nil
	return nil
}

// Cancel removes a group none of whose transactions were submitted.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	if err := d.Load(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	gs, ok := d.groups[id]
	if !ok || gs.aborted {
		return &store.NotFoundError{Resource: "dispatch group", Name: id}
	}
	if gs.processing != "" || gs.group.HasSubmitted() {
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, id)
	}

	delete(d.groups, id)
	if err := d.persistLocked(ctx); err != nil {
		d.groups[id] = gs
		return fmt.Errorf("failed to persist cancellation of %s: %w", id, err)
	}

	d.logger.Info("dispatch cancelled", "dispatchId", id)
	d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonCancelled, "dispatch cancelled", id))
	d.broadcastLocked()
	if active := d.activeLocked(); active != "" {
		d.queue.Add(Task{Kind: TaskReconsider, Key: active})
	}
	return nil
}

// activeLocked returns the oldest group that still has UNSENT work.
func (d *Dispatcher) activeLocked() string {
	for _, key := range d.sortedKeysLocked() {
		gs := d.groups[key]
		if !gs.aborted && gs.group.HasUnsent() {
			return key
		}
	}
	return ""
}

func (d *Dispatcher) sortedKeysLocked() []string {
	keys := make([]string, 0, len(d.groups))
	for key := range d.groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return d.groups[keys[i]].group.ID.Before(d.groups[keys[j]].group.ID)
	})
	return keys
}

func (d *Dispatcher) snapshotLocked() Snapshot {
	snap := Snapshot{Active: d.activeLocked(), Processing: make(map[string]string)}
	for _, key := range d.sortedKeysLocked() {
		gs := d.groups[key]
		if gs.aborted {
			continue
		}
		snap.Groups = append(snap.Groups, gs.group.Clone())
		if gs.processing != "" {
			snap.Processing[key] = gs.processing
		}
	}
	return snap
}

// broadcastLocked publishes the current snapshot to every subscriber.
func (d *Dispatcher) broadcastLocked() {
	snap := d.snapshotLocked()

	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- snap:
		default:
			// replace the unread snapshot with the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// persistLocked writes every group to the ledger.
func (d *Dispatcher) persistLocked(ctx context.Context) error {
	ledger := make(types.Ledger, len(d.groups)+len(d.foreign))
	for key, actions := range d.foreign {
		ledger[key] = actions
	}
	for key, gs := range d.groups {
		ledger[key] = gs.group.Actions
	}
	return d.ledger.Save(ctx, ledger)
}

// commitLocked persists when changed, broadcasts, then forgets groups that
// reached a terminal state.
func (d *Dispatcher) commitLocked(ctx context.Context, changed bool) {
	if changed {
		if err := d.persistLocked(ctx); err != nil {
			d.logger.Error("failed to persist ledger", "error", err)
		}
	}
	d.broadcastLocked()

	for key, gs := range d.groups {
		if gs.processing != "" || !gs.group.IsTerminal() {
			continue
		}
		delete(d.groups, key)
		if !gs.aborted {
			d.logger.Info("dispatch completed", "dispatchId", key)
			d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonCompleted, "all transactions settled", key))
		}
	}
}

// monitoredLocked returns the batch keys of every action awaiting a batch.
func (d *Dispatcher) monitoredLocked() map[batchKey]struct{} {
	wanted := make(map[batchKey]struct{})
	for _, gs := range d.groups {
		for _, action := range gs.group.Actions {
			if action.BatchHash == "" || !action.HasStatus(types.TxStatusPending) {
				continue
			}
			wanted[batchKey{ChainID: action.ChainID, BatchHash: action.BatchHash}] = struct{}{}
		}
	}
	return wanted
}

func (d *Dispatcher) syncSubscriptions() {
	d.mu.Lock()
	wanted := d.monitoredLocked()
	d.mu.Unlock()
	d.listener.sync(wanted)
}

func isInsufficientFunds(err error) bool {
	return errors.Is(err, estimator.ErrInsufficientFunds)
}
