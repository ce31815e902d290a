package controller

import (
	"context"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// statusQuery is one chain lookup made by a recovery pass.
type statusQuery struct {
	groupID  string
	action   *types.CrossChainAction
	tx       *types.Transaction
	chainID  int64
	external bool
	hash     string
}

// statusResult is the terminal status a query resolved to.
type statusResult struct {
	query  statusQuery
	status types.TxStatus
	hash   string
}

// recoverPass reconciles every group with the chain, resumes the active
// group and schedules another pass while anything is pending.
func (d *Dispatcher) recoverPass(ctx context.Context) error {
	if d.owner != "" {
		if err := d.ledger.AcquireLease(ctx, d.owner, d.leaseTTL); err != nil {
			return err
		}
	}
	d.metrics.ReconcilePasses.Inc()

	d.mu.Lock()
	queries := d.pendingQueriesLocked()
	d.mu.Unlock()

	results := d.queryChain(ctx, queries)

	d.mu.Lock()
	changed := d.applyResultsLocked(results)
	d.commitLocked(ctx, changed)

	active := d.activeLocked()
	var unestimated []*types.CrossChainAction
	if gs, ok := d.groups[active]; ok && gs.processing == "" {
		for _, action := range gs.group.Actions {
			if action.Estimated == nil && !action.IsTerminal() {
				unestimated = append(unestimated, action.Clone())
			}
		}
	}
	d.mu.Unlock()

	if len(unestimated) > 0 {
		d.reestimate(ctx, active, unestimated)
	}
	if active != "" {
		d.queue.Add(Task{Kind: TaskReconsider, Key: active})
	}

	d.mu.Lock()
	d.scheduleRepollLocked()
	d.mu.Unlock()

	d.syncSubscriptions()
	return nil
}

// pendingQueriesLocked collects, oldest group first, the first PENDING
// transaction of every action.
func (d *Dispatcher) pendingQueriesLocked() []statusQuery {
	var queries []statusQuery
	for _, key := range d.sortedKeysLocked() {
		gs := d.groups[key]
		if gs.processing != "" {
			continue
		}
		for _, action := range gs.group.Actions {
			tx := action.FirstWithStatus(types.TxStatusPending)
			if tx == nil {
				continue
			}
			q := statusQuery{
				groupID:  key,
				action:   action,
				tx:       tx,
				chainID:  action.ChainID,
				external: action.UsesExternalSigner,
			}
			if q.external {
				q.hash = tx.TransactionHash
			} else {
				q.hash = action.BatchHash
			}
			if q.hash == "" {
				continue
			}
			queries = append(queries, q)
		}
	}
	return queries
}

// queryChain runs the lookups without holding the lock. Failed lookups are
// retried by the next pass.
func (d *Dispatcher) queryChain(ctx context.Context, queries []statusQuery) []statusResult {
	var results []statusResult
	for _, q := range queries {
		if q.external {
			status, err := d.gateway.GetTransaction(ctx, q.chainID, q.hash)
			if err != nil {
				d.logger.Debug("transaction lookup failed", "chainId", q.chainID, "hash", q.hash, "error", err)
				continue
			}
			if resolved, ok := status.Resolve(); ok {
				results = append(results, statusResult{query: q, status: resolved})
			}
			continue
		}

		batch, err := d.gateway.GetBatch(ctx, q.chainID, q.hash)
		if err != nil {
			d.logger.Debug("batch lookup failed", "chainId", q.chainID, "batch", q.hash, "error", err)
			continue
		}
		if resolved, ok := batch.State.Resolve(); ok {
			results = append(results, statusResult{query: q, status: resolved, hash: batch.TransactionHash})
		}
	}
	return results
}

// applyResultsLocked stamps resolved statuses. External-signer results only
// touch the queried transaction. Returns true if anything changed.
func (d *Dispatcher) applyResultsLocked(results []statusResult) bool {
	now := d.now()
	changed := false
	for _, r := range results {
		gs, ok := d.groups[r.query.groupID]
		if !ok {
			continue
		}
		if r.query.external {
			if !r.query.tx.Transition(r.status) {
				continue
			}
			ts := now
			r.query.tx.FinishTimestamp = &ts
			d.recordResolvedLocked(gs, r.query.action, r.status, 1)
			changed = true
			continue
		}
		if n := r.query.action.Resolve(r.status, now, r.hash); n > 0 {
			d.recordResolvedLocked(gs, r.query.action, r.status, n)
			changed = true
		}
	}
	return changed
}

// recordResolvedLocked logs and counts transactions reaching a terminal status.
func (d *Dispatcher) recordResolvedLocked(gs *groupState, action *types.CrossChainAction, status types.TxStatus, n int) {
	key := gs.group.ID.String()
	d.metrics.Resolved.WithLabelValues(string(status)).Add(float64(n))
	d.logger.Info("transactions resolved",
		"dispatchId", key,
		"action", action.ID,
		"status", status,
		"count", n)

	if status == types.TxStatusConfirmed {
		d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonConfirmed,
			"action "+action.ID+" confirmed", key))
		return
	}
	d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonReverted,
		"action "+action.ID+" reverted", key))
}

// reestimate prices copies of the active group's unestimated actions and
// stores the results on the originals.
func (d *Dispatcher) reestimate(ctx context.Context, groupID string, actions []*types.CrossChainAction) {
	if d.estimator == nil {
		return
	}
	estimates := make(map[string]*types.Estimate, len(actions))
	for _, action := range actions {
		est, err := d.estimator.Estimate(ctx, action)
		if err != nil {
			d.metrics.EstimateFailures.Inc()
			d.logger.Debug("re-estimate failed", "dispatchId", groupID, "action", action.ID, "error", err)
			if isInsufficientFunds(err) {
				estimates[action.ID] = &types.Estimate{Error: err.Error()}
			}
			continue
		}
		estimates[action.ID] = est
	}
	if len(estimates) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	gs, ok := d.groups[groupID]
	if !ok {
		return
	}
	for _, action := range gs.group.Actions {
		if est, ok := estimates[action.ID]; ok && action.Estimated == nil {
			action.Estimated = est
		}
	}
	if err := d.persistLocked(ctx); err != nil {
		d.logger.Error("failed to persist estimates", "dispatchId", groupID, "error", err)
	}
	d.broadcastLocked()
}

// scheduleRepollLocked arms a single delayed recovery pass while any group
// has a PENDING transaction.
func (d *Dispatcher) scheduleRepollLocked() {
	pending := false
	for _, gs := range d.groups {
		if gs.group.HasPending() {
			pending = true
			break
		}
	}
	if !pending {
		return
	}
	if d.repollTimer != nil {
		d.repollTimer.Stop()
	}
	d.repollTimer = time.AfterFunc(d.repoll, func() {
		d.queue.Add(Task{Kind: TaskRecover})
	})
}
