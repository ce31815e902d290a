package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
	"github.com/altuslabsxyz/xchain-dispatch/internal/infrastructure/evm"
)

// submission is one head action taken out for submission.
type submission struct {
	groupID  string
	action   *types.CrossChainAction
	pool     []*types.Transaction
	external bool
	chainID  int64
	feeToken *common.Address
}

// reconsider runs one sequencer pass over a group. Only the active group
// advances; any other key re-targets the current active group.
func (d *Dispatcher) reconsider(ctx context.Context, key string) {
	d.mu.Lock()
	active := d.activeLocked()
	if active == "" {
		d.mu.Unlock()
		return
	}
	if key != active {
		d.mu.Unlock()
		d.queue.Add(Task{Kind: TaskReconsider, Key: active})
		return
	}

	sub := d.takeHeadLocked(active)
	if sub == nil {
		d.mu.Unlock()
		return
	}
	d.broadcastLocked()
	d.mu.Unlock()

	hash, err := d.submit(ctx, sub)
	if err == nil && hash == "" {
		err = ErrEmptySubmissionHash
	}

	d.mu.Lock()
	gs := d.groups[sub.groupID]
	gs.processing = ""
	if err != nil {
		d.failGroupLocked(ctx, gs, sub, err)
	} else {
		d.markSubmittedLocked(ctx, gs, sub, hash)
	}
	d.mu.Unlock()

	d.syncSubscriptions()
}

// takeHeadLocked marks the head of a group processing and pools the
// transactions to submit. Returns nil when the group must wait.
func (d *Dispatcher) takeHeadLocked(id string) *submission {
	gs, ok := d.groups[id]
	if !ok || gs.aborted || gs.processing != "" {
		return nil
	}

	idx := types.HeadIndex(gs.group.Actions)
	if idx < 0 {
		return nil
	}
	head := gs.group.Actions[idx]

	// external-signer transactions are confirmed one at a time
	if head.UsesExternalSigner && head.HasStatus(types.TxStatusPending) {
		return nil
	}

	sub := &submission{
		groupID:  id,
		action:   head,
		external: head.UsesExternalSigner,
		chainID:  head.ChainID,
	}
	if sub.external {
		sub.pool = []*types.Transaction{head.FirstWithStatus(types.TxStatusUnsent)}
	} else {
		for _, tx := range head.AllTransactions() {
			if tx.Status == types.TxStatusUnsent {
				sub.pool = append(sub.pool, tx)
			}
		}
		if head.GasTokenOverride != nil {
			token := *head.GasTokenOverride
			sub.feeToken = &token
		}
	}

	gs.processing = head.ID
	return sub
}

// submit sends the pooled transactions without holding the lock.
func (d *Dispatcher) submit(ctx context.Context, sub *submission) (string, error) {
	calls := make([]types.Call, len(sub.pool))
	for i, tx := range sub.pool {
		calls[i] = tx.Call()
	}

	d.logger.Info("submitting action",
		"dispatchId", sub.groupID,
		"action", sub.action.ID,
		"chainId", sub.chainID,
		"transactions", len(calls),
		"mode", submissionMode(sub.external))

	if sub.external {
		if d.signer == nil {
			return "", ErrNoSigner
		}
		return d.signer.Submit(ctx, sub.chainID, calls[0])
	}
	return d.gateway.SubmitBatch(ctx, sub.chainID, calls, sub.feeToken)
}

// markSubmittedLocked stamps the pooled transactions PENDING.
func (d *Dispatcher) markSubmittedLocked(ctx context.Context, gs *groupState, sub *submission, hash string) {
	submittedAt := d.now()
	for _, tx := range sub.pool {
		if !tx.Transition(types.TxStatusPending) {
			continue
		}
		ts := submittedAt
		tx.SubmitTimestamp = &ts
		tx.TransactionHash = hash
	}
	if !sub.external {
		sub.action.BatchHash = hash
	}

	d.metrics.Submissions.WithLabelValues(submissionMode(sub.external)).Inc()
	d.logger.Info("action submitted",
		"dispatchId", sub.groupID,
		"action", sub.action.ID,
		"hash", hash)
	d.events.Add(types.NewEvent(types.EventTypeNormal, types.ReasonSubmitted,
		fmt.Sprintf("action %s submitted as %s", sub.action.ID, hash), sub.groupID))

	if err := d.persistLocked(ctx); err != nil {
		d.logger.Error("failed to persist submission", "dispatchId", sub.groupID, "error", err)
	}
	d.broadcastLocked()
	d.queue.Add(Task{Kind: TaskReconsider, Key: sub.groupID})
}

// failGroupLocked aborts a group after a failed submission. Actions that
// never left UNSENT are dropped; the rest stay persisted so recovery can
// settle what already reached the chain.
func (d *Dispatcher) failGroupLocked(ctx context.Context, gs *groupState, sub *submission, cause error) {
	status := types.TxStatusFailed
	reason := "error"
	if errors.Is(cause, evm.ErrUserRejected) {
		status = types.TxStatusRejectedByUser
		reason = "rejected"
	} else if errors.Is(cause, ErrEmptySubmissionHash) {
		reason = "empty_hash"
	}

	finishedAt := d.now()
	for _, tx := range sub.pool {
		if tx.Transition(status) {
			ts := finishedAt
			tx.FinishTimestamp = &ts
		}
	}
	d.broadcastLocked()

	kept := gs.group.Actions[:0]
	for _, action := range gs.group.Actions {
		if !neverSubmitted(action) {
			kept = append(kept, action)
		}
	}
	gs.group.Actions = kept
	// pending transactions stay with recovery; only unsent leftovers fail
	for _, action := range kept {
		for _, tx := range action.AllTransactions() {
			if tx.Status == types.TxStatusUnsent && tx.Transition(types.TxStatusFailed) {
				ts := finishedAt
				tx.FinishTimestamp = &ts
			}
		}
	}

	key := gs.group.ID.String()
	if len(kept) == 0 || gs.group.IsTerminal() {
		delete(d.groups, key)
	} else {
		gs.aborted = true
	}

	serr := &SubmissionError{DispatchID: key, ActionID: sub.action.ID, Err: cause}
	d.metrics.SubmissionFailures.WithLabelValues(reason).Inc()
	d.logger.Error("submission failed", "dispatchId", key, "action", sub.action.ID, "error", cause)

	eventReason := types.ReasonSubmissionFailed
	if status == types.TxStatusRejectedByUser {
		eventReason = types.ReasonRejectedByUser
	}
	d.events.Add(types.NewEvent(types.EventTypeWarning, eventReason, serr.Error(), key))

	if err := d.persistLocked(ctx); err != nil {
		d.logger.Error("failed to persist aborted dispatch", "dispatchId", key, "error", err)
	}
	d.broadcastLocked()
	if active := d.activeLocked(); active != "" {
		d.queue.Add(Task{Kind: TaskReconsider, Key: active})
	}
}

// neverSubmitted reports whether every transaction of an action is still
// UNSENT.
func neverSubmitted(action *types.CrossChainAction) bool {
	for _, tx := range action.AllTransactions() {
		if tx.Status != types.TxStatusUnsent {
			return false
		}
	}
	return true
}
