// internal/daemon/store/ledger.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/altuslabsxyz/xchain-dispatch/internal/daemon/types"
)

// DefaultLedgerKey is the fixed key every dispatch group is stored under.
const DefaultLedgerKey = "crossChainActions"

// LedgerStore persists all dispatch groups as one entry in a KV.
type LedgerStore struct {
	kv  KV
	key string
	now func() time.Time
}

// NewLedgerStore creates a ledger stored under key (DefaultLedgerKey if empty).
func NewLedgerStore(kv KV, key string) *LedgerStore {
	if key == "" {
		key = DefaultLedgerKey
	}
	return &LedgerStore{kv: kv, key: key, now: time.Now}
}

// Key returns the ledger key.
func (s *LedgerStore) Key() string {
	return s.key
}

// Load reads every persisted group. A missing entry is an empty ledger.
func (s *LedgerStore) Load(ctx context.Context) (types.Ledger, error) {
	raw, ok, err := s.kv.GetItem(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	ledger := types.Ledger{}
	if !ok || raw == "" {
		return ledger, nil
	}
	if err := json.Unmarshal([]byte(raw), &ledger); err != nil {
		return nil, &CorruptLedgerError{Key: s.key, Err: err}
	}
	return ledger, nil
}

// Save writes the ledger. Groups that are empty or fully terminal are
// dropped; an empty ledger removes the entry.
func (s *LedgerStore) Save(ctx context.Context, ledger types.Ledger) error {
	out := make(types.Ledger, len(ledger))
	for id, actions := range ledger {
		g := types.Group{Actions: actions}
		if len(actions) == 0 || g.IsTerminal() {
			continue
		}
		out[id] = actions
	}

	if len(out) == 0 {
		return s.kv.RemoveItem(ctx, s.key)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	return s.kv.SetItem(ctx, s.key, string(data))
}

// Group returns one persisted group.
func (s *LedgerStore) Group(ctx context.Context, id string) ([]*types.CrossChainAction, error) {
	ledger, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	actions, ok := ledger[id]
	if !ok {
		return nil, &NotFoundError{Resource: "dispatch group", Name: id}
	}
	return actions, nil
}

// lease is the persisted lease record.
type lease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *LedgerStore) leaseKey() string {
	return s.key + ".lease"
}

// AcquireLease claims single ownership of the ledger for ttl. The current
// owner may call it again to renew. Fails with LeaseHeldError while another
// owner's lease is unexpired.
func (s *LedgerStore) AcquireLease(ctx context.Context, owner string, ttl time.Duration) error {
	next, err := json.Marshal(lease{Owner: owner, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		raw, exists, err := s.kv.GetItem(ctx, s.leaseKey())
		if err != nil {
			return fmt.Errorf("failed to read lease: %w", err)
		}

		var prev *string
		if exists {
			var current lease
			if err := json.Unmarshal([]byte(raw), &current); err == nil &&
				current.Owner != owner && s.now().Before(current.ExpiresAt) {
				return &LeaseHeldError{Key: s.key, Owner: current.Owner, ExpiresAt: current.ExpiresAt}
			}
			prev = &raw
		}

		swapped, err := s.swap(ctx, prev, string(next))
		if err != nil {
			return fmt.Errorf("failed to write lease: %w", err)
		}
		if swapped {
			return nil
		}
	}
	return ErrLeaseLost
}

// ReleaseLease drops the lease if owner still holds it.
func (s *LedgerStore) ReleaseLease(ctx context.Context, owner string) error {
	raw, exists, err := s.kv.GetItem(ctx, s.leaseKey())
	if err != nil || !exists {
		return err
	}
	var current lease
	if err := json.Unmarshal([]byte(raw), &current); err == nil && current.Owner != owner {
		return nil
	}
	return s.kv.RemoveItem(ctx, s.leaseKey())
}

func (s *LedgerStore) swap(ctx context.Context, prev *string, next string) (bool, error) {
	if sw, ok := s.kv.(Swapper); ok {
		return sw.CompareAndSwap(ctx, s.leaseKey(), prev, next)
	}
	// Without an atomic primitive the last writer wins.
	return true, s.kv.SetItem(ctx, s.leaseKey(), next)
}
