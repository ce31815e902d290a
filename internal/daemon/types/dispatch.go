// internal/daemon/types/dispatch.go
package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DispatchID identifies a dispatch group. It is a (timestamp, sequence)
// composite so that ids created in the same millisecond still order.
// Ordering is only meaningful between ids from the same generator.
type DispatchID struct {
	Timestamp int64  // unix milliseconds
	Sequence  uint32 // tie breaker within one millisecond
}

// String returns the "<ms>-<seq>" form used as the ledger key.
func (id DispatchID) String() string {
	return fmt.Sprintf("%d-%d", id.Timestamp, id.Sequence)
}

// IsZero returns true for the zero id.
func (id DispatchID) IsZero() bool {
	return id.Timestamp == 0 && id.Sequence == 0
}

// Before returns true if id sorts before other.
func (id DispatchID) Before(other DispatchID) bool {
	if id.Timestamp != other.Timestamp {
		return id.Timestamp < other.Timestamp
	}
	return id.Sequence < other.Sequence
}

// ParseDispatchID parses the "<ms>-<seq>" form. A bare millisecond
// timestamp is accepted with sequence 0.
func ParseDispatchID(s string) (DispatchID, error) {
	tsPart, seqPart, hasSeq := strings.Cut(s, "-")
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil || ts <= 0 {
		return DispatchID{}, fmt.Errorf("invalid dispatch id %q", s)
	}
	id := DispatchID{Timestamp: ts}
	if hasSeq {
		seq, err := strconv.ParseUint(seqPart, 10, 32)
		if err != nil {
			return DispatchID{}, fmt.Errorf("invalid dispatch id %q", s)
		}
		id.Sequence = uint32(seq)
	}
	return id, nil
}

// IDGenerator hands out strictly increasing DispatchIDs.
type IDGenerator struct {
	mu   sync.Mutex
	last DispatchID
	now  func() time.Time
}

// NewIDGenerator creates a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Observe makes the generator issue ids after id. Used after loading a ledger.
func (g *IDGenerator) Observe(id DispatchID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.Before(id) {
		g.last = id
	}
}

// Next returns a new id greater than every id issued or observed.
func (g *IDGenerator) Next() DispatchID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	next := DispatchID{Timestamp: ms}
	if !g.last.Before(next) {
		next = DispatchID{Timestamp: g.last.Timestamp, Sequence: g.last.Sequence + 1}
	}
	g.last = next
	return next
}

// Group is a dispatch group: actions submitted together, in submission order.
type Group struct {
	ID      DispatchID          `json:"id"`
	Actions []*CrossChainAction `json:"actions"`
}

// HeadIndex returns the index of the first action that still has an
// UNSENT transaction, or -1 if there is none.
func HeadIndex(actions []*CrossChainAction) int {
	for i, a := range actions {
		if a.HasStatus(TxStatusUnsent) {
			return i
		}
	}
	return -1
}

// HasUnsent returns true if the group still has work to submit.
func (g *Group) HasUnsent() bool {
	return HeadIndex(g.Actions) >= 0
}

// HasPending returns true if any transaction awaits confirmation.
func (g *Group) HasPending() bool {
	for _, a := range g.Actions {
		if a.HasStatus(TxStatusPending) {
			return true
		}
	}
	return false
}

// HasSubmitted returns true if any transaction left the UNSENT state.
func (g *Group) HasSubmitted() bool {
	for _, a := range g.Actions {
		for _, tx := range a.AllTransactions() {
			if tx.Status != TxStatusUnsent {
				return true
			}
		}
	}
	return false
}

// IsTerminal returns true once every transaction reached a terminal status.
func (g *Group) IsTerminal() bool {
	for _, a := range g.Actions {
		if !a.IsTerminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (g *Group) Clone() *Group {
	c := &Group{ID: g.ID, Actions: make([]*CrossChainAction, len(g.Actions))}
	for i, a := range g.Actions {
		c.Actions[i] = a.Clone()
	}
	return c
}

// Ledger is the persisted form of every dispatch group, keyed by the
// textual DispatchID.
type Ledger map[string][]*CrossChainAction

// SortedIDs returns the ledger's ids, oldest first. Keys that do not parse
// as a DispatchID are skipped.
func (l Ledger) SortedIDs() []DispatchID {
	ids := make([]DispatchID, 0, len(l))
	for key := range l {
		id, err := ParseDispatchID(key)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })
	return ids
}

// MarshalText encodes the id in its ledger key form.
func (id DispatchID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the ledger key form.
func (id *DispatchID) UnmarshalText(text []byte) error {
	parsed, err := ParseDispatchID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
