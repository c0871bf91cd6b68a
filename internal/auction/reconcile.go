package auction

import (
	"time"

	"bidfront.app/internal/ids"
)

// Reconciler merges the snapshot, the bid log and decoded push events
// into one consistent view of an auction. It performs no I/O; the time
// and id sources are injected so tests can pin them.
//
// Merge rules:
//   - CurrentPrice never decreases: the maximum observed price wins,
//     including across reconnects against a stale edge.
//   - BidCount grows by exactly one per applied bid event and is never
//     decremented.
//   - The bid log is prepend-only and never reordered.
//   - Once the local status is terminal, further events are discarded
//     and repeated ENDED signals are no-ops.
type Reconciler struct {
	Now   func() time.Time
	NewID func() string
}

// NewReconciler returns a reconciler with the default clock and id source.
func NewReconciler() *Reconciler {
	return &Reconciler{Now: time.Now, NewID: ids.New}
}

// BidOutcome reports what a bid event did to the local state.
type BidOutcome struct {
	// Applied is true when the price/count merge happened.
	Applied bool
	// NeedsLogRefetch is true when the event carried an amount but no
	// bidder identity: no entry was synthesized and the caller should
	// refetch the authoritative bid log instead.
	NeedsLogRefetch bool
}

// ApplyConnect folds the price sync from a freshly established
// subscription into the snapshot. A connect price below the known price
// (stale replica after a reconnect) is rejected in favor of the higher
// known value. Reports whether the snapshot changed.
func (r *Reconciler) ApplyConnect(s *Snapshot, ev ConnectEvent) bool {
	if s.Status.Terminal() {
		return false
	}
	if ev.CurrentPrice <= s.CurrentPrice {
		return false
	}
	s.CurrentPrice = ev.CurrentPrice
	return true
}

// ApplyBid folds one accepted-bid event into the snapshot and bid log.
// The returned slice is the new log; the input slice is not mutated.
func (r *Reconciler) ApplyBid(s *Snapshot, log []LogEntry, ev BidEvent) ([]LogEntry, BidOutcome) {
	if s.Status.Terminal() {
		return log, BidOutcome{}
	}
	if price := ev.Price(); price > s.CurrentPrice {
		s.CurrentPrice = price
	}
	s.BidCount++

	if ev.BidderLabel == "" {
		// No identity to attribute the row to; do not fabricate one.
		return log, BidOutcome{Applied: true, NeedsLogRefetch: true}
	}

	entry := LogEntry{
		ID:          r.NewID(),
		BidderLabel: ev.BidderLabel,
		Amount:      ev.Price(),
		Timestamp:   r.Now().UTC(),
	}
	out := make([]LogEntry, 0, len(log)+1)
	out = append(out, entry)
	out = append(out, log...)
	return out, BidOutcome{Applied: true}
}

// ApplyEnded flips the auction into its terminal state. Applying it
// again after the first time is a no-op. Reports whether the snapshot
// changed.
func (r *Reconciler) ApplyEnded(s *Snapshot) bool {
	if s.Status.Terminal() {
		return false
	}
	s.Status = StatusEnded
	s.CanBid = false
	return true
}
