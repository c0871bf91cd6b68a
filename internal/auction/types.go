package auction

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle phase of a timed auction.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusEnded      Status = "ENDED"
	StatusWithdrawn  Status = "WITHDRAWN"
)

// Terminal reports whether no further bidding can happen in this status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusWithdrawn
}

// Valid reports whether the value is one of the known wire statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusEnded, StatusWithdrawn:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown status strings instead of carrying them along.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Status(raw)
	if !v.Valid() {
		return fmt.Errorf("auction: unknown status %q", raw)
	}
	*s = v
	return nil
}

// Product is the listing metadata attached to an auction.
type Product struct {
	Title       string `json:"title"`
	SellerLabel string `json:"seller_label"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Participation describes the current user's relationship to an auction.
type Participation struct {
	// HasBid is true once the user has at least one accepted bid here,
	// which means their deposit is already held.
	HasBid bool `json:"has_bid"`
}

// Snapshot is the authoritative auction state as of the last full fetch.
// A view owns exactly one Snapshot for its lifetime; it is replaced
// wholesale on reload and mutated field-by-field by the reconciler.
// Money is in minor units. No floats.
type Snapshot struct {
	ID            string        `json:"id"`
	Product       Product       `json:"product"`
	Status        Status        `json:"status"`
	StartPrice    int64         `json:"start_price"`
	CurrentPrice  int64         `json:"current_price"`
	BidCount      int64         `json:"bid_count"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	CanBid        bool          `json:"can_bid"`
	Participation Participation `json:"my_participation"`
}

// LogEntry is one row of the bid history, newest first.
// Entries synthesized from push events carry ULID ids from internal/ids;
// those are temporary keys and an authoritative refetch may replace the
// whole list.
type LogEntry struct {
	ID          string    `json:"id"`
	BidderLabel string    `json:"bidder_label"`
	Amount      int64     `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}
