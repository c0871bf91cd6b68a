package auction

import (
	"encoding/json"
	"fmt"
)

// Push event names as they appear on the subscription channel.
const (
	EventNameConnect = "connect"
	EventNameBid     = "bid"
	EventNameEnded   = "ended"
)

// Event is a decoded push-channel payload. Exactly one of the concrete
// variants below; unknown shapes are rejected at the boundary instead of
// being carried around as loose maps.
type Event interface {
	eventKind() string
}

// ConnectEvent carries the price sync sent when a subscription is
// established, covering the window between the initial fetch and stream
// establishment.
type ConnectEvent struct {
	CurrentPrice int64 `json:"current_price"`
}

// BidEvent announces an accepted bid by some participant.
// BidderLabel may be empty on degraded payloads; callers must not
// synthesize a log entry in that case.
type BidEvent struct {
	Amount       int64  `json:"bid_amount"`
	CurrentPrice int64  `json:"current_price"`
	BidderLabel  string `json:"bidder_label"`
}

// Price returns the effective price carried by the event. Some payloads
// carry only bid_amount, others only current_price.
func (e BidEvent) Price() int64 {
	if e.Amount > e.CurrentPrice {
		return e.Amount
	}
	return e.CurrentPrice
}

// EndedEvent is the terminal signal for the auction.
type EndedEvent struct{}

func (ConnectEvent) eventKind() string { return EventNameConnect }
func (BidEvent) eventKind() string     { return EventNameBid }
func (EndedEvent) eventKind() string   { return EventNameEnded }

// endedProbe matches payloads that flag termination through a type or
// status field rather than a dedicated event name.
type endedProbe struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (p endedProbe) ended() bool {
	return p.Type == string(StatusEnded) || p.Status == string(StatusEnded)
}

// DecodeEvent parses one push-channel message into a tagged variant.
// An empty name is the untyped fallback channel: it is tolerated and
// treated as a bid payload, unless it flags termination. Anything else
// unknown is an error for the caller to log and drop.
func DecodeEvent(name string, data []byte) (Event, error) {
	switch name {
	case EventNameConnect:
		var ev ConnectEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("auction: decode connect event: %w", err)
		}
		return ev, nil
	case EventNameEnded:
		return EndedEvent{}, nil
	case EventNameBid, "", "message":
		var probe endedProbe
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("auction: decode event payload: %w", err)
		}
		if probe.ended() {
			return EndedEvent{}, nil
		}
		var ev BidEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("auction: decode bid event: %w", err)
		}
		if ev.Price() <= 0 {
			return nil, fmt.Errorf("auction: bid event without a price")
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("auction: unknown event %q", name)
	}
}
