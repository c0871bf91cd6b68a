// Package stream maintains the live push connection for one auction
// view: a unidirectional server-sent-events subscription delivering
// price syncs, accepted bids and the terminal signal.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bidfront.app/internal/auction"
	"bidfront.app/internal/obs"
)

// ReconnectDelay is the fixed pause before reopening a dropped
// connection. There is no backoff growth and no retry cap.
const ReconnectDelay = 10 * time.Second

// Sink receives decoded events and connection state changes, in strict
// delivery order. InProgress is consulted at the moment of a scheduled
// retry; reconnection stops once it reports false.
type Sink interface {
	HandleEvent(ev auction.Event)
	StateChanged(s State)
	InProgress() bool
}

// Subscriber opens push connections against the marketplace.
type Subscriber struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	delay   time.Duration
}

// Option configures the Subscriber.
type Option func(*Subscriber)

// WithHTTPClient overrides the transport (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(s *Subscriber) { s.http = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithReconnectDelay overrides the fixed retry delay (tests).
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Subscriber) { s.delay = d }
}

// New builds a Subscriber for the given base URL.
func New(baseURL string, opts ...Option) *Subscriber {
	s := &Subscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: the subscription is long-lived.
		http:   &http.Client{},
		logger: zap.NewNop(),
		delay:  ReconnectDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts the subscription for one auction and returns its handle.
// The handle starts in CONNECTING.
func (s *Subscriber) Open(auctionID string, sink Sink) *Handle {
	h := &Handle{
		sub:       s,
		auctionID: auctionID,
		sink:      sink,
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	sink.StateChanged(StateConnecting)
	go h.run(ctx, false)
	return h
}

// Handle is one open subscription. After Close returns no further
// sink callbacks begin and any pending reconnect timer is stopped; a
// callback already executing may still complete. Sinks may call Close
// from inside their own callbacks.
type Handle struct {
	sub       *Subscriber
	auctionID string
	sink      Sink

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	timer  *time.Timer
}

// Close tears the subscription down. Idempotent.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// emitState delivers a connection state change unless the handle is
// closed. The sink runs outside the lock: a sink callback may close
// the handle without deadlocking on h.mu.
func (h *Handle) emitState(s State) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()
	h.sink.StateChanged(s)
	return true
}

// deliver forwards one event unless the handle is closed. Same locking
// discipline as emitState.
func (h *Handle) deliver(ev auction.Event) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()
	h.sink.HandleEvent(ev)
	return true
}

// run owns one connection attempt and its read loop. All events for a
// connection are delivered from this goroutine, so ordering follows
// delivery order with no reordering or coalescing.
func (h *Handle) run(ctx context.Context, isRetry bool) {
	s := h.sub
	obs.StreamConnects.Inc()
	if isRetry {
		obs.StreamReconnects.Inc()
	}

	url := fmt.Sprintf("%s/v1/auctions/%s/live", s.baseURL, h.auctionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.fail(err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.http.Do(req)
	if err != nil {
		h.fail(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.fail(fmt.Errorf("stream: subscribe %s: status %d", h.auctionID, resp.StatusCode))
		return
	}

	if !h.emitState(StateConnected) {
		return
	}

	var eventName string
	var data strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 || eventName != "" {
				if terminal := h.dispatch(eventName, data.String()); terminal {
					return
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	// Transport-level drop: the server closed mid-stream or the read
	// failed. Report and schedule a retry.
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("stream read error",
			zap.String("auction_id", h.auctionID), zap.Error(err))
	}
	if ctx.Err() != nil {
		return
	}
	if !h.emitState(StateDisconnected) {
		return
	}
	h.scheduleRetry()
}

// dispatch decodes and delivers one framed message. Returns true when
// the message was terminal and the subscription is finished.
func (h *Handle) dispatch(name, payload string) bool {
	ev, err := auction.DecodeEvent(name, []byte(payload))
	if err != nil {
		obs.StreamDecodeFailures.Inc()
		h.sub.logger.Warn("dropping undecodable stream event",
			zap.String("auction_id", h.auctionID),
			zap.String("event", name),
			zap.Error(err))
		return false
	}
	obs.StreamEvents.WithLabelValues(kindLabel(ev)).Inc()

	delivered := h.deliver(ev)
	if _, ended := ev.(auction.EndedEvent); ended {
		// Terminal: close permanently, never retried.
		h.Close()
		if delivered {
			h.sub.logger.Info("auction ended, stream closed",
				zap.String("auction_id", h.auctionID))
		}
		return true
	}
	return !delivered
}

// fail marks the connection errored and schedules a retry.
func (h *Handle) fail(err error) {
	h.sub.logger.Warn("stream connect failed",
		zap.String("auction_id", h.auctionID), zap.Error(err))
	if !h.emitState(StateError) {
		return
	}
	h.scheduleRetry()
}

// scheduleRetry arms the fixed-delay reconnect. The in-progress check
// happens at the moment the timer fires, not when it is armed: a status
// change during the delay suppresses the attempt.
func (h *Handle) scheduleRetry() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.timer = time.AfterFunc(h.sub.delay, func() {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return
		}
		h.timer = nil
		h.mu.Unlock()

		if !h.sink.InProgress() {
			h.sub.logger.Info("auction no longer in progress, not reconnecting",
				zap.String("auction_id", h.auctionID))
			return
		}
		if !h.emitState(StateConnecting) {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			cancel()
			return
		}
		h.cancel = cancel
		h.mu.Unlock()
		go h.run(ctx, true)
	})
	h.mu.Unlock()
}

func kindLabel(ev auction.Event) string {
	switch ev.(type) {
	case auction.ConnectEvent:
		return "connect"
	case auction.BidEvent:
		return "bid"
	case auction.EndedEvent:
		return "ended"
	default:
		return "unknown"
	}
}
