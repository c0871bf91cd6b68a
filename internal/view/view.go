// Package view owns the live state of one open auction: the
// authoritative snapshot, the bid log and the connection state. Stream
// events and refetches are merged through the reconciler; no other
// component mutates the snapshot.
package view

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bidfront.app/internal/auction"
	"bidfront.app/internal/stream"
)

const refetchTimeout = 10 * time.Second

// API is the slice of the REST client the view needs.
type API interface {
	GetAuction(ctx context.Context, id string) (auction.Snapshot, error)
	GetBidLog(ctx context.Context, id string) ([]auction.LogEntry, error)
}

// Handle is an open push subscription. The view tracks connection
// state itself through StateChanged, so closing is all it needs.
type Handle interface {
	Close()
}

// Opener starts push subscriptions; adapted from *stream.Subscriber via
// NewOpener.
type Opener interface {
	Open(auctionID string, sink stream.Sink) Handle
}

type subscriberOpener struct{ s *stream.Subscriber }

func (o subscriberOpener) Open(id string, sink stream.Sink) Handle {
	return o.s.Open(id, sink)
}

// NewOpener adapts a stream.Subscriber to the Opener interface.
func NewOpener(s *stream.Subscriber) Opener { return subscriberOpener{s} }

// View is the single owner of one auction's client-side state. Accessors
// return copies; the snapshot is replaced wholesale by Load and mutated
// field-by-field by the reconciler.
type View struct {
	api    API
	opener Opener
	rec    *auction.Reconciler
	logger *zap.Logger

	mu        sync.RWMutex
	auctionID string
	snap      auction.Snapshot
	log       []auction.LogEntry
	connState stream.State
	loaded    bool
	torn      bool
	handle    Handle

	onChange func()
}

// Option configures the View.
type Option func(*View)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithReconciler overrides the reconciler (tests pin clock/ids).
func WithReconciler(r *auction.Reconciler) Option {
	return func(v *View) { v.rec = r }
}

// WithOnChange registers a hook invoked after every state change, for
// the surrounding UI to re-render. Called without the view lock held,
// possibly from the stream delivery goroutine; calling Teardown from
// the hook is safe.
func WithOnChange(fn func()) Option {
	return func(v *View) { v.onChange = fn }
}

// New builds a View over the REST client and stream opener.
func New(api API, opener Opener, opts ...Option) *View {
	v := &View{
		api:       api,
		opener:    opener,
		rec:       auction.NewReconciler(),
		logger:    zap.NewNop(),
		connState: stream.StateDisconnected,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load fetches the snapshot and bid log and, for an in-progress auction,
// opens the push stream. Loading a different auction id first tears down
// the previous subscription so no stale events reach this view.
func (v *View) Load(ctx context.Context, auctionID string) error {
	snap, err := v.api.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	log, err := v.api.GetBidLog(ctx, auctionID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	old := v.handle
	v.handle = nil
	v.auctionID = auctionID
	v.snap = snap
	v.log = log
	v.loaded = true
	v.torn = false
	v.mu.Unlock()

	if old != nil {
		old.Close()
	}

	if snap.Status == auction.StatusInProgress {
		h := v.opener.Open(auctionID, v)
		v.mu.Lock()
		if v.torn {
			// Torn down between fetch and open.
			v.mu.Unlock()
			h.Close()
			return nil
		}
		v.handle = h
		v.mu.Unlock()
	}
	v.notify()
	return nil
}

// Teardown closes the subscription. The view delivers nothing afterward.
func (v *View) Teardown() {
	v.mu.Lock()
	v.torn = true
	h := v.handle
	v.handle = nil
	v.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// Snapshot returns a copy of the current snapshot.
func (v *View) Snapshot() auction.Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// BidLog returns a copy of the bid log, newest first.
func (v *View) BidLog() []auction.LogEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]auction.LogEntry, len(v.log))
	copy(out, v.log)
	return out
}

// ConnState returns the last observed connection state.
func (v *View) ConnState() stream.State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.connState
}

// MarkHasBid flips the local participation flag after an accepted bid,
// so the next submission skips the deposit step without waiting for a
// server round trip.
func (v *View) MarkHasBid() {
	v.mu.Lock()
	v.snap.Participation.HasBid = true
	v.mu.Unlock()
	v.notify()
}

// RefreshLog refetches the authoritative bid log and replaces the local
// list wholesale, dropping any synthesized temporary entries.
func (v *View) RefreshLog(ctx context.Context) error {
	v.mu.RLock()
	id := v.auctionID
	torn := v.torn
	v.mu.RUnlock()
	if torn {
		return nil
	}
	log, err := v.api.GetBidLog(ctx, id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	if v.torn {
		// Torn down while the refetch was in flight.
		v.mu.Unlock()
		return nil
	}
	v.log = log
	v.mu.Unlock()
	v.notify()
	return nil
}

// HandleEvent implements stream.Sink. Events arriving after the local
// status turned terminal are discarded by the reconciler; events
// arriving after Teardown are discarded here.
func (v *View) HandleEvent(ev auction.Event) {
	var refetch bool

	v.mu.Lock()
	if v.torn {
		v.mu.Unlock()
		return
	}
	switch e := ev.(type) {
	case auction.ConnectEvent:
		v.rec.ApplyConnect(&v.snap, e)
	case auction.BidEvent:
		var out auction.BidOutcome
		v.log, out = v.rec.ApplyBid(&v.snap, v.log, e)
		refetch = out.NeedsLogRefetch
	case auction.EndedEvent:
		v.rec.ApplyEnded(&v.snap)
	}
	v.mu.Unlock()
	v.notify()

	if refetch {
		// Keep the record authoritative instead of fabricating a row.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
			defer cancel()
			if err := v.RefreshLog(ctx); err != nil {
				v.logger.Warn("bid log refetch failed", zap.Error(err))
			}
		}()
	}
}

// StateChanged implements stream.Sink.
func (v *View) StateChanged(s stream.State) {
	v.mu.Lock()
	if v.torn {
		v.mu.Unlock()
		return
	}
	v.connState = s
	v.mu.Unlock()
	v.notify()
}

// InProgress implements stream.Sink; consulted before each reconnect.
func (v *View) InProgress() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.Status == auction.StatusInProgress
}

func (v *View) notify() {
	if v.onChange != nil {
		v.onChange()
	}
}
