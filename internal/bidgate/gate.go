// Package bidgate guards the one state-changing action of the client:
// placing a bid. Every attempt walks a fixed precondition sequence that
// is never bypassed or duplicated, and at most one submission is in
// flight at a time.
package bidgate

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"bidfront.app/internal/api"
	"bidfront.app/internal/auction"
	"bidfront.app/internal/obs"
)

// State names the gate's position in the precondition machine.
type State int

const (
	StateReady State = iota
	StateUnauthenticated
	StateUnverified
	StateAwaitingDeposit
	StateSubmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateUnverified:
		return "UNVERIFIED"
	case StateAwaitingDeposit:
		return "AWAITING_DEPOSIT"
	case StateSubmitting:
		return "SUBMITTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Outcome reports what a Submit call did.
type Outcome int

const (
	// OutcomeSubmitted means the bid was sent and accepted.
	OutcomeSubmitted Outcome = iota
	// OutcomeDepositRequired means this is the user's first bid on the
	// auction: the amount is held and ConfirmDeposit completes it.
	OutcomeDepositRequired
)

var (
	// ErrSignInRequired aborts before any network call; the UI offers
	// navigation to sign-in.
	ErrSignInRequired = errors.New("bidgate: sign in required")
	// ErrVerificationRequired aborts until the identity verification
	// flow completes.
	ErrVerificationRequired = errors.New("bidgate: identity verification required")
	// ErrBiddingClosed rejects bids on auctions without the CanBid
	// capability or outside IN_PROGRESS.
	ErrBiddingClosed = errors.New("bidgate: bidding is closed for this auction")
	// ErrBidTooLow rejects amounts not above the current price.
	ErrBidTooLow = errors.New("bidgate: bid must exceed the current price")
	// ErrSubmitInFlight rejects a second submit while one is outstanding.
	ErrSubmitInFlight = errors.New("bidgate: a submission is already in flight")
	// ErrNoPendingBid means ConfirmDeposit was called without a held
	// intent.
	ErrNoPendingBid = errors.New("bidgate: no pending bid")
	// ErrBidFailed is the generic failure when the server gave no
	// message.
	ErrBidFailed = errors.New("bidgate: bid failed")
)

// BidIntent is the amount held between a gate-passing click and the
// final submit. Discarded on submit, cancel or dismissal.
type BidIntent struct {
	Amount          int64
	RequiresDeposit bool
}

// Session exposes whether a live credential exists; *auth.State
// satisfies it.
type Session interface {
	Authenticated() bool
}

// Profile exposes the identity-verification capability derived from the
// user profile.
type Profile interface {
	Verified() bool
}

// Bidder performs the remote bid call; *api.Client satisfies it.
type Bidder interface {
	PlaceBid(ctx context.Context, auctionID string, amount int64) error
}

// AuctionView is the slice of the view the gate reads and flags.
type AuctionView interface {
	Snapshot() auction.Snapshot
	MarkHasBid()
}

// Gate runs the precondition machine for one auction view.
type Gate struct {
	session Session
	profile Profile
	bidder  Bidder
	view    AuctionView
	logger  *zap.Logger

	mu     sync.Mutex
	state  State
	intent *BidIntent
	busy   bool
}

// New wires a Gate to its collaborators.
func New(session Session, profile Profile, bidder Bidder, view AuctionView, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		session: session,
		profile: profile,
		bidder:  bidder,
		view:    view,
		logger:  logger,
		state:   StateReady,
	}
}

// State returns the gate's current position.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Intent returns the held bid intent, if any.
func (g *Gate) Intent() *BidIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intent == nil {
		return nil
	}
	cpy := *g.intent
	return &cpy
}

// Submit runs the precondition sequence for a proposed amount. Checks
// short-circuit in fixed order: session, identity verification,
// capability and amount validation, then the first-bid deposit branch.
// No network call happens unless every check passes.
func (g *Gate) Submit(ctx context.Context, amount int64) (Outcome, error) {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return 0, ErrSubmitInFlight
	}

	if !g.session.Authenticated() {
		g.state = StateUnauthenticated
		g.mu.Unlock()
		return 0, ErrSignInRequired
	}
	if !g.profile.Verified() {
		g.state = StateUnverified
		g.mu.Unlock()
		return 0, ErrVerificationRequired
	}

	snap := g.view.Snapshot()
	if !snap.CanBid || snap.Status != auction.StatusInProgress {
		g.state = StateFailed
		g.mu.Unlock()
		return 0, ErrBiddingClosed
	}
	if amount <= snap.CurrentPrice {
		g.state = StateFailed
		g.mu.Unlock()
		return 0, ErrBidTooLow
	}

	if !snap.Participation.HasBid {
		// First bid here: a deposit acknowledgement is interposed
		// before submission. Deposit is already held for repeat
		// bidders.
		g.intent = &BidIntent{Amount: amount, RequiresDeposit: true}
		g.state = StateAwaitingDeposit
		g.mu.Unlock()
		return OutcomeDepositRequired, nil
	}

	g.busy = true
	g.state = StateSubmitting
	g.mu.Unlock()
	if err := g.send(ctx, snap.ID, amount); err != nil {
		return 0, err
	}
	return OutcomeSubmitted, nil
}

// ConfirmDeposit completes a held first-bid intent with the held amount.
func (g *Gate) ConfirmDeposit(ctx context.Context) error {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return ErrSubmitInFlight
	}
	if g.intent == nil {
		g.mu.Unlock()
		return ErrNoPendingBid
	}
	amount := g.intent.Amount
	g.busy = true
	g.state = StateSubmitting
	g.mu.Unlock()

	snap := g.view.Snapshot()
	return g.send(ctx, snap.ID, amount)
}

// CancelDeposit discards the held intent (cancel or modal dismissal).
func (g *Gate) CancelDeposit() {
	g.mu.Lock()
	g.intent = nil
	if g.state == StateAwaitingDeposit {
		g.state = StateReady
	}
	g.mu.Unlock()
}

// send performs the remote call. The submission is not cancellable once
// dispatched; the busy flag only blocks new submissions. Whatever the
// outcome, the flag and the held intent are cleared.
func (g *Gate) send(ctx context.Context, auctionID string, amount int64) error {
	err := g.bidder.PlaceBid(ctx, auctionID, amount)

	g.mu.Lock()
	g.busy = false
	g.intent = nil
	if err != nil {
		g.state = StateFailed
	} else {
		g.state = StateDone
	}
	g.mu.Unlock()

	if err != nil {
		// No optimistic rollback needed: the price only ever moves via
		// the authoritative push path.
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			obs.BidsSubmitted.WithLabelValues("rejected").Inc()
			g.logger.Info("bid rejected",
				zap.String("auction_id", auctionID),
				zap.Int64("amount", amount),
				zap.String("reason", apiErr.Message))
			return apiErr
		}
		obs.BidsSubmitted.WithLabelValues("error").Inc()
		g.logger.Warn("bid submission failed",
			zap.String("auction_id", auctionID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return ErrBidFailed
	}

	obs.BidsSubmitted.WithLabelValues("accepted").Inc()
	g.logger.Info("bid accepted",
		zap.String("auction_id", auctionID),
		zap.Int64("amount", amount))
	g.view.MarkHasBid()
	return nil
}
