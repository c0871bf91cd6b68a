package bidgate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidfront.app/internal/api"
	"bidfront.app/internal/auction"
)

type fakeSession struct{ authed bool }

func (f fakeSession) Authenticated() bool { return f.authed }

type fakeProfile struct{ verified bool }

func (f fakeProfile) Verified() bool { return f.verified }

type fakeBidder struct {
	mu      sync.Mutex
	calls   int
	amounts []int64
	err     error
	block   chan struct{} // when set, PlaceBid waits on it
}

func (f *fakeBidder) PlaceBid(ctx context.Context, auctionID string, amount int64) error {
	f.mu.Lock()
	f.calls++
	f.amounts = append(f.amounts, amount)
	block := f.block
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeBidder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeView struct {
	mu   sync.Mutex
	snap auction.Snapshot
}

func (f *fakeView) Snapshot() auction.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeView) MarkHasBid() {
	f.mu.Lock()
	f.snap.Participation.HasBid = true
	f.mu.Unlock()
}

func liveView(price int64, hasBid bool) *fakeView {
	return &fakeView{snap: auction.Snapshot{
		ID:            "a1",
		Status:        auction.StatusInProgress,
		CurrentPrice:  price,
		CanBid:        true,
		Participation: auction.Participation{HasBid: hasBid},
	}}
}

func TestUnauthenticatedSubmitNeverReachesNetwork(t *testing.T) {
	bidder := &fakeBidder{}
	g := New(fakeSession{false}, fakeProfile{true}, bidder, liveView(100_000, false), nil)

	_, err := g.Submit(context.Background(), 120_000)
	assert.ErrorIs(t, err, ErrSignInRequired)
	assert.Zero(t, bidder.callCount())
	assert.Equal(t, StateUnauthenticated, g.State())
}

func TestUnverifiedSubmitAborts(t *testing.T) {
	bidder := &fakeBidder{}
	g := New(fakeSession{true}, fakeProfile{false}, bidder, liveView(100_000, false), nil)

	_, err := g.Submit(context.Background(), 120_000)
	assert.ErrorIs(t, err, ErrVerificationRequired)
	assert.Zero(t, bidder.callCount())
	assert.Equal(t, StateUnverified, g.State())
}

func TestValidationRejectsWithoutNetworkCall(t *testing.T) {
	bidder := &fakeBidder{}

	closed := liveView(100_000, false)
	closed.snap.CanBid = false
	g := New(fakeSession{true}, fakeProfile{true}, bidder, closed, nil)
	_, err := g.Submit(context.Background(), 120_000)
	assert.ErrorIs(t, err, ErrBiddingClosed)

	g = New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, false), nil)
	_, err = g.Submit(context.Background(), 100_000)
	assert.ErrorIs(t, err, ErrBidTooLow)

	assert.Zero(t, bidder.callCount())
}

func TestFirstBidGoesThroughDepositStep(t *testing.T) {
	bidder := &fakeBidder{}
	view := liveView(100_000, false)
	g := New(fakeSession{true}, fakeProfile{true}, bidder, view, nil)

	outcome, err := g.Submit(context.Background(), 120_000)
	require.NoError(t, err)
	require.Equal(t, OutcomeDepositRequired, outcome)
	require.Zero(t, bidder.callCount(), "held until the deposit is acknowledged")
	assert.Equal(t, StateAwaitingDeposit, g.State())

	intent := g.Intent()
	require.NotNil(t, intent)
	assert.Equal(t, int64(120_000), intent.Amount)
	assert.True(t, intent.RequiresDeposit)

	require.NoError(t, g.ConfirmDeposit(context.Background()))
	assert.Equal(t, 1, bidder.callCount())
	assert.Equal(t, []int64{120_000}, bidder.amounts)
	assert.Equal(t, StateDone, g.State())
	assert.Nil(t, g.Intent())
	assert.True(t, view.Snapshot().Participation.HasBid)
}

func TestRepeatBidderSkipsDeposit(t *testing.T) {
	bidder := &fakeBidder{}
	g := New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, true), nil)

	outcome, err := g.Submit(context.Background(), 120_000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)
	assert.Equal(t, 1, bidder.callCount())
}

// Full first-then-repeat scenario: deposit prompt once, never again.
func TestFirstThenRepeatBidScenario(t *testing.T) {
	bidder := &fakeBidder{}
	view := liveView(100_000, false)
	g := New(fakeSession{true}, fakeProfile{true}, bidder, view, nil)

	outcome, err := g.Submit(context.Background(), 120_000)
	require.NoError(t, err)
	require.Equal(t, OutcomeDepositRequired, outcome)
	require.NoError(t, g.ConfirmDeposit(context.Background()))

	// Competing bids move the price via the push path.
	view.mu.Lock()
	view.snap.CurrentPrice = 140_000
	view.mu.Unlock()

	outcome, err = g.Submit(context.Background(), 150_000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome, "no second deposit prompt")
	assert.Equal(t, []int64{120_000, 150_000}, bidder.amounts)
}

func TestCancelDepositDiscardsIntent(t *testing.T) {
	bidder := &fakeBidder{}
	g := New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, false), nil)

	_, err := g.Submit(context.Background(), 120_000)
	require.NoError(t, err)

	g.CancelDeposit()
	assert.Nil(t, g.Intent())
	assert.Equal(t, StateReady, g.State())
	assert.ErrorIs(t, g.ConfirmDeposit(context.Background()), ErrNoPendingBid)
	assert.Zero(t, bidder.callCount())
}

func TestSecondSubmitWhileInFlightIsRejected(t *testing.T) {
	block := make(chan struct{})
	bidder := &fakeBidder{block: block}
	g := New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, true), nil)

	var firstErr atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := g.Submit(context.Background(), 120_000); err != nil {
			firstErr.Store(err)
		}
	}()

	// Wait for the first submission to reach the network leg.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && bidder.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, bidder.callCount())

	_, err := g.Submit(context.Background(), 130_000)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(block)
	<-done
	assert.Nil(t, firstErr.Load())
	assert.Equal(t, 1, bidder.callCount(), "busy flag blocks new submissions only")

	// Flag cleared after settling: the next submit goes through.
	_, err = g.Submit(context.Background(), 130_000)
	require.NoError(t, err)
	assert.Equal(t, 2, bidder.callCount())
}

func TestServerMessageSurfacesVerbatim(t *testing.T) {
	bidder := &fakeBidder{err: &api.APIError{
		Status:  http.StatusConflict,
		Code:    "OUTBID",
		Message: "a higher bid was placed first",
	}}
	view := liveView(100_000, true)
	g := New(fakeSession{true}, fakeProfile{true}, bidder, view, nil)

	_, err := g.Submit(context.Background(), 120_000)
	require.Error(t, err)
	assert.Equal(t, "a higher bid was placed first", err.Error())
	assert.Equal(t, StateFailed, g.State())
	assert.False(t, view.Snapshot().Participation.HasBid, "state left as before the attempt")
}

func TestOpaqueFailureBecomesGenericMessage(t *testing.T) {
	bidder := &fakeBidder{err: errors.New("connection reset")}
	g := New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, true), nil)

	_, err := g.Submit(context.Background(), 120_000)
	assert.ErrorIs(t, err, ErrBidFailed)
}

func TestFailureLeavesGateUsable(t *testing.T) {
	bidder := &fakeBidder{err: errors.New("boom")}
	g := New(fakeSession{true}, fakeProfile{true}, bidder, liveView(100_000, true), nil)

	_, err := g.Submit(context.Background(), 120_000)
	require.Error(t, err)

	bidder.mu.Lock()
	bidder.err = nil
	bidder.mu.Unlock()

	outcome, err := g.Submit(context.Background(), 125_000)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, outcome)
}
