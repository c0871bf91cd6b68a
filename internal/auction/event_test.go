package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConnectEvent(t *testing.T) {
	ev, err := DecodeEvent("connect", []byte(`{"current_price":123000}`))
	require.NoError(t, err)
	connect, ok := ev.(ConnectEvent)
	require.True(t, ok, "expected ConnectEvent, got %T", ev)
	assert.Equal(t, int64(123_000), connect.CurrentPrice)
}

func TestDecodeBidEvent(t *testing.T) {
	ev, err := DecodeEvent("bid", []byte(`{"bid_amount":130000,"bidder_label":"k***m"}`))
	require.NoError(t, err)
	bid, ok := ev.(BidEvent)
	require.True(t, ok, "expected BidEvent, got %T", ev)
	assert.Equal(t, int64(130_000), bid.Price())
	assert.Equal(t, "k***m", bid.BidderLabel)
}

func TestDecodeUntypedMessageFallsBackToBid(t *testing.T) {
	ev, err := DecodeEvent("", []byte(`{"current_price":140000,"bidder_label":"a***b"}`))
	require.NoError(t, err)
	bid, ok := ev.(BidEvent)
	require.True(t, ok, "expected BidEvent, got %T", ev)
	assert.Equal(t, int64(140_000), bid.Price())
}

func TestDecodeUntypedEndedSignal(t *testing.T) {
	for _, payload := range []string{`{"type":"ENDED"}`, `{"status":"ENDED"}`} {
		ev, err := DecodeEvent("", []byte(payload))
		require.NoError(t, err, payload)
		_, ok := ev.(EndedEvent)
		require.True(t, ok, "expected EndedEvent for %s, got %T", payload, ev)
	}
}

func TestDecodeEndedEventIgnoresPayload(t *testing.T) {
	ev, err := DecodeEvent("ended", nil)
	require.NoError(t, err)
	_, ok := ev.(EndedEvent)
	require.True(t, ok)
}

func TestDecodeRejectsUnknownShapes(t *testing.T) {
	_, err := DecodeEvent("promo", []byte(`{"discount":10}`))
	assert.Error(t, err, "unknown event names must be rejected")

	_, err = DecodeEvent("bid", []byte(`not json`))
	assert.Error(t, err, "garbage payloads must be rejected")

	_, err = DecodeEvent("", []byte(`{"note":"no price here"}`))
	assert.Error(t, err, "untyped payload without a price must be rejected")
}

func TestBidEventPricePrefersHigherField(t *testing.T) {
	assert.Equal(t, int64(5), BidEvent{Amount: 5, CurrentPrice: 3}.Price())
	assert.Equal(t, int64(7), BidEvent{Amount: 2, CurrentPrice: 7}.Price())
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var s Status
	assert.Error(t, s.UnmarshalJSON([]byte(`"PAUSED"`)))
	assert.NoError(t, s.UnmarshalJSON([]byte(`"IN_PROGRESS"`)))
	assert.Equal(t, StatusInProgress, s)
}
