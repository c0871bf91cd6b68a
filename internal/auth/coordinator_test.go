package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCred(token string) Credential {
	return Credential{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour)}
}

func TestRefreshSingleFlight(t *testing.T) {
	const callers = 16

	var attempts atomic.Int64
	release := make(chan struct{})
	refresh := func(ctx context.Context) (Credential, error) {
		attempts.Add(1)
		<-release
		return validCred("fresh-token"), nil
	}

	state := NewState(&MemStore{})
	coord := NewCoordinator(state, refresh, nil)

	var started, done sync.WaitGroup
	results := make([]Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = coord.Refresh(context.Background())
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every caller join the flight
	close(release)
	done.Wait()

	require.EqualValues(t, 1, attempts.Load(), "concurrent callers must share one network attempt")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", results[i].AccessToken)
	}

	cred, ok := state.Current()
	require.True(t, ok, "refreshed credential must be stored")
	assert.Equal(t, "fresh-token", cred.AccessToken)
}

func TestRefreshSequentialCallsStartFreshAttempts(t *testing.T) {
	var attempts atomic.Int64
	refresh := func(ctx context.Context) (Credential, error) {
		attempts.Add(1)
		return validCred("t"), nil
	}
	coord := NewCoordinator(NewState(&MemStore{}), refresh, nil)

	for i := 0; i < 3; i++ {
		_, err := coord.Refresh(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, attempts.Load(), "settled flights must not be reused")
}

func TestRefreshFailureClearsSessionBeforePropagating(t *testing.T) {
	store := &MemStore{}
	state := NewState(store)
	state.set(validCred("old-token"))
	require.True(t, state.Authenticated())

	rejection := errors.New("refresh rejected")
	var observedLoggedOut atomic.Bool
	refresh := func(ctx context.Context) (Credential, error) {
		return Credential{}, rejection
	}
	coord := NewCoordinator(state, refresh, nil)

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Refresh(context.Background())
			if errors.Is(err, rejection) && !state.Authenticated() {
				observedLoggedOut.Store(true)
			} else if err == nil {
				t.Error("expected the shared rejection")
			}
		}()
	}
	wg.Wait()

	assert.True(t, observedLoggedOut.Load(), "waiters must already see a logged-out state")
	assert.False(t, state.Authenticated())
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("persisted credential not cleared: %v", err)
	}
}

func TestRefreshFailureThenSuccessRecovers(t *testing.T) {
	var attempts atomic.Int64
	refresh := func(ctx context.Context) (Credential, error) {
		if attempts.Add(1) == 1 {
			return Credential{}, errors.New("first attempt fails")
		}
		return validCred("second"), nil
	}
	state := NewState(&MemStore{})
	coord := NewCoordinator(state, refresh, nil)

	_, err := coord.Refresh(context.Background())
	require.Error(t, err)

	cred, err := coord.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", cred.AccessToken)
	assert.EqualValues(t, 2, attempts.Load())
}
