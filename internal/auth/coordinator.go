package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bidfront.app/internal/obs"
)

const refreshTimeout = 15 * time.Second

// RefreshFunc performs the actual network renewal (cookie-scoped POST).
type RefreshFunc func(ctx context.Context) (Credential, error)

// Coordinator collapses concurrent credential renewals into a single
// in-flight network attempt. Naive concurrent refreshes race the remote
// token rotation and invalidate each other's tokens, which shows up as
// spurious logouts; every caller that arrives while a renewal is pending
// must share its outcome instead.
type Coordinator struct {
	state   *State
	refresh RefreshFunc
	group   singleflight.Group
	logger  *zap.Logger
}

// NewCoordinator wires the coordinator to the shared State and the
// transport-level refresh call.
func NewCoordinator(state *State, refresh RefreshFunc, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{state: state, refresh: refresh, logger: logger}
}

// Refresh renews the access credential. All callers that arrive while a
// renewal is pending receive the identical result of that one attempt;
// the shared flight is cleared when it settles, so the next need starts
// fresh. On success the new credential is stored before returning. On
// failure the local session is cleared first, so waiters observing the
// error already see a logged-out state, and the error is then re-raised
// to every waiter.
func (c *Coordinator) Refresh(ctx context.Context) (Credential, error) {
	v, err, shared := c.group.Do("credential", func() (any, error) {
		// The flight outlives any single caller: a waiter cancelling
		// must not abort the renewal other waiters depend on.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		cred, err := c.refresh(fctx)
		if err != nil {
			c.state.clear()
			obs.CredentialRefreshes.WithLabelValues("failed").Inc()
			c.logger.Warn("credential refresh failed, session cleared", zap.Error(err))
			return Credential{}, err
		}
		c.state.set(cred)
		obs.CredentialRefreshes.WithLabelValues("ok").Inc()
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		c.logger.Debug("credential refresh shared with concurrent caller")
	}
	return v.(Credential), nil
}
