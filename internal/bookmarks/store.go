// Package bookmarks keeps the user's bookmark membership set with an
// optimistic toggle: flip locally, confirm remotely, roll back on
// failure. Shared across the listing and wishlist views.
package bookmarks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"bidfront.app/internal/obs"
	"bidfront.app/internal/optimistic"
)

// ErrLoggedOut rejects toggles without a session; membership has no
// meaning without one, so no optimistic mutation happens either.
var ErrLoggedOut = errors.New("bookmarks: sign in required")

// Remote issues the add/remove calls; *api.Client satisfies it.
type Remote interface {
	AddBookmark(ctx context.Context, auctionID string) error
	RemoveBookmark(ctx context.Context, auctionID string) error
}

// Session reports whether a live credential exists.
type Session interface {
	Authenticated() bool
}

// Store is the process-wide bookmark set.
type Store struct {
	session Session
	remote  Remote
	logger  *zap.Logger

	mu  sync.RWMutex
	set map[string]struct{}
}

// New builds an empty Store.
func New(session Session, remote Remote, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		session: session,
		remote:  remote,
		logger:  logger,
		set:     make(map[string]struct{}),
	}
}

// Replace seeds the membership set wholesale from a listing fetch.
func (s *Store) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.set = next
	s.mu.Unlock()
}

// Contains reports membership.
func (s *Store) Contains(auctionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[auctionID]
	return ok
}

// Toggle flips membership optimistically and confirms it remotely.
// Returns the new membership on success. On remote failure the
// pre-toggle membership is restored and the error reported.
func (s *Store) Toggle(ctx context.Context, auctionID string) (bool, error) {
	if !s.session.Authenticated() {
		return false, ErrLoggedOut
	}

	var added bool
	err := optimistic.Run(ctx, optimistic.Mutation[bool]{
		Apply: func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, was := s.set[auctionID]
			if was {
				delete(s.set, auctionID)
			} else {
				s.set[auctionID] = struct{}{}
			}
			added = !was
			return was
		},
		Attempt: func(ctx context.Context) error {
			if added {
				return s.remote.AddBookmark(ctx, auctionID)
			}
			return s.remote.RemoveBookmark(ctx, auctionID)
		},
		Rollback: func(was bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if was {
				s.set[auctionID] = struct{}{}
			} else {
				delete(s.set, auctionID)
			}
		},
	})
	if err != nil {
		obs.BookmarkRollbacks.Inc()
		s.logger.Warn("bookmark toggle rolled back",
			zap.String("auction_id", auctionID), zap.Error(err))
		return s.Contains(auctionID), err
	}
	return added, nil
}
