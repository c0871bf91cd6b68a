// Package optimistic runs local-first mutations against a remote
// effect: apply immediately, attempt the call, and restore the pre-image
// when the call fails. Readers only ever observe the pre- or post-state,
// never an intermediate.
package optimistic

import "context"

// Mutation describes one optimistic update. Apply flips local state and
// returns the pre-image; Rollback restores it.
type Mutation[T any] struct {
	Apply    func() T
	Attempt  func(ctx context.Context) error
	Rollback func(pre T)
}

// Run executes the mutation. On remote failure the pre-image is restored
// before the error returns; on success the optimistic state stands with
// no reconciliation fetch.
func Run[T any](ctx context.Context, m Mutation[T]) error {
	pre := m.Apply()
	if err := m.Attempt(ctx); err != nil {
		m.Rollback(pre)
		return err
	}
	return nil
}
