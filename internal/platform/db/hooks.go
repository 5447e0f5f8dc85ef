package db

import (
	"context"
	"sync"
)

type hooksKey struct{}

// CommitScope collects callbacks that must only run once the surrounding
// transaction has committed.
type CommitScope struct {
	mu  sync.Mutex
	fns []func()
}

// WithCommitScope attaches a new scope to ctx. Nested scopes are not created:
// when ctx already carries one it is returned as is.
func WithCommitScope(ctx context.Context) (context.Context, *CommitScope) {
	if scope, ok := ctx.Value(hooksKey{}).(*CommitScope); ok && scope != nil {
		return ctx, &CommitScope{}
	}
	scope := &CommitScope{}
	return context.WithValue(ctx, hooksKey{}, scope), scope
}

// Run executes the collected callbacks in registration order.
func (s *CommitScope) Run() {
	if s == nil {
		return
	}
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterCommit defers fn until the transaction in ctx commits. Without a
// transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	scope, ok := ctx.Value(hooksKey{}).(*CommitScope)
	if !ok || scope == nil {
		fn()
		return
	}
	scope.mu.Lock()
	scope.fns = append(scope.fns, fn)
	scope.mu.Unlock()
}
