// Package memstore provides in-memory repositories with transaction and
// rollback semantics for service tests.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type sessionKey struct{}

type session struct {
	store *Store
	undo  []func()
}

// Store serialises transactions over every repository sharing it. Holding the
// store lock for a whole transaction gives the same outcome as row locks in
// PostgreSQL for the tests that use it.
type Store struct {
	mu        sync.Mutex
	sequences map[sequenceKey]int64
}

type sequenceKey struct {
	tenantID int64
	docType  string
	period   string
}

// New constructs a Store.
func New() *Store {
	return &Store{sequences: make(map[sequenceKey]int64)}
}

func (s *Store) current(ctx context.Context) *session {
	sess, ok := ctx.Value(sessionKey{}).(*session)
	if ok && sess.store == s {
		return sess
	}
	return nil
}

// RunTx runs fn as one transaction. A ctx already inside a transaction of
// this store joins it. When fn fails every change registered with OnRollback
// is undone in reverse order and commit hooks are discarded.
func (s *Store) RunTx(ctx context.Context, fn func(context.Context) error) error {
	if s.current(ctx) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &session{store: s}
	txCtx, hooks := db.WithCommitScope(context.WithValue(ctx, sessionKey{}, sess))
	if err := fn(txCtx); err != nil {
		for i := len(sess.undo) - 1; i >= 0; i-- {
			sess.undo[i]()
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		for i := len(sess.undo) - 1; i >= 0; i-- {
			sess.undo[i]()
		}
		return err
	}
	hooks.Run()
	return nil
}

// Read runs fn under the store lock unless ctx is already inside a transaction.
func (s *Store) Read(ctx context.Context, fn func()) {
	if s.current(ctx) != nil {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// OnRollback registers an undo step for the transaction in ctx. Outside a
// transaction the step is dropped.
func OnRollback(ctx context.Context, fn func()) {
	if sess, ok := ctx.Value(sessionKey{}).(*session); ok {
		sess.undo = append(sess.undo, fn)
	}
}

// NextDocumentNumber mirrors the document_sequences upsert. It must run inside
// a transaction of this store; a rollback returns the number.
func (s *Store) NextDocumentNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	if s.current(ctx) == nil {
		return "", errors.New("memstore: document number outside transaction")
	}
	key := sequenceKey{tenantID: tenantID, docType: docType, period: at.Format("200601")}
	s.sequences[key]++
	seq := s.sequences[key]
	OnRollback(ctx, func() { s.sequences[key]-- })
	return shared.FormatDocumentNumber(docType, at, seq), nil
}
