package memstore

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Idempotency is an in-memory stand-in for shared.IdempotencyStore.
type Idempotency struct {
	store *Store
	keys  map[string]struct{}
}

// NewIdempotency constructs the key set on store.
func NewIdempotency(store *Store) *Idempotency {
	return &Idempotency{store: store, keys: make(map[string]struct{})}
}

// CheckAndInsert reports shared.ErrIdempotencyConflict on a repeated key.
func (i *Idempotency) CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error {
	k := fmt.Sprintf("%d:%s:%s", tenantID, module, key)
	var err error
	i.store.Read(ctx, func() {
		if _, ok := i.keys[k]; ok {
			err = shared.ErrIdempotencyConflict
			return
		}
		i.keys[k] = struct{}{}
		OnRollback(ctx, func() { delete(i.keys, k) })
	})
	return err
}

// Audit records audit logs in memory.
type Audit struct {
	store *Store
	logs  []shared.AuditLog
}

// NewAudit constructs an Audit recorder on store.
func NewAudit(store *Store) *Audit {
	return &Audit{store: store}
}

func (a *Audit) Record(ctx context.Context, log shared.AuditLog) error {
	a.store.Read(ctx, func() {
		n := len(a.logs)
		a.logs = append(a.logs, log)
		OnRollback(ctx, func() { a.logs = a.logs[:n] })
	})
	return nil
}

// Actions lists recorded audit actions in order.
func (a *Audit) Actions() []string {
	var out []string
	a.store.Read(context.Background(), func() {
		for _, l := range a.logs {
			out = append(out, l.Action)
		}
	})
	return out
}

// Approvals records approval rows in memory.
type Approvals struct {
	store *Store
	logs  []shared.ApprovalLog
}

// NewApprovals constructs an Approvals recorder on store.
func NewApprovals(store *Store) *Approvals {
	return &Approvals{store: store}
}

func (a *Approvals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.store.Read(ctx, func() {
		n := len(a.logs)
		log.ID = int64(n + 1)
		a.logs = append(a.logs, log)
		OnRollback(ctx, func() { a.logs = a.logs[:n] })
	})
	return nil
}

// Logs returns the recorded rows for a module.
func (a *Approvals) Logs(module string) []shared.ApprovalLog {
	var out []shared.ApprovalLog
	a.store.Read(context.Background(), func() {
		for _, l := range a.logs {
			if l.Module == module {
				out = append(out, l)
			}
		}
	})
	return out
}
