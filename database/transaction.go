package database

import "sync"

// Transaction guards the connection-level invariant that at most one
// transaction is open at a time. Go has no destructors, so callers are
// expected to `defer tx.Close()` immediately after a successful Begin,
// exactly as database/sql.Tx callers are expected to resolve a transaction
// before it goes out of scope; Close rolls back if neither Commit nor
// Rollback already ran.
type Transaction struct {
	db *Database

	mu       sync.Mutex
	resolved bool
}

// Commit issues COMMIT. A second call, or a call after Rollback, is a no-op
// returning nil.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return nil
	}
	t.resolved = true
	t.mu.Unlock()

	_, err := t.db.Query("COMMIT")
	return err
}

// Rollback issues ROLLBACK. A second call, or a call after Commit, is a
// no-op returning nil.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return nil
	}
	t.resolved = true
	t.mu.Unlock()

	_, err := t.db.Query("ROLLBACK")
	return err
}

// Close rolls back the transaction if neither Commit nor Rollback has
// already resolved it.
func (t *Transaction) Close() error {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.Rollback()
}
