// Package database provides the pool-backed facade over a conn.Connection:
// synchronous and callback-driven query submission serialized through a
// FIFO waiting list, transaction handles, and SQL parameter substitution.
// The queue is a goroutine-per-pending-list worker rather than a
// channel-relay, since conn.Connection.Query already drives the protocol
// state machine to completion on its own calling goroutine.
package database

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vasflam/go-mysql-core/conn"
	"github.com/vasflam/go-mysql-core/protocol"
	"github.com/vasflam/go-mysql-core/results"
)

// Callback receives the outcome of a query submitted via QueryAsync. r is
// non-nil even on error, carrying whatever error metadata the connection
// recorded.
type Callback func(err error, r *results.Results)

type queryDescriptor struct {
	sql     string
	cb      Callback
	results *results.Results
}

// Database owns one Connection exclusively for its lifetime and serializes
// queries submitted against it onto a FIFO waiting list, dispatched one at
// a time by a single worker goroutine.
type Database struct {
	conn *conn.Connection
	pool *Pool
	pid  int

	mu      sync.Mutex
	waiting []*queryDescriptor
	running bool

	logger *zap.Logger
}

func newDatabase(c *conn.Connection, pool *Pool, pid int, logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{conn: c, pool: pool, pid: pid, logger: logger}
}

// Query substitutes args into sql (see ExpandSQL), drives it to completion
// synchronously, and returns the accumulated Results. It fails with ErrBusy
// if an async query is already in flight (Backlog() > 0); the busy check
// runs before any handler is installed, so a rejected call never disturbs
// the pending queue.
func (db *Database) Query(sql string, args ...interface{}) (*results.Results, error) {
	expanded, err := ExpandSQL(sql, args...)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	if len(db.waiting) > 0 || db.running {
		db.mu.Unlock()
		return nil, ErrBusy
	}
	db.running = true
	db.mu.Unlock()
	defer func() {
		db.mu.Lock()
		db.running = false
		pending := len(db.waiting) > 0
		if pending {
			db.running = true
		}
		db.mu.Unlock()
		if pending {
			go db.drain(uuid.Nil)
		}
	}()

	res := results.New()
	db.conn.SetHandlers(handlersFor(res))
	qerr := db.conn.Query(expanded)
	db.conn.ClearHandlers()
	return res, qerr
}

// QueryAsync substitutes args into sql and pushes it onto the waiting list;
// cb fires once the query completes, in submission order relative to any
// other descriptor queued on this Database. If no query is in progress the
// descriptor is dispatched immediately on a dedicated goroutine; otherwise
// it waits for the goroutine already draining the queue to reach it, or,
// when a synchronous Query is running, for that Query to start the drain.
func (db *Database) QueryAsync(sql string, cb Callback, args ...interface{}) error {
	expanded, err := ExpandSQL(sql, args...)
	if err != nil {
		return err
	}

	corrID := uuid.New()
	desc := &queryDescriptor{sql: expanded, cb: cb, results: results.New()}

	db.mu.Lock()
	db.waiting = append(db.waiting, desc)
	start := !db.running
	if start {
		db.running = true
	}
	db.mu.Unlock()

	db.logger.Info("query queued",
		zap.String("correlation_id", corrID.String()),
		zap.Int("backlog", db.Backlog()))

	if start {
		go db.drain(corrID)
	}
	return nil
}

// drain runs on its own goroutine and pops descriptors off the waiting list
// one at a time until it is empty, running each to completion before
// dispatching its callback and moving to the next. corrID only identifies
// the descriptor that triggered this goroutine's start; later descriptors
// drained by the same goroutine are logged under their own identity (none
// is assigned here, since only QueryAsync mints one per submission).
func (db *Database) drain(corrID uuid.UUID) {
	for {
		db.mu.Lock()
		if len(db.waiting) == 0 {
			db.running = false
			db.mu.Unlock()
			return
		}
		desc := db.waiting[0]
		db.waiting = db.waiting[1:]
		db.mu.Unlock()

		db.conn.SetHandlers(handlersFor(desc.results))
		err := db.conn.Query(desc.sql)
		db.conn.ClearHandlers()

		db.logger.Info("query completed",
			zap.String("correlation_id", corrID.String()),
			zap.Bool("error", err != nil))

		if desc.cb != nil {
			desc.cb(err, desc.results)
		}
	}
}

// Backlog reports the number of queries queued or in flight on this
// Database.
func (db *Database) Backlog() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := len(db.waiting)
	if db.running {
		n++
	}
	return n
}

// Ping delegates to the underlying Connection.
func (db *Database) Ping() bool { return db.conn.Ping() }

// PID returns the id of the process that created this Database's pool
// entry, used for fork-safety diagnostics and log correlation.
func (db *Database) PID() int { return db.pid }

// Close releases the Connection back to the Pool if it is still healthy,
// otherwise discards it. Callers must invoke Close (idiomatically via
// defer) since Go has no deterministic destructors; Pool.DB's contract
// mirrors database/sql.Tx in this respect.
func (db *Database) Close() error {
	if db.pool == nil {
		return db.conn.Close()
	}
	if db.conn.Ping() {
		db.pool.release(db.conn)
		return nil
	}
	return db.conn.Close()
}

// Begin issues START TRANSACTION followed by SET autocommit=0 and returns a
// handle guarding the connection-level "no nested transaction" invariant.
// It fails with ErrTxInProgress if SERVER_STATUS_IN_TRANS is already set.
func (db *Database) Begin(ctx context.Context) (*Transaction, error) {
	if db.conn.StatusFlags()&protocol.ServerStatusInTrans != 0 {
		return nil, ErrTxInProgress
	}
	if _, err := db.Query("START TRANSACTION"); err != nil {
		return nil, err
	}
	if _, err := db.Query("SET autocommit=0"); err != nil {
		return nil, err
	}
	return &Transaction{db: db}, nil
}

// handlersFor adapts a *results.Results into the typed Handlers table
// Connection.Query invokes as it parses packets.
func handlersFor(res *results.Results) conn.Handlers {
	return conn.Handlers{
		OnFields: res.AddColumns,
		OnRow:    res.AddRow,
		OnEnd: func(m conn.EndMeta) {
			res.SetTerminal(m.AffectedRows, m.LastInsertID, m.WarningsCount)
		},
		OnError: func(e conn.ErrorInfo) {
			res.SetError(e.Code, e.State, e.Message)
		},
	}
}
