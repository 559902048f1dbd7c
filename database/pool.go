package database

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/vasflam/go-mysql-core/conn"
	"github.com/vasflam/go-mysql-core/dsn"
)

// DefaultMaxConnections is the idle-connection cap a Pool uses when none is
// given to NewPool.
const DefaultMaxConnections = 5

// Pool caches idle Connections to one DSN, keyed implicitly to the process
// that created them: on a process-id change (fork) the idle list is
// discarded rather than reused, since the underlying sockets were
// duplicated and the parent remains responsible for them.
type Pool struct {
	dsn            *dsn.DSN
	MaxConnections int
	logger         *zap.Logger

	// OnNewConnection, if set, is invoked after DB creates and connects a
	// fresh Connection (as opposed to reusing an idle one).
	OnNewConnection func(*conn.Connection)

	mu  sync.Mutex
	pid int
	idle []*conn.Connection
}

// NewPool returns a Pool for d. maxConnections <= 0 selects
// DefaultMaxConnections; pass 0 explicitly via MaxConnections after
// construction to disable caching entirely.
func NewPool(d *dsn.DSN, maxConnections int, logger *zap.Logger) *Pool {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{dsn: d, MaxConnections: maxConnections, logger: logger, pid: os.Getpid()}
}

// DB leases a Database backed by a cached healthy Connection, or a freshly
// dialed one if none is idle or every idle candidate failed Ping.
func (p *Pool) DB(ctx context.Context) (*Database, error) {
	p.mu.Lock()
	if pid := os.Getpid(); pid != p.pid {
		p.idle = nil
		p.pid = pid
	}

	var c *conn.Connection
	for len(p.idle) > 0 {
		candidate := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		if candidate.Ping() {
			c = candidate
			break
		}
		candidate.Close()
		p.mu.Lock()
	}
	if c == nil {
		p.mu.Unlock()
	}
	pid := p.pid

	if c == nil {
		var err error
		c, err = conn.Connect(ctx, p.dsn, conn.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		if p.OnNewConnection != nil {
			p.OnNewConnection(c)
		}
		p.logger.Info("pool created connection", zap.Int("pid", pid))
	}

	return newDatabase(c, p, pid, p.logger), nil
}

// release returns c to the idle list, evicting the oldest entry first if
// doing so would exceed MaxConnections. MaxConnections == 0 disables
// caching: c is closed immediately instead of being enqueued.
func (p *Pool) release(c *conn.Connection) {
	if p.MaxConnections == 0 {
		c.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, c)
	var evicted *conn.Connection
	if len(p.idle) > p.MaxConnections {
		evicted = p.idle[0]
		p.idle = p.idle[1:]
	}
	p.mu.Unlock()
	if evicted != nil {
		evicted.Close()
	}
}
