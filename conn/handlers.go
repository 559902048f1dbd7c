package conn

import (
	"github.com/vasflam/go-mysql-core/protocol"
	"github.com/vasflam/go-mysql-core/results"
)

// EndMeta is passed to Handlers.OnEnd when a command completes normally.
type EndMeta struct {
	AffectedRows  uint64
	LastInsertID  uint64
	WarningsCount uint16
	MoreResults   bool
}

// ErrorInfo is passed to Handlers.OnError when the server returns an ERR
// packet mid-session.
type ErrorInfo struct {
	Code    uint16
	State   string
	Message string
}

// Handlers is the typed callback table a Database installs on its
// Connection for the lifetime of one query. Any field left nil is simply
// not invoked.
type Handlers struct {
	OnFields func([]protocol.ColumnDef)
	OnRow    func(results.Row)
	OnEnd    func(EndMeta)
	OnError  func(ErrorInfo)
}

// SetHandlers installs h as the active callback table, replacing any
// previous one.
func (c *Connection) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// ClearHandlers removes the active callback table; subsequent events (there
// should be none, since no command can be in flight once this is called)
// are silently dropped.
func (c *Connection) ClearHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = Handlers{}
}
