package database

import "github.com/pkg/errors"

// ErrBusy is returned by Database.Query when a non-blocking query is
// already in flight (Backlog() > 0).
var ErrBusy = errors.New("database: a query is already in flight on this connection")

// ErrArityMismatch is returned by ExpandSQL when the number of `?`
// placeholders in the template does not match the number of arguments.
var ErrArityMismatch = errors.New("database: placeholder count does not match argument count")

// ErrTxInProgress is returned by Begin when the connection's status flags
// already indicate an active transaction.
var ErrTxInProgress = errors.New("database: a transaction is already in progress on this connection")
