package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasflam/go-mysql-core/protocol"
	"github.com/vasflam/go-mysql-core/results"
)

func TestDatabaseQuerySyncSelectOneRow(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		return singleColumnResultSet("1", "1")
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Query("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.Columns())
	row, ok := res.Array()
	require.True(t, ok)
	assert.Equal(t, "1", row[0].String)
	_, ok = res.Array()
	assert.False(t, ok)
}

func TestDatabaseQuerySyncServerError(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		return [][]byte{errPayload(1146, "42S02", "Table 'x.nonexistent' doesn't exist")}
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Query("SELECT * FROM nonexistent")
	require.Error(t, err)
	assert.Equal(t, "42S02", res.SQLState())
	assert.NotEmpty(t, res.ErrorMessage())
}

func TestDatabaseQueryInsertReportsAffectedRowsAndLastInsertID(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		return [][]byte{okPayload(1, 7, protocol.ServerStatusAutocommit, 0)}
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	res, err := db.Query("INSERT INTO t (name) VALUES (?)", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.AffectedRows())
	assert.EqualValues(t, 7, res.LastInsertID())
}

func TestDatabaseQueryRejectsArityMismatchBeforeTouchingConnection(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		t.Fatal("server should not be contacted on an arity mismatch")
		return nil
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("SELECT ?", 1, 2)
	assert.ErrorIs(t, err, ErrArityMismatch)
}

func TestDatabaseQueryAsyncFiresCallbacksInSubmissionOrder(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		return singleColumnResultSet("1", "1")
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		err := db.QueryAsync("SELECT 1", func(err error, r *results.Results) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
	}
	waitWithTimeout(t, &wg, 2*time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDatabaseQuerySyncBusyWhileAsyncInFlight(t *testing.T) {
	block := make(chan struct{})
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		<-block
		return singleColumnResultSet("1", "1")
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, db.QueryAsync("SELECT 1", func(error, *results.Results) { wg.Done() }))

	time.Sleep(50 * time.Millisecond)
	_, err = db.Query("SELECT 2")
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	waitWithTimeout(t, &wg, 2*time.Second)
}

func TestDatabaseBacklogReflectsQueueDepth(t *testing.T) {
	block := make(chan struct{})
	d, cleanup := startFakeServer(t, func(sql string) [][]byte {
		<-block
		return [][]byte{okPayload(0, 0, protocol.ServerStatusAutocommit, 0)}
	})
	defer cleanup()

	pool := NewPool(d, 5, nil)
	db, err := pool.DB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.QueryAsync("SELECT 1", func(error, *results.Results) {}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, db.Backlog())
	close(block)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, db.Backlog())
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callbacks")
	}
}
