package conn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasflam/go-mysql-core/protocol"
)

func TestConnectReachesIdlePhase(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte { return nil })
	defer cleanup()

	c, err := Connect(context.Background(), d)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, PhaseIdle, c.Phase())
	assert.NotZero(t, c.Capabilities()&protocol.ClientProtocol41)
}

func TestConnectNetworkErrorOnRefusedPort(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte { return nil })
	cleanup() // closes the listener before Connect dials it

	_, err := Connect(context.Background(), d)
	assert.Error(t, err)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestPingReturnsTrueWhenHealthy(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte { return nil })
	defer cleanup()

	c, err := Connect(context.Background(), d)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.Ping())
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestPingReturnsFalseAfterClose(t *testing.T) {
	d, cleanup := startFakeServer(t, func(sql string) [][]byte { return nil })
	defer cleanup()

	c, err := Connect(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.False(t, c.Ping())
}
