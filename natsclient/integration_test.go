//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATSContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return "nats://" + host + ":" + port.Port()
}

func TestIntegration_ConnectPublishSubscribe(t *testing.T) {
	url := startNATSContainer(t)

	c, err := NewClient(url, WithName("integration-test"))
	require.NoError(t, err)
	defer c.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.WaitForConnection(ctx))
	assert.True(t, c.IsHealthy())

	sub, err := c.SubscribeSync("images.raw")
	require.NoError(t, err)

	require.NoError(t, c.Publish("images.raw", []byte("frame-data")))
	require.NoError(t, c.Flush(ctx))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-data"), msg.Data)

	status := c.GetStatus()
	assert.Equal(t, StatusConnected, status.Status)
	assert.Greater(t, status.RTT, time.Duration(0))
}

func TestIntegration_CloseUnsubscribes(t *testing.T) {
	url := startNATSContainer(t)

	c, err := NewClient(url)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	_, err = c.SubscribeSync("images.features")
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StatusDisconnected, c.Status())

	err = c.Publish("images.features", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}
