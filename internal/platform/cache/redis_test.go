package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := New(context.Background(), srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.Equal(t, "v", client.Get(context.Background(), "k").Val())
}

func TestNewUnreachable(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}
