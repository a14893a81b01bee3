package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClientNamesConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, "redis://"+mr.Addr()+"/0", "myfidpass-api")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	assert.Equal(t, "myfidpass-api", client.Options().ClientName)
	name, err := client.ClientGetName(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, "myfidpass-api", name)
}

func TestNewRedisClientKeepsNameFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0?client_name=ops", "myfidpass-api")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	assert.Equal(t, "ops", client.Options().ClientName)
}

func TestNewRedisClientRejectsBadInput(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "", "x")
	require.Error(t, err)

	_, err = NewRedisClient(context.Background(), "http://nope", "x")
	require.ErrorContains(t, err, "parse redis url")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), "redis://"+addr, "x")
	require.ErrorContains(t, err, "ping redis")
}
