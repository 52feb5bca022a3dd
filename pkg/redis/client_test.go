package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_UnreachableFails(t *testing.T) {
	c, err := NewClient(context.Background(), Options{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "redis ping")
}
