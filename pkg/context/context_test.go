package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorID(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-3"} {
		assert.Nil(t, GetActorID(SetActorID(context.Background(), raw)), raw)
	}

	id := GetActorID(SetActorID(context.Background(), "42"))
	require.NotNil(t, id)
	assert.Equal(t, int64(42), *id)
}

func TestRequestValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = SetRequestID(ctx, "req-1")
	ctx = SetRoute(ctx, "/api/v1/requests/:id")
	ctx = SetRemoteIP(ctx, "10.0.0.1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "/api/v1/requests/:id", GetRoute(ctx))
	assert.Equal(t, "10.0.0.1", GetRemoteIP(ctx))
}
