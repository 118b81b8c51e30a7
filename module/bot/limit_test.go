package bot

import (
	"context"
	"testing"

	"PPost/service/rpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChatLimiter(t *testing.T) {
	assert.Nil(t, newChatLimiter(0, 5))
	var none *chatLimiter
	assert.True(t, none.allow("c"))

	l := newChatLimiter(0.001, 2)
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per chat")
}

func TestRateLimitedCommandsAreDropped(t *testing.T) {
	ch := rpc.NewChannel(rpc.Options{Log: zap.NewNop()})
	defer ch.Close()
	msgr := &fakeMessenger{}
	b := New(Options{Channel: ch, Messenger: msgr, RateLimit: 0.001, RateBurst: 1, Log: zap.NewNop()})

	ctx := context.Background()
	help := &Message{ID: "1", Chat: Chat{ID: "7"}, Text: "/help"}
	require.NoError(t, b.HandleUpdate(ctx, Update{Message: help}))
	require.NoError(t, b.HandleUpdate(ctx, Update{Message: help}))
	assert.Len(t, msgr.sent(), 1)
}
