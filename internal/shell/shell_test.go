package shell

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisBridge_PostPublishesTypedMessage(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("sess-1"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	b := NewRedisBridge(client, "sess-1")
	require.NoError(t, b.Post(ctx, Message{Type: MessageIDToken, Token: "tok"}))

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, Message{Type: MessageIDToken, Token: "tok"}, got)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}
