// Package shell forwards messages to the native mobile app that embeds the
// web client.
package shell

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MessageType identifies a message to the embedding shell.
type MessageType string

const MessageIDToken MessageType = "idToken"

// Message is the typed envelope the shell understands.
type Message struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token,omitempty"`
}

type Bridge interface {
	Post(ctx context.Context, msg Message) error
}

// RedisBridge publishes messages on "shell:<sessionID>"; the shell's
// connection gateway subscribes to that channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

func NewRedisBridge(client *redis.Client, sessionID string) *RedisBridge {
	return &RedisBridge{client: client, channel: Channel(sessionID)}
}

// Channel returns the pub/sub channel for a session.
func Channel(sessionID string) string { return "shell:" + sessionID }

func (b *RedisBridge) Post(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("post to shell: %w", err)
	}
	return nil
}
