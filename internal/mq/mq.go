// Package mq carries outbound work (currently OTP emails) from the API
// process to background workers over a message broker.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is what a subscriber receives, regardless of broker.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. A non-nil error asks the broker to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// AttrContentType names the attribute holding the payload encoding.
const AttrContentType = "content-type"

// PublishJSON encodes v and publishes it on channel.
func PublishJSON(ctx context.Context, b Backend, channel string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return b.Publish(ctx, channel, data, map[string]string{AttrContentType: "application/json"})
}

// DecodeJSON unmarshals the message payload into v.
func (m Message) DecodeJSON(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}
