package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Message attributes set on every published event.
const (
	attrType      = "type"
	attrAuctionID = "auction_id"
)

// Event types published on the auction events channel.
const (
	EventAuctionCreated = "auction.created"
	EventAuctionUpdated = "auction.updated"
	EventAuctionDeleted = "auction.deleted"
	EventAuctionEnded   = "auction.ended"
	EventBidPlaced      = "bid.placed"
)

// Event is the JSON body of every message on the events channel.
type Event struct {
	Type      string   `json:"type"`
	AuctionID int64    `json:"auction_id"`
	UserID    string   `json:"user_id,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	// WinnerID is set on auction.ended when the auction had bids.
	WinnerID   string    `json:"winner_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher encodes events onto a single channel. A Publisher without a
// backend drops events, which is how the server runs with MQ_BACKEND=none.
type Publisher struct {
	backend Backend
	channel string
}

// NewPublisher constructs a Publisher. backend may be nil.
func NewPublisher(backend Backend, channel string) *Publisher {
	return &Publisher{backend: backend, channel: channel}
}

// Publish sends the event and returns the broker-assigned message id.
func (p *Publisher) Publish(ctx context.Context, event Event) (string, error) {
	if p == nil || p.backend == nil {
		return "", nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	attrs := map[string]string{
		attrType:      event.Type,
		attrAuctionID: strconv.FormatInt(event.AuctionID, 10),
	}
	return p.backend.Publish(ctx, p.channel, data, attrs)
}

// Subscribe decodes events from the channel and passes them to fn.
// Undecodable messages are rejected through the backend's nack path.
func (p *Publisher) Subscribe(ctx context.Context, fn func(ctx context.Context, event Event) error) error {
	if p == nil || p.backend == nil {
		return fmt.Errorf("no message broker configured")
	}
	return p.backend.Subscribe(ctx, p.channel, func(ctx context.Context, msg Message) error {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		return fn(ctx, event)
	})
}

// Close closes the underlying backend.
func (p *Publisher) Close() error {
	if p == nil || p.backend == nil {
		return nil
	}
	return p.backend.Close()
}
