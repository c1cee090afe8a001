package domain

import "time"

// ConnID is an opaque handle for a live connection. The transport layer
// resolves handles back to sockets; nothing in the relay ever holds a
// socket directly.
type ConnID string

// Publication is one unit of broadcast data pushed by a channel's producer.
// ExpiresAt is anchored to the server clock, never the producer's.
type Publication struct {
	URL             string
	OriginTimestamp time.Time
	ExpiresAt       time.Time
}

// Channel binds one producer to zero or more consumers.
// PasswordHash is an argon2id encoded string; nil means the channel is open.
type Channel struct {
	ID              string
	PasswordHash    *string
	Producer        ConnID
	Consumers       map[ConnID]struct{}
	LastPublication *Publication
	CreatedAt       time.Time
}

func NewChannel(id string, passwordHash *string, producer ConnID, createdAt time.Time) *Channel {
	return &Channel{
		ID:           id,
		PasswordHash: passwordHash,
		Producer:     producer,
		Consumers:    make(map[ConnID]struct{}),
		CreatedAt:    createdAt,
	}
}

// ChannelInfo is the read-only projection exposed to the admin surface.
type ChannelInfo struct {
	ID            string    `json:"id"`
	HasPassword   bool      `json:"hasPassword"`
	ConsumerCount int       `json:"consumerCount"`
	CreatedAt     time.Time `json:"createdAt"`
}
