package contract

import (
	"qr-relay/domain"
)

// Sink is one live outbound connection as seen by the relay engine.
// Send must never block: a slow or broken consumer is skipped, not waited on.
type Sink interface {
	Send(v any) error
}

type IRegistry interface {
	Create(requestedID string, passwordHash *string, producer domain.ConnID) (string, error)
	PasswordHash(channelID string) (*string, bool)
	AddConsumer(channelID string, conn domain.ConnID) (ConsumerUpdate, bool)
	RemoveConsumer(channelID string, conn domain.ConnID) (ConsumerUpdate, bool)
	SetPublication(channelID string, pub domain.Publication) ([]domain.ConnID, bool)
	Delete(channelID string) ([]domain.ConnID, bool)
	Snapshot() []domain.ChannelInfo
}

// ConsumerUpdate is the consistent view returned by a consumer-set mutation:
// the new count, the producer to notify, and the publication a late joiner
// may still be interested in. Taken under the registry lock so the caller
// never observes a torn channel.
type ConsumerUpdate struct {
	Count           int
	Producer        domain.ConnID
	LastPublication *domain.Publication
}

type IEngine interface {
	Connect(id domain.ConnID, sink Sink)
	Disconnect(id domain.ConnID)
	HandleMessage(id domain.ConnID, raw []byte)
}
