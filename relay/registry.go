package relay

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"qr-relay/contract"
	"qr-relay/domain"
	"qr-relay/errors"
)

var validate = validator.New()

type channelIDRequest struct {
	ID string `validate:"alphanum,min=2,max=32"`
}

// ValidateChannelID checks a caller-supplied channel id against the
// wire constraint: letters and digits only, 2 to 32 characters.
func ValidateChannelID(id string) error {
	err := validate.Struct(channelIDRequest{ID: id})
	if err == nil {
		return nil
	}
	for _, fieldErr := range err.(validator.ValidationErrors) {
		switch fieldErr.Tag() {
		case "alphanum":
			return errors.ErrInvalidChannelCharset
		case "min", "max":
			return errors.ErrInvalidChannelLength
		}
	}
	return errors.ErrInvalidChannelCharset
}

// Registry is the process-wide channel directory. All mutation goes through
// its lock, which is what gives join/publish/disconnect on the same channel
// a serialized, non-interleaved view of the consumer set and the last
// publication.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*domain.Channel
	genID    func() string
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*domain.Channel),
		genID:    randomChannelID,
		now:      time.Now,
	}
}

// randomChannelID mirrors the generated-id scheme of the wire contract:
// 8 hex characters from 4 random bytes.
func randomChannelID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Create inserts a new channel with its producer already bound, so a live
// registry entry always has exactly one producer. A caller-supplied id is
// validated and checked for conflict; otherwise a fresh id is generated,
// retried on collision under the same lock so two concurrent creates can
// never both win the same id.
func (r *Registry) Create(requestedID string, passwordHash *string, producer domain.ConnID) (string, error) {
	if requestedID != "" {
		if err := ValidateChannelID(requestedID); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := requestedID
	if id == "" {
		id = r.genID()
		for _, exists := r.channels[id]; exists; _, exists = r.channels[id] {
			id = r.genID()
		}
	} else if _, exists := r.channels[id]; exists {
		return "", errors.ErrChannelTaken
	}

	r.channels[id] = domain.NewChannel(id, passwordHash, producer, r.now())
	return id, nil
}

// PasswordHash returns the channel's password gate, or false if the channel
// is unknown. Absence is a normal case, not an error.
func (r *Registry) PasswordHash(channelID string) (*string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.PasswordHash, true
}

// AddConsumer adds a connection to the channel's consumer set and returns
// the post-join view in one locked step. Returns false if the channel
// vanished between lookup and join (producer disconnect race); the caller
// then reports a clean not-found instead of half-joining.
func (r *Registry) AddConsumer(channelID string, conn domain.ConnID) (contract.ConsumerUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return contract.ConsumerUpdate{}, false
	}
	ch.Consumers[conn] = struct{}{}
	return contract.ConsumerUpdate{
		Count:           len(ch.Consumers),
		Producer:        ch.Producer,
		LastPublication: ch.LastPublication,
	}, true
}

// RemoveConsumer drops a connection from the consumer set. Idempotent: a
// double disconnect finds nothing to remove and leaves the count untouched.
func (r *Registry) RemoveConsumer(channelID string, conn domain.ConnID) (contract.ConsumerUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return contract.ConsumerUpdate{}, false
	}
	delete(ch.Consumers, conn)
	return contract.ConsumerUpdate{
		Count:    len(ch.Consumers),
		Producer: ch.Producer,
	}, true
}

// SetPublication replaces the channel's last publication and returns a
// stable snapshot of the consumer handles to fan out to. A join or leave
// racing the broadcast mutates the live set, never the returned slice.
func (r *Registry) SetPublication(channelID string, pub domain.Publication) ([]domain.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	ch.LastPublication = &pub
	return consumerSnapshot(ch), true
}

// Delete removes the channel and returns the consumers that still need a
// producer_left notification. Idempotent.
func (r *Registry) Delete(channelID string) ([]domain.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	delete(r.channels, channelID)
	return consumerSnapshot(ch), true
}

// Snapshot lists live channels for the admin query surface without
// mutating anything.
func (r *Registry) Snapshot() []domain.ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]domain.ChannelInfo, 0, len(r.channels))
	for _, ch := range r.channels {
		infos = append(infos, domain.ChannelInfo{
			ID:            ch.ID,
			HasPassword:   ch.PasswordHash != nil,
			ConsumerCount: len(ch.Consumers),
			CreatedAt:     ch.CreatedAt,
		})
	}
	return infos
}

func consumerSnapshot(ch *domain.Channel) []domain.ConnID {
	conns := make([]domain.ConnID, 0, len(ch.Consumers))
	for conn := range ch.Consumers {
		conns = append(conns, conn)
	}
	return conns
}
