package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"qr-relay/auth"
	"qr-relay/contract"
	"qr-relay/domain"
	"qr-relay/errors"
)

// DefaultTTL is the validity window of a publication from the moment the
// server accepts it.
const DefaultTTL = 10 * time.Second

// Engine interprets inbound messages, enforces the per-connection role
// state machine and fans publications out to consumers. It only ever sees
// connections as opaque handles resolved through the sink table, so any
// transport that can deliver JSON objects can sit in front of it.
type Engine struct {
	log      *slog.Logger
	registry contract.IRegistry
	ttl      time.Duration
	now      func() time.Time

	// chLocks serializes mutation plus notification per channel; mu only
	// guards the session and sink tables.
	chLocks  *channelLocks
	mu       sync.Mutex
	sessions map[domain.ConnID]*domain.Session
	sinks    map[domain.ConnID]contract.Sink
}

func NewEngine(log *slog.Logger, registry contract.IRegistry, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{
		log:      log,
		registry: registry,
		ttl:      ttl,
		now:      time.Now,
		chLocks:  newChannelLocks(),
		sessions: make(map[domain.ConnID]*domain.Session),
		sinks:    make(map[domain.ConnID]contract.Sink),
	}
}

// Connect attaches a fresh unassigned session to an accepted connection.
func (e *Engine) Connect(id domain.ConnID, sink contract.Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[id] = domain.NewSession()
	e.sinks[id] = sink
}

// Disconnect reconciles the registry after a transport-level close.
// Idempotent: a second close for the same handle finds no session and does
// nothing, so the consumer set can never be double-decremented.
func (e *Engine) Disconnect(id domain.ConnID) {
	e.mu.Lock()
	sess, ok := e.sessions[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, id)
	delete(e.sinks, id)
	e.mu.Unlock()

	switch sess.Role {
	case domain.RoleProducer:
		// The channel dies with its producer. Delete and the producer_left
		// notifications run under the channel lock, so a join racing this
		// either lands before the delete (and is notified with everyone
		// else) or sees a clean not-found.
		lock := e.chLocks.get(sess.ChannelID)
		lock.Lock()
		consumers, ok := e.registry.Delete(sess.ChannelID)
		if ok {
			for _, conn := range consumers {
				e.send(conn, ProducerLeft{Type: TypeProducerLeft})
			}
		}
		lock.Unlock()
		e.chLocks.drop(sess.ChannelID)
		if ok {
			e.log.Info("channel closed, producer left", "channel_id", sess.ChannelID, "notified", len(consumers))
		}
	case domain.RoleConsumer:
		lock := e.chLocks.get(sess.ChannelID)
		lock.Lock()
		defer lock.Unlock()
		upd, ok := e.registry.RemoveConsumer(sess.ChannelID, id)
		if !ok {
			return
		}
		e.send(upd.Producer, ConsumerCount{Type: TypeConsumerCount, Count: upd.Count})
	}
}

// HandleMessage dispatches one inbound JSON payload for the given
// connection. Malformed payloads are answered with a wire error; the
// connection itself stays open for a corrected retry.
func (e *Engine) HandleMessage(id domain.ConnID, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Debug("malformed message", "conn_id", id, "error", err)
		e.replyError(id, errors.ErrMalformedMessage)
		return
	}

	switch msg.Type {
	case TypeCreateChannel:
		e.handleCreate(id, msg)
	case TypeJoinChannel:
		e.handleJoin(id, msg)
	case TypeURLUpdate:
		e.handlePublish(id, msg)
	case TypePing:
		e.send(id, Pong{Type: TypePong, Timestamp: e.now().UnixMilli()})
	default:
		e.replyError(id, errors.ErrUnknownMessageType)
	}
}

func (e *Engine) handleCreate(id domain.ConnID, msg inboundMessage) {
	sess, ok := e.session(id)
	if !ok {
		return
	}
	if sess.Role != domain.RoleUnassigned {
		e.replyError(id, errors.ErrAlreadyAssigned)
		return
	}

	var passwordHash *string
	if msg.Password != "" {
		hash, err := auth.HashPassword(msg.Password)
		if err != nil {
			e.log.Error("password hashing failed", "conn_id", id, "error", err)
			e.replyError(id, errors.ErrMalformedMessage)
			return
		}
		passwordHash = lo.ToPtr(hash)
	}

	channelID, err := e.registry.Create(msg.ChannelID, passwordHash, id)
	if err != nil {
		// Session stays unassigned so the connection may retry with a
		// corrected id.
		e.replyError(id, err)
		return
	}

	sess.Assign(domain.RoleProducer, channelID)
	e.log.Info("channel created", "channel_id", channelID, "protected", passwordHash != nil)
	e.send(id, ChannelCreated{
		Type:      TypeChannelCreated,
		ChannelID: channelID,
		Message:   "Channel created successfully",
	})
}

func (e *Engine) handleJoin(id domain.ConnID, msg inboundMessage) {
	sess, ok := e.session(id)
	if !ok {
		return
	}
	if sess.Role != domain.RoleUnassigned {
		e.replyError(id, errors.ErrAlreadyAssigned)
		return
	}

	hash, found := e.registry.PasswordHash(msg.ChannelID)
	if !found {
		e.replyError(id, errors.ErrChannelNotFound)
		return
	}
	if hash != nil {
		match, err := auth.ComparePassword(msg.Password, *hash)
		if err != nil || !match {
			e.replyError(id, errors.ErrInvalidPassword)
			return
		}
	}

	// The join mutation and every message it triggers happen under the
	// channel lock, so the producer sees consumer counts in join order.
	lock := e.chLocks.get(msg.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	upd, found := e.registry.AddConsumer(msg.ChannelID, id)
	if !found {
		// Producer vanished between the password check and the join.
		e.replyError(id, errors.ErrChannelNotFound)
		return
	}

	sess.Assign(domain.RoleConsumer, msg.ChannelID)
	e.send(id, ChannelJoined{
		Type:      TypeChannelJoined,
		ChannelID: msg.ChannelID,
		Message:   "Joined channel successfully",
	})

	// A late joiner gets the stored publication with the server-side
	// remainder, never the original TTL.
	if pub := upd.LastPublication; pub != nil {
		if remaining := pub.ExpiresAt.Sub(e.now()); remaining > 0 {
			e.send(id, URLUpdate{
				Type:        TypeURLUpdate,
				URL:         pub.URL,
				Timestamp:   pub.OriginTimestamp.UnixMilli(),
				RemainingMs: remaining.Milliseconds(),
			})
		}
	}

	e.send(upd.Producer, ConsumerCount{Type: TypeConsumerCount, Count: upd.Count})
}

func (e *Engine) handlePublish(id domain.ConnID, msg inboundMessage) {
	sess, ok := e.session(id)
	if !ok {
		return
	}
	if sess.Role != domain.RoleProducer || sess.ChannelID == "" {
		e.replyError(id, errors.ErrNotAuthorized)
		return
	}
	if msg.URL == "" {
		e.replyError(id, errors.ErrMalformedMessage)
		return
	}

	now := e.now()
	origin := now
	if msg.Timestamp > 0 {
		origin = time.UnixMilli(msg.Timestamp)
	}
	pub := domain.Publication{
		URL:             msg.URL,
		OriginTimestamp: origin,
		ExpiresAt:       now.Add(e.ttl),
	}

	lock := e.chLocks.get(sess.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	consumers, found := e.registry.SetPublication(sess.ChannelID, pub)
	if !found {
		// Producer session outliving its channel means the disconnect path
		// already tore it down.
		e.replyError(id, errors.ErrNotAuthorized)
		return
	}

	out := URLUpdate{
		Type:        TypeURLUpdate,
		URL:         pub.URL,
		Timestamp:   origin.UnixMilli(),
		RemainingMs: e.ttl.Milliseconds(),
	}
	for _, conn := range consumers {
		e.send(conn, out)
	}
}

func (e *Engine) session(id domain.ConnID) (*domain.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[id]
	return sess, ok
}

// send delivers to a single handle, skipping silently when the connection
// is already gone or its buffer is full. One broken consumer never stalls
// a broadcast.
func (e *Engine) send(id domain.ConnID, v any) {
	e.mu.Lock()
	sink, ok := e.sinks[id]
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := sink.Send(v); err != nil {
		e.log.Debug("dropped outbound message", "conn_id", id, "error", err)
	}
}

func (e *Engine) replyError(id domain.ConnID, err error) {
	e.send(id, ErrorMessage{Type: TypeError, Message: err.Error()})
}
