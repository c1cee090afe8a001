package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"qr-relay/relay"
)

const (
	reconnectDelay = 3 * time.Second
	pingInterval   = 5 * time.Second
)

// Update is one received publication with the receiver-side remaining
// validity already computed: the relay sends its own remaining TTL plus the
// origin timestamp, and this client subtracts the observed one-way latency
// before starting any countdown.
type Update struct {
	URL         string
	OriginTime  time.Time
	RemainingMs int64
	ReceivedAt  time.Time
}

// Handlers are the consumer-side callbacks. Nil entries are skipped.
type Handlers struct {
	OnJoined       func(channelID string)
	OnUpdate       func(u Update)
	OnProducerLeft func()
	OnError        func(message string)
}

// Consumer maintains a WebSocket to the relay, joining one channel and
// redialing on a fixed interval whenever the connection drops.
type Consumer struct {
	log       *slog.Logger
	url       string
	channelID string
	password  string
	handlers  Handlers
}

func NewConsumer(log *slog.Logger, url, channelID, password string, handlers Handlers) *Consumer {
	return &Consumer{
		log:       log,
		url:       url,
		channelID: channelID,
		password:  password,
		handlers:  handlers,
	}
}

// Run connects and keeps reconnecting until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.connectOnce(ctx); err != nil {
			c.log.Warn("connection lost, retrying", "error", err, "delay", reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) connectOnce(ctx context.Context) error {
	sock, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sock.Close() }()

	join := map[string]string{
		"type":      relay.TypeJoinChannel,
		"channelId": c.channelID,
	}
	if c.password != "" {
		join["password"] = c.password
	}
	if err := sock.WriteJSON(join); err != nil {
		return err
	}

	// Application-level heartbeat, so intermediaries see traffic even on an
	// idle channel and the client can measure round trips.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = sock.WriteJSON(map[string]string{"type": relay.TypePing})
			}
		}
	}()

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Consumer) dispatch(raw []byte) {
	var msg struct {
		Type        string `json:"type"`
		ChannelID   string `json:"channelId"`
		URL         string `json:"url"`
		Timestamp   int64  `json:"timestamp"`
		RemainingMs int64  `json:"remainingMs"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("unparseable server message", "error", err)
		return
	}

	switch msg.Type {
	case relay.TypeChannelJoined:
		c.log.Info("joined channel", "channel_id", msg.ChannelID)
		if c.handlers.OnJoined != nil {
			c.handlers.OnJoined(msg.ChannelID)
		}
	case relay.TypeURLUpdate:
		now := time.Now()
		latency := now.UnixMilli() - msg.Timestamp
		remaining := msg.RemainingMs - latency
		if remaining < 0 {
			remaining = 0
		}
		if c.handlers.OnUpdate != nil {
			c.handlers.OnUpdate(Update{
				URL:         msg.URL,
				OriginTime:  time.UnixMilli(msg.Timestamp),
				RemainingMs: remaining,
				ReceivedAt:  now,
			})
		}
	case relay.TypeProducerLeft:
		c.log.Info("producer left channel", "channel_id", c.channelID)
		if c.handlers.OnProducerLeft != nil {
			c.handlers.OnProducerLeft()
		}
	case relay.TypeError:
		c.log.Warn("server error", "message", msg.Message)
		if c.handlers.OnError != nil {
			c.handlers.OnError(msg.Message)
		}
	case relay.TypePong:
		c.log.Debug("pong", "server_time", msg.Timestamp)
	}
}
