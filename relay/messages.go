package relay

// Inbound message types.
const (
	TypeCreateChannel = "create_channel"
	TypeJoinChannel   = "join_channel"
	TypeURLUpdate     = "url_update"
	TypePing          = "ping"
)

// Outbound message types.
const (
	TypeChannelCreated = "channel_created"
	TypeChannelJoined  = "channel_joined"
	TypeConsumerCount  = "consumer_count"
	TypeProducerLeft   = "producer_left"
	TypeError          = "error"
	TypePong           = "pong"
)

// inboundMessage is the union of every client payload. The type
// discriminator decides which fields matter; extra fields are ignored.
// Timestamps travel as Unix milliseconds, matching the producer's
// Date.now()-style capture clock.
type inboundMessage struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId,omitempty"`
	Password  string `json:"password,omitempty"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ChannelCreated struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message,omitempty"`
}

type ChannelJoined struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	Message   string `json:"message,omitempty"`
}

// URLUpdate carries the published URL together with the origin timestamp
// and the validity the receiver may still count on. RemainingMs is the full
// TTL on a live broadcast and the server-side remainder on a late join; the
// origin timestamp passes through unmodified so each receiver can subtract
// its own one-way delivery latency.
type URLUpdate struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Timestamp   int64  `json:"timestamp"`
	RemainingMs int64  `json:"remainingMs"`
}

type ConsumerCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type ProducerLeft struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
