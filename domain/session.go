package domain

// Role is the part a connection plays in its channel.
// A connection gets exactly one role transition for its whole lifetime:
// unassigned -> producer or unassigned -> consumer, never back.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleProducer   Role = "producer"
	RoleConsumer   Role = "consumer"
)

// Session is the per-connection state attached to a socket from accept
// until close.
type Session struct {
	Role      Role
	ChannelID string
}

func NewSession() *Session {
	return &Session{Role: RoleUnassigned}
}

// Assign binds the session to a channel with the given role.
// Returns false if the session already went through its one transition.
func (s *Session) Assign(role Role, channelID string) bool {
	if s.Role != RoleUnassigned {
		return false
	}
	s.Role = role
	s.ChannelID = channelID
	return true
}
