package domain

import "time"

// MessageKind classifies a cross-agent message.
type MessageKind string

const (
	// KindInsight shares an observation with the peer agent.
	KindInsight MessageKind = "insight"
	// KindWarning flags a budget or operational concern.
	KindWarning MessageKind = "warning"
	// KindCoordinationRequest asks the peer to adjust its behavior.
	KindCoordinationRequest MessageKind = "coordination_request"
)

// Valid reports whether k is a recognized message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindInsight, KindWarning, KindCoordinationRequest:
		return true
	}
	return false
}

// Broadcast is the recipient value for messages addressed to all agents.
const Broadcast = ""

// Message is one immutable entry in the cross-agent communication channel.
// ID doubles as the poll cursor; ids are assigned by the store in append
// order, which preserves per-sender ordering.
type Message struct {
	ID        string
	From      string
	To        string // Broadcast when empty
	Kind      MessageKind
	Title     string
	Body      string
	Metadata  map[string]string
	CreatedAt time.Time
	ReadBy    []string
}

// AddressedTo reports whether the message should be delivered to agent.
func (m Message) AddressedTo(agent string) bool {
	return m.To == Broadcast || m.To == agent
}
