package chat

// Connection is one live transport session. The transport layer owns the
// session lifecycle; the directory and the router only hold the value as an
// opaque delivery target. Implementations must be comparable (pointer
// receivers) so they can act as set members, and must not block: a slow
// consumer is the transport's problem, not the router's.
type Connection interface {
	// Deliver hands one message to the session for transmission.
	Deliver(m *Message)
	// DeliverError sends a caller-only error acknowledgement.
	DeliverError(text string)
}
