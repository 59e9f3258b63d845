package rooms

import "sync/atomic"

// Transport is the send/close capability a participant is reachable through.
// Implemented by the websocket adapter for connected clients and by
// NullTransport for the in-process agent participant.
type Transport interface {
	Send(data []byte) error
	Close(reason string)
}

// NullTransport is the agent's in-process transport. Sends are discarded;
// the agent observes the room through the orchestrator, not its transport.
type NullTransport struct {
	closed atomic.Bool
}

// NewNullTransport creates a transport that accepts and discards frames.
func NewNullTransport() *NullTransport {
	return &NullTransport{}
}

// Send discards the frame. Returns nil so the agent is never treated as
// disconnected by broadcast cleanup.
func (t *NullTransport) Send(data []byte) error {
	return nil
}

// Close marks the transport closed.
func (t *NullTransport) Close(reason string) {
	t.closed.Store(true)
}

// Closed reports whether Close has been called.
func (t *NullTransport) Closed() bool {
	return t.closed.Load()
}
