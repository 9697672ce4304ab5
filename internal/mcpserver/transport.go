package mcpserver

import "sync"

// streamTransport is the per-session message stream a session.Session owns.
// Outbound server-initiated messages (notifications, cache list-changed
// events) are buffered on events and drained by the GET SSE handler; a
// closed transport drops further sends rather than blocking a writer.
type streamTransport struct {
	mu     sync.Mutex
	events chan []byte
	closed bool
}

func newStreamTransport() *streamTransport {
	return &streamTransport{events: make(chan []byte, 64)}
}

// Send enqueues an SSE event payload, dropping it silently if the transport
// is closed or the subscriber is too slow to keep up
func (t *streamTransport) Send(payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- payload:
	default:
	}
}

// Events returns the channel a GET /mcp handler drains
func (t *streamTransport) Events() <-chan []byte { return t.events }

// Close implements session.Transport
func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	return nil
}
