package gateway

import (
	"strings"

	"agentdeck/internal/protocol"
)

const outboundQueueSize = 256

// conn is one browser connection. A single writer goroutine drains
// outbound, so the client sees messages in enqueue order.
type conn struct {
	id       string
	session  string
	outbound chan protocol.Message
}

func newConn(id, session string) *conn {
	return &conn{
		id:       strings.TrimSpace(id),
		session:  session,
		outbound: make(chan protocol.Message, outboundQueueSize),
	}
}

// Enqueue never blocks. When the queue is full terminal output is dropped
// and other messages evict the oldest queued one.
func (c *conn) Enqueue(msg protocol.Message) bool {
	select {
	case c.outbound <- msg:
		return true
	default:
		if msg.Op == protocol.OpTerminalData {
			return false
		}
		select {
		case <-c.outbound:
		default:
		}
		select {
		case c.outbound <- msg:
			return true
		default:
			return false
		}
	}
}

func (c *conn) Pending() int {
	return len(c.outbound)
}
