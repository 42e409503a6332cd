package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"

	"agentdeck/internal/protocol"
	"agentdeck/internal/supervisor"
)

// Hub fans one session's events out to its connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
	seq   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{conns: map[string]*conn{}}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Emit implements supervisor.Sink.
func (h *Hub) Emit(ev supervisor.Event) {
	msg, ok := h.eventMessage(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.Enqueue(msg)
	}
}

func (h *Hub) eventMessage(ev supervisor.Event) (protocol.Message, bool) {
	var op string
	var payload any
	switch ev.Kind {
	case supervisor.EventStatus:
		op, payload = protocol.OpStatus, protocol.StatusPayload{Status: ev.Status}
	case supervisor.EventLog:
		op, payload = protocol.OpLog, protocol.LogPayload{Msg: ev.Message, Type: ev.Level}
	case supervisor.EventTerminalData:
		op, payload = protocol.OpTerminalData, protocol.TerminalDataPayload{Data: string(ev.Data)}
	default:
		return protocol.Message{}, false
	}
	return h.event(op, payload), true
}

func (h *Hub) event(op string, payload any) protocol.Message {
	return protocol.Message{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    protocol.TypeEvent,
		Op:      op,
		Payload: protocol.MustRaw(payload),
	}
}
