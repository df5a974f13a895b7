package stream

import (
	"log/slog"
	"sync"
)

// Channel is a live client attachment that can receive events. Send must be
// safe for concurrent use and should not block indefinitely.
type Channel interface {
	Send(event *Event) error
	Close(reason string) error
}

// Publisher routes events to the channel bound to each session. A session
// has at most one channel; binding a new one replaces and closes the old.
// Delivery is best effort: events published while no channel is bound are
// dropped, not queued.
type Publisher struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		channels: make(map[string]Channel),
	}
}

// Bind attaches a channel to a session, replacing any existing one.
func (p *Publisher) Bind(sessionID string, ch Channel) {
	p.mu.Lock()
	existing := p.channels[sessionID]
	p.channels[sessionID] = ch
	p.mu.Unlock()

	if existing != nil && existing != ch {
		if err := existing.Close("channel replaced"); err != nil {
			slog.Debug("Failed to close replaced channel", "session_id", sessionID, "error", err)
		}
	}
	slog.Info("Stream channel bound", "session_id", sessionID)
}

// Unbind detaches a channel from a session. The channel must match the one
// currently bound; a stale unbind after a replacement is a no-op.
func (p *Publisher) Unbind(sessionID string, ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current, ok := p.channels[sessionID]; ok && current == ch {
		delete(p.channels, sessionID)
		slog.Info("Stream channel unbound", "session_id", sessionID)
	}
}

// CloseSession closes and removes the channel bound to a session, if any.
// Used when a session is evicted.
func (p *Publisher) CloseSession(sessionID string) {
	p.mu.Lock()
	ch, ok := p.channels[sessionID]
	if ok {
		delete(p.channels, sessionID)
	}
	p.mu.Unlock()

	if ok {
		if err := ch.Close("session closed"); err != nil {
			slog.Debug("Failed to close channel", "session_id", sessionID, "error", err)
		}
	}
}

// Publish delivers an event to the session's channel if one is bound.
// Returns whether the event was handed to a channel.
func (p *Publisher) Publish(event *Event) bool {
	p.mu.RLock()
	ch, ok := p.channels[event.SessionID]
	p.mu.RUnlock()

	if !ok {
		return false
	}
	if err := ch.Send(event); err != nil {
		slog.Debug("Stream send failed", "session_id", event.SessionID, "type", event.Type, "error", err)
		return false
	}
	return true
}
