package session

import (
	"go.uber.org/zap"

	"github.com/pokesync/supersync/pkg/protocol"
)

// Relay fans a session-scoped event out to member connections. Sends
// are best-effort: a failure to reach one peer is logged and delivery
// continues to the rest of the roster.
type Relay struct {
	logger *zap.Logger
}

// NewRelay creates a relay that logs skipped peers through logger.
func NewRelay(logger *zap.Logger) *Relay {
	return &Relay{logger: logger}
}

// Broadcast sends {event, payload} to every member except exclude.
// Pass a nil exclude to reach the whole roster.
func (r *Relay) Broadcast(members []Conn, event string, payload any, exclude Conn) {
	for _, member := range members {
		if exclude != nil && member.ID() == exclude.ID() {
			continue
		}
		if err := member.Send(event, payload); err != nil {
			r.logger.Warn("skipping unreachable peer during broadcast",
				zap.String("event", event),
				zap.String("conn_id", member.ID()),
				zap.Error(err),
			)
		}
	}
}

// BroadcastAlert sends a user-facing notice to every member.
func (r *Relay) BroadcastAlert(members []Conn, message, title string) {
	r.Broadcast(members, protocol.EventAlert, protocol.AlertPayload{
		Message: message,
		Title:   title,
	}, nil)
}
