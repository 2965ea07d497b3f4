// Package protocol defines the JSON wire format exchanged between sync
// clients and the server: a `{event, payload}` envelope and the payload
// shapes for every supported event.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pokesync/supersync/pkg/stats"
)

// Event names carried in the envelope. Client-originated events are
// validated against session membership before they mutate anything.
const (
	EventJoin              = "join"
	EventHeartbeat         = "heartbeat"
	EventHeartbeatResponse = "heartbeat-response"
	EventCatch             = "catch"
	EventBadge             = "badge"
	EventKeyItem           = "keyItem"
	EventQuestLine         = "questLine"
	EventSaveTick          = "saveTick"
	EventAlert             = "alert"
	EventInitialSync       = "initialSync"
)

// AlertTypeDanger marks an alert as an error notice on the client UI.
const AlertTypeDanger = "danger"

// Envelope is the wire frame for every message in both directions. The
// payload is kept raw so dispatch can decode it against the shape the
// event requires.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps an event and payload into a marshalled envelope.
func Encode(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: body})
}

// JoinPayload attaches a connection to the session identified by Code.
type JoinPayload struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

// HeartbeatPayload refreshes session liveness.
type HeartbeatPayload struct {
	Code string `json:"code,omitempty"`
}

// CatchPayload records a species capture. Username is filled in by the
// server when the event is relayed to the other session members.
type CatchPayload struct {
	ID       int    `json:"id"`
	Shiny    bool   `json:"shiny"`
	Username string `json:"username,omitempty"`
}

// BadgePayload records an obtained badge.
type BadgePayload struct {
	Badge    int    `json:"badge"`
	Username string `json:"username,omitempty"`
}

// KeyItemPayload records an obtained key item.
type KeyItemPayload struct {
	KeyItem  int    `json:"keyItem"`
	Username string `json:"username,omitempty"`
}

// QuestLinePayload marks one quest step of a quest line complete.
type QuestLinePayload struct {
	QuestLineID int    `json:"questLineID"`
	QuestID     int    `json:"questID"`
	Username    string `json:"username,omitempty"`
}

// SaveTickPayload carries a statistics delta computed by the sender
// against its previous snapshot. The server merges and relays it
// unchanged.
type SaveTickPayload struct {
	Statistics stats.Mapping `json:"statistics"`
	Username   string        `json:"username,omitempty"`
}

// AlertPayload is a user-facing notice with no state effect.
type AlertPayload struct {
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
	Type    string `json:"type,omitempty"`
	Sound   string `json:"sound,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// Capture identifies a caught species together with its shiny flag.
type Capture struct {
	ID    int  `json:"id"`
	Shiny bool `json:"shiny"`
}

// QuestProgress identifies one completed quest step.
type QuestProgress struct {
	QuestLineID int `json:"questLineID"`
	QuestID     int `json:"questID"`
}

// SessionSnapshot is the full authoritative state of a session minus
// connection handles. It is pushed to a joining connection as the
// initialSync payload and returned by the session HTTP endpoints.
type SessionSnapshot struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	LastUpdate time.Time       `json:"lastUpdate"`
	Pokemon    []Capture       `json:"pokemon"`
	Badges     []int           `json:"badges"`
	KeyItems   []int           `json:"keyItems"`
	QuestLines []QuestProgress `json:"questLines"`
	Statistics stats.Mapping   `json:"statistics"`
}
