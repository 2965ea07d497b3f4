package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pokesync/supersync/pkg/protocol"
	"github.com/pokesync/supersync/internal/session"
)

const errSessionNotFound = "Game session does not exist."

// connHandler is the per-connection protocol state machine. A
// connection starts unjoined (sess == nil), becomes joined on a valid
// join event, and is closed when the transport drops. Only joined
// connections may issue state-mutating events.
type connHandler struct {
	server *Server
	client *client
	logger *zap.Logger

	// sess is the session this connection joined, nil while unjoined.
	// Only the read loop touches it, so no lock is needed.
	sess *session.Session
}

// readLoop pumps inbound envelopes until the transport closes, then
// unwinds the roster entry and announces the departure.
func (h *connHandler) readLoop() {
	defer h.closed()

	conn := h.client.conn
	conn.SetReadLimit(h.server.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.client.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.client.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		// Application heartbeats also count as transport liveness.
		_ = conn.SetReadDeadline(time.Now().Add(h.client.pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed body: log it, keep the connection open, no reply.
			h.logger.Warn("malformed message body", zap.Error(err))
			continue
		}
		h.dispatch(env)
	}
}

func (h *connHandler) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventHeartbeat:
		h.handleHeartbeat()
	case protocol.EventJoin:
		h.handleJoin(env.Payload)
	case protocol.EventCatch:
		var p protocol.CatchPayload
		h.withSession(env, &p, func(s *session.Session) {
			s.AddCatch(h.client, p.ID, p.Shiny)
		})
	case protocol.EventBadge:
		var p protocol.BadgePayload
		h.withSession(env, &p, func(s *session.Session) {
			s.AddBadge(h.client, p.Badge)
		})
	case protocol.EventKeyItem:
		var p protocol.KeyItemPayload
		h.withSession(env, &p, func(s *session.Session) {
			s.AddKeyItem(h.client, p.KeyItem)
		})
	case protocol.EventQuestLine:
		var p protocol.QuestLinePayload
		h.withSession(env, &p, func(s *session.Session) {
			h.logger.Debug("completing quest",
				zap.Int("quest_line_id", p.QuestLineID),
				zap.Int("quest_id", p.QuestID),
			)
			s.AddQuestLine(h.client, p.QuestLineID, p.QuestID)
		})
	case protocol.EventSaveTick:
		var p protocol.SaveTickPayload
		h.withSession(env, &p, func(s *session.Session) {
			s.AddSaveData(h.client, p.Statistics)
		})
	default:
		h.logger.Warn("unexpected event type on socket", zap.String("event", env.Event))
	}
}

// handleHeartbeat answers liveness probes in every connection state and
// refreshes the session's activity clock once joined.
func (h *connHandler) handleHeartbeat() {
	if h.sess != nil {
		h.sess.Touch()
	}
	if err := h.client.Send(protocol.EventHeartbeatResponse, struct{}{}); err != nil {
		h.logger.Debug("heartbeat response not delivered", zap.Error(err))
	}
}

// handleJoin transitions the connection to the joined state: the rest
// of the room hears the join notice first, then the roster grows and
// the joiner receives its membership alert and the full state snapshot.
func (h *connHandler) handleJoin(raw json.RawMessage) {
	if h.sess != nil {
		h.sendError("Already in a game session.")
		return
	}

	var p protocol.JoinPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			h.logger.Warn("malformed join payload", zap.Error(err))
			return
		}
	}

	room, ok := h.server.registry.Get(p.Code)
	if !ok {
		h.sendError(errSessionNotFound)
		return
	}

	room.BroadcastAlert(
		fmt.Sprintf("%s has joined the super sync session.", p.Username),
		"Player joined",
	)

	others := room.Members(nil)
	othersMessage := "You are the only player in this room."
	if len(others) > 0 {
		othersMessage = fmt.Sprintf("There are %d other player(s) in this room: %s.",
			len(others), strings.Join(others, ", "))
	}
	if err := h.client.Send(protocol.EventAlert, protocol.AlertPayload{
		Message: fmt.Sprintf("Joined the super sync session (Sync code: %s).\n\n%s", p.Code, othersMessage),
		Title:   "Session joined",
	}); err != nil {
		h.logger.Warn("join alert not delivered", zap.Error(err))
	}

	room.AddClient(h.client, p.Username)
	h.sess = room

	h.logger.Info("client joined session",
		zap.String("session", room.ID()),
		zap.String("username", p.Username),
	)
}

// withSession decodes the payload and runs fn when the connection is
// joined; otherwise the sender gets an error alert and nothing mutates.
func (h *connHandler) withSession(env protocol.Envelope, payload any, fn func(*session.Session)) {
	if h.sess == nil {
		h.sendError(errSessionNotFound)
		return
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			h.logger.Warn("malformed payload",
				zap.String("event", env.Event),
				zap.Error(err),
			)
			return
		}
	}
	fn(h.sess)
}

// closed runs when the transport drops: the departure is announced to
// the remaining members and the roster entry removed.
func (h *connHandler) closed() {
	if h.sess != nil {
		username, _ := h.sess.Username(h.client)
		h.sess.RemoveClient(h.client)
		h.sess.BroadcastAlert(
			fmt.Sprintf("%s has left the super sync session.", username),
			"Player left",
		)
		h.sess = nil
	}
	h.client.Terminate()
}

func (h *connHandler) sendError(message string) {
	if err := h.client.Send(protocol.EventAlert, protocol.AlertPayload{
		Message: message,
		Type:    protocol.AlertTypeDanger,
	}); err != nil {
		h.logger.Debug("error alert not delivered", zap.Error(err))
	}
}
