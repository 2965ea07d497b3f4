package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pokesync/supersync/pkg/protocol"
	"github.com/pokesync/supersync/pkg/stats"
)

// member is one roster entry. Roster order is join order.
type member struct {
	conn     Conn
	username string
}

// Session owns the authoritative shared state of one room. All
// mutations are serialized behind the session's own mutex; different
// rooms never contend with each other.
//
// Every mutation refreshes the last-activity timestamp and, except for
// roster changes, relays the event to the other members carrying the
// acting username.
type Session struct {
	id        string
	createdAt time.Time

	relay  *Relay
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	roster       []member
	caught       []protocol.Capture
	badges       []int
	keyItems     []int
	quests       []protocol.QuestProgress
	statistics   stats.Mapping
}

func newSession(id string, relay *Relay, logger *zap.Logger, now func() time.Time) *Session {
	created := now()
	return &Session{
		id:           id,
		createdAt:    created,
		lastActivity: created,
		relay:        relay,
		logger:       logger.With(zap.String("session", id)),
		now:          now,
		statistics:   stats.Mapping{},
	}
}

// ID returns the session's six-character code.
func (s *Session) ID() string { return s.id }

// LastActivity reports when the session last saw an inbound event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// AddClient appends the connection to the roster and delivers the full
// state snapshot to the joining connection only. The join notice to the
// rest of the room is the protocol layer's responsibility.
func (s *Session) AddClient(conn Conn, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.roster = append(s.roster, member{conn: conn, username: username})

	if err := conn.Send(protocol.EventInitialSync, s.snapshotLocked()); err != nil {
		s.logger.Warn("initial sync delivery failed",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
	}
}

// RemoveClient deletes the connection's roster entry. Removing an
// unknown connection is a no-op.
func (s *Session) RemoveClient(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.roster {
		if m.conn.ID() == conn.ID() {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			return
		}
	}
}

// Members returns usernames in join order, excluding the given
// connection's own entry. Pass nil to list everyone.
func (s *Session) Members(exclude Conn) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.roster))
	for _, m := range s.roster {
		if exclude != nil && m.conn.ID() == exclude.ID() {
			continue
		}
		names = append(names, m.username)
	}
	return names
}

// Username returns the name the connection joined with.
func (s *Session) Username(conn Conn) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.roster {
		if m.conn.ID() == conn.ID() {
			return m.username, true
		}
	}
	return "", false
}

// AddCatch records a capture and relays it to the other members. A
// capture the session already knows is not stored twice but is still
// relayed; de-duplication is the sending client's job and gating here
// would change client-observed causality.
func (s *Session) AddCatch(conn Conn, id int, shiny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()

	capture := protocol.Capture{ID: id, Shiny: shiny}
	if !containsCapture(s.caught, capture) {
		s.caught = append(s.caught, capture)
	}
	s.relay.Broadcast(s.connsLocked(), protocol.EventCatch, protocol.CatchPayload{
		ID:       id,
		Shiny:    shiny,
		Username: s.usernameLocked(conn),
	}, conn)
}

// AddBadge records an obtained badge and relays it.
func (s *Session) AddBadge(conn Conn, badge int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()

	if !containsInt(s.badges, badge) {
		s.badges = append(s.badges, badge)
	}
	s.relay.Broadcast(s.connsLocked(), protocol.EventBadge, protocol.BadgePayload{
		Badge:    badge,
		Username: s.usernameLocked(conn),
	}, conn)
}

// AddKeyItem records an obtained key item and relays it.
func (s *Session) AddKeyItem(conn Conn, keyItem int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()

	if !containsInt(s.keyItems, keyItem) {
		s.keyItems = append(s.keyItems, keyItem)
	}
	s.relay.Broadcast(s.connsLocked(), protocol.EventKeyItem, protocol.KeyItemPayload{
		KeyItem:  keyItem,
		Username: s.usernameLocked(conn),
	}, conn)
}

// AddQuestLine marks one quest step complete and relays it.
func (s *Session) AddQuestLine(conn Conn, questLineID, questID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()

	progress := protocol.QuestProgress{QuestLineID: questLineID, QuestID: questID}
	if !containsQuest(s.quests, progress) {
		s.quests = append(s.quests, progress)
	}
	s.relay.Broadcast(s.connsLocked(), protocol.EventQuestLine, protocol.QuestLinePayload{
		QuestLineID: questLineID,
		QuestID:     questID,
		Username:    s.usernameLocked(conn),
	}, conn)
}

// AddSaveData merges a statistics delta into the session tree, then
// relays the same delta onward unchanged. The server is a relay, not a
// recomputation point: it trusts the sender's diff. A delta that
// conflicts with the stored shape is logged and still relayed.
func (s *Session) AddSaveData(conn Conn, delta stats.Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()

	if err := stats.Merge(s.statistics, delta); err != nil {
		s.logger.Warn("statistics delta conflicts with stored shape", zap.Error(err))
	}
	s.relay.Broadcast(s.connsLocked(), protocol.EventSaveTick, protocol.SaveTickPayload{
		Statistics: delta,
		Username:   s.usernameLocked(conn),
	}, conn)
}

// BroadcastAlert sends a notice to every member of the session.
func (s *Session) BroadcastAlert(message, title string) {
	s.mu.Lock()
	conns := s.connsLocked()
	s.mu.Unlock()
	s.relay.BroadcastAlert(conns, message, title)
}

// Snapshot returns a copy of the authoritative state minus connection
// handles, suitable for initialSync and the HTTP descriptor endpoints.
func (s *Session) Snapshot() protocol.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() protocol.SessionSnapshot {
	return protocol.SessionSnapshot{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastUpdate: s.lastActivity,
		Pokemon:    append([]protocol.Capture{}, s.caught...),
		Badges:     append([]int{}, s.badges...),
		KeyItems:   append([]int{}, s.keyItems...),
		QuestLines: append([]protocol.QuestProgress{}, s.quests...),
		Statistics: stats.CloneMapping(s.statistics),
	}
}

// terminateAll force-closes every member connection. Used by the
// registry sweep before the session is dropped.
func (s *Session) terminateAll() {
	s.mu.Lock()
	conns := s.connsLocked()
	s.mu.Unlock()
	for _, conn := range conns {
		conn.Terminate()
	}
}

func (s *Session) connsLocked() []Conn {
	conns := make([]Conn, len(s.roster))
	for i, m := range s.roster {
		conns[i] = m.conn
	}
	return conns
}

func (s *Session) usernameLocked(conn Conn) string {
	for _, m := range s.roster {
		if m.conn.ID() == conn.ID() {
			return m.username
		}
	}
	return ""
}

func containsCapture(list []protocol.Capture, c protocol.Capture) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func containsQuest(list []protocol.QuestProgress, q protocol.QuestProgress) bool {
	for _, v := range list {
		if v == q {
			return true
		}
	}
	return false
}
