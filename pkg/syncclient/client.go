// Package syncclient embeds the super sync protocol into a host game.
// The host exposes its progress through the GameHooks interface and
// calls the Notify methods as gameplay happens; the client keeps a
// shadow statistics snapshot so each save tick ships only the delta.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pokesync/supersync/pkg/protocol"
	"github.com/pokesync/supersync/pkg/stats"
)

// ErrNotConnected is returned by the Notify methods while no session
// connection is live. Callers may drop the event; the initial sync on
// reconnect re-announces durable progress.
var ErrNotConnected = errors.New("not connected to a sync session")

// GameHooks is the capability surface a host game implements so the
// client can read and advance its progress. Record operations must be
// idempotent when guarded by the matching Has check, which the client
// always performs before recording.
type GameHooks interface {
	HasCapture(id int, shiny bool) bool
	RecordCapture(id int, shiny bool)

	HasBadge(badge int) bool
	RecordBadge(badge int)

	HasKeyItem(item int) bool
	RecordKeyItem(item int)

	IsQuestComplete(questLineID, questID int) bool
	CompleteQuest(questLineID, questID int)

	// Statistics returns the current statistics tree. The client clones
	// what it keeps, so the host may return its live tree.
	Statistics() stats.Mapping

	// ApplyStatistics merges a remote delta into the host's tree.
	ApplyStatistics(delta stats.Mapping)

	// Captures and KeyItems enumerate local progress for re-announcement
	// after an initial sync.
	Captures() []protocol.Capture
	KeyItems() []int

	// Notify surfaces a user-facing message from the session.
	Notify(message, title string)
}

// Config holds the connection parameters for a sync session.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:3000/".
	URL string

	// Code is the sync code of the session to join.
	Code string

	// Username identifies this player to the other session members.
	Username string

	// HeartbeatInterval is the application heartbeat cadence.
	// Defaults to one second.
	HeartbeatInterval time.Duration

	// RetryInterval is the fixed delay between reconnect attempts.
	// Defaults to one second.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	return c
}

// Client maintains a synchronized session connection on behalf of a
// host game.
type Client struct {
	cfg    Config
	hooks  GameHooks
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	shadow stats.Mapping
}

// New creates a client for the given session.
//
// Precondition: hooks and logger must be non-nil.
func New(cfg Config, hooks GameHooks, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		hooks:  hooks,
		logger: logger,
	}
}

// Run connects to the session and keeps the connection alive until ctx
// is cancelled, redialing at the configured fixed interval whenever the
// transport drops.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.RetryInterval), ctx)
	return backoff.Retry(func() error {
		err := c.runSession(ctx)
		if err != nil {
			c.logger.Warn("sync connection lost", zap.Error(err))
		}
		return err
	}, bo)
}

// runSession holds one connection from dial to transport failure. It
// returns nil only when ctx is cancelled.
func (c *Client) runSession(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close()
	}()

	if err := c.send(protocol.EventJoin, protocol.JoinPayload{
		Code:     c.cfg.Code,
		Username: c.cfg.Username,
	}); err != nil {
		return fmt.Errorf("joining session %s: %w", c.cfg.Code, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.heartbeatLoop(ctx, conn, stop)

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading sync socket: %w", err)
		}
		c.dispatch(env)
	}
}

// heartbeatLoop keeps the session's activity clock fresh. It also
// closes the connection on ctx cancellation to unblock the read loop.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := c.send(protocol.EventHeartbeat, protocol.HeartbeatPayload{Code: c.cfg.Code}); err != nil {
				return
			}
		}
	}
}

// NotifyCapture announces a locally caught species.
func (c *Client) NotifyCapture(id int, shiny bool) error {
	return c.send(protocol.EventCatch, protocol.CatchPayload{ID: id, Shiny: shiny})
}

// NotifyBadge announces a locally obtained badge.
func (c *Client) NotifyBadge(badge int) error {
	return c.send(protocol.EventBadge, protocol.BadgePayload{Badge: badge})
}

// NotifyKeyItem announces a locally obtained key item.
func (c *Client) NotifyKeyItem(item int) error {
	return c.send(protocol.EventKeyItem, protocol.KeyItemPayload{KeyItem: item})
}

// NotifyQuestComplete announces a locally completed quest step.
func (c *Client) NotifyQuestComplete(questLineID, questID int) error {
	return c.send(protocol.EventQuestLine, protocol.QuestLinePayload{
		QuestLineID: questLineID,
		QuestID:     questID,
	})
}

// NotifyStatTick computes the statistics delta against the shadow
// snapshot and ships it. A tick with no change sends nothing. The
// shadow only advances once the delta is on the wire, so a failed send
// is retried in full on the next tick.
func (c *Client) NotifyStatTick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.hooks.Statistics()
	delta := stats.Diff(c.shadow, current)
	if len(delta) == 0 {
		return nil
	}
	if err := c.writeLocked(protocol.EventSaveTick, protocol.SaveTickPayload{Statistics: delta}); err != nil {
		return err
	}
	c.shadow = stats.CloneMapping(current)
	return nil
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventHeartbeatResponse:
		// Liveness acknowledgement, nothing to apply.
	case protocol.EventAlert:
		var p protocol.AlertPayload
		if c.decode(env, &p) {
			c.hooks.Notify(p.Message, p.Title)
		}
	case protocol.EventCatch:
		var p protocol.CatchPayload
		if c.decode(env, &p) && !c.hooks.HasCapture(p.ID, p.Shiny) {
			c.hooks.RecordCapture(p.ID, p.Shiny)
		}
	case protocol.EventBadge:
		var p protocol.BadgePayload
		if c.decode(env, &p) && !c.hooks.HasBadge(p.Badge) {
			c.hooks.RecordBadge(p.Badge)
		}
	case protocol.EventKeyItem:
		var p protocol.KeyItemPayload
		if c.decode(env, &p) && !c.hooks.HasKeyItem(p.KeyItem) {
			c.hooks.RecordKeyItem(p.KeyItem)
		}
	case protocol.EventQuestLine:
		var p protocol.QuestLinePayload
		if c.decode(env, &p) && !c.hooks.IsQuestComplete(p.QuestLineID, p.QuestID) {
			c.hooks.CompleteQuest(p.QuestLineID, p.QuestID)
		}
	case protocol.EventSaveTick:
		var p protocol.SaveTickPayload
		if c.decode(env, &p) {
			c.applyRemoteDelta(p.Statistics)
		}
	case protocol.EventInitialSync:
		var snap protocol.SessionSnapshot
		if c.decode(env, &snap) {
			c.applySnapshot(snap)
		}
	default:
		c.logger.Debug("unhandled event from session", zap.String("event", env.Event))
	}
}

// applyRemoteDelta merges a peer's statistics delta into the host and
// into the shadow, so the next local tick does not echo it back.
func (c *Client) applyRemoteDelta(delta stats.Mapping) {
	c.hooks.ApplyStatistics(delta)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shadow == nil {
		c.shadow = stats.Mapping{}
	}
	if err := stats.Merge(c.shadow, delta); err != nil {
		c.logger.Warn("remote delta conflicts with shadow snapshot", zap.Error(err))
	}
}

// applySnapshot reconciles the full session state on join: remote
// progress the host is missing is recorded, then local captures and key
// items are re-announced so the session learns what this player brings.
func (c *Client) applySnapshot(snap protocol.SessionSnapshot) {
	for _, capture := range snap.Pokemon {
		if !c.hooks.HasCapture(capture.ID, capture.Shiny) {
			c.hooks.RecordCapture(capture.ID, capture.Shiny)
		}
	}
	for _, badge := range snap.Badges {
		if !c.hooks.HasBadge(badge) {
			c.hooks.RecordBadge(badge)
		}
	}
	for _, item := range snap.KeyItems {
		if !c.hooks.HasKeyItem(item) {
			c.hooks.RecordKeyItem(item)
		}
	}
	for _, quest := range snap.QuestLines {
		if !c.hooks.IsQuestComplete(quest.QuestLineID, quest.QuestID) {
			c.hooks.CompleteQuest(quest.QuestLineID, quest.QuestID)
		}
	}
	if len(snap.Statistics) > 0 {
		c.hooks.ApplyStatistics(snap.Statistics)
	}

	c.mu.Lock()
	c.shadow = stats.CloneMapping(c.hooks.Statistics())
	c.mu.Unlock()

	for _, capture := range c.hooks.Captures() {
		if err := c.NotifyCapture(capture.ID, capture.Shiny); err != nil {
			c.logger.Warn("re-announcing capture failed", zap.Error(err))
			return
		}
	}
	for _, item := range c.hooks.KeyItems() {
		if err := c.NotifyKeyItem(item); err != nil {
			c.logger.Warn("re-announcing key item failed", zap.Error(err))
			return
		}
	}
}

// decode unmarshals the envelope payload, logging and skipping the
// event when the body does not fit the expected shape.
func (c *Client) decode(env protocol.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.logger.Warn("malformed payload from session",
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(event, payload)
}

func (c *Client) writeLocked(event string, payload any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
