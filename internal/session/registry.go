package session

import (
	"crypto/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Registry owns the live session table. Sessions enter through Create
// and leave only through the idle sweep; there is no explicit close.
type Registry struct {
	idleTimeout time.Duration
	relay       *Relay
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Sessions idle for at least
// idleTimeout are removed by Sweep.
func NewRegistry(idleTimeout time.Duration, relay *Relay, logger *zap.Logger) *Registry {
	return &Registry{
		idleTimeout: idleTimeout,
		relay:       relay,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Create allocates a session under a fresh collision-checked code and
// inserts it into the live table.
func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCodeLocked()
	s := newSession(code, r.relay, r.logger, r.now)
	r.sessions[code] = s

	r.logger.Info("session created", zap.String("session", code))
	return s
}

// Get looks a session up by code. Absence is a not-found result, not a
// fault.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session whose idle duration has reached the
// registry's timeout, terminating all member connections first.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	var expired []*Session
	for code, s := range r.sessions {
		if now.Sub(s.LastActivity()) >= r.idleTimeout {
			expired = append(expired, s)
			delete(r.sessions, code)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Info("closing session due to inactivity",
			zap.String("session", s.ID()),
			zap.Time("last_activity", s.LastActivity()),
		)
		s.terminateAll()
	}

	if len(expired) > 0 {
		r.logger.Info("idle sweep complete",
			zap.Int("expired", len(expired)),
			zap.Int("remaining", remaining),
		)
	}
}

// newCodeLocked draws random codes until one misses the live table.
// The alphabet skips easily confused characters.
func (r *Registry) newCodeLocked() string {
	buf := make([]byte, codeLength)
	for {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms.
			panic(err)
		}
		code := make([]byte, codeLength)
		for i, b := range buf {
			code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		if _, taken := r.sessions[string(code)]; !taken {
			return string(code)
		}
	}
}
