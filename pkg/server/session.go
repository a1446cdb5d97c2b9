package server

import (
	"crypto/rsa"
	"sync"
	"time"

	"github.com/emberhollow/storywalk/pkg/presence"
	"github.com/emberhollow/storywalk/pkg/protocol"
)

// TransportType identifies the kind of transport a Session uses.
type TransportType int

const (
	TransportTCP       TransportType = iota // framed TCP stream
	TransportWebSocket                      // WebSocket (one message per frame)
)

func (t TransportType) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "tcp"
}

// SessionState tracks where a connection is in its lifecycle.
type SessionState int

const (
	StateHandshake     SessionState = iota // awaiting public-key exchange
	StateUnauth                            // handshake done, not logged in
	StateAuthenticated                     // login succeeded
)

// Session is the server-side state for one connected client. Exactly one
// Session exists per live connection; it dies with the connection.
type Session struct {
	ID        int
	Framer    protocol.Framer
	Addr      string
	Transport TransportType
	State     SessionState
	Username  string // set after successful login
	PeerKey   *rsa.PublicKey
	ConnTime  time.Time
	LastCmd   time.Time
	Actions   int // actions dispatched this session

	mu     sync.Mutex
	closed bool
}

// NewSession wraps a framed transport into a Session.
func NewSession(id int, f protocol.Framer, addr string, transport TransportType) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Framer:    f,
		Addr:      addr,
		Transport: transport,
		State:     StateHandshake,
		ConnTime:  now,
		LastCmd:   now,
	}
}

// Close shuts down the transport. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.Framer.Close()
	}
}

// IsClosed reports whether the session has been torn down.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionManager tracks all live sessions and owns login/logout bookkeeping,
// including presence eviction on logout.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int]*Session
	byUser   map[string][]*Session // username -> sessions (multi-login allowed)
	nextID   int
	roster   *presence.Registry
}

// NewSessionManager creates a session manager bound to the presence roster
// it keeps consistent with session lifecycle.
func NewSessionManager(roster *presence.Registry) *SessionManager {
	return &SessionManager{
		sessions: make(map[int]*Session),
		byUser:   make(map[string][]*Session),
		nextID:   1,
		roster:   roster,
	}
}

// NextID returns the next session ID.
func (sm *SessionManager) NextID() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	id := sm.nextID
	sm.nextID++
	return id
}

// Add registers a new session.
func (sm *SessionManager) Add(s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[s.ID] = s
}

// Authenticate marks a session as logged in under a username. A session
// that logs in again is rebound: its previous byUser entry is dropped first
// so logout bookkeeping stays keyed by session ID, and a username abandoned
// by its last session loses its presence entry.
func (sm *SessionManager) Authenticate(s *Session, username string) {
	sm.mu.Lock()
	prev := s.Username
	if prev != "" {
		sm.unbindLocked(s, prev)
	}
	s.State = StateAuthenticated
	s.Username = username
	sm.byUser[username] = append(sm.byUser[username], s)
	abandoned := prev != "" && prev != username && len(sm.byUser[prev]) == 0
	sm.mu.Unlock()

	if abandoned {
		sm.roster.Remove(prev)
	}
}

// unbindLocked removes s from byUser[username]. Caller holds sm.mu.
func (sm *SessionManager) unbindLocked(s *Session, username string) {
	descs := sm.byUser[username]
	for i, ss := range descs {
		if ss.ID == s.ID {
			sm.byUser[username] = append(descs[:i], descs[i+1:]...)
			break
		}
	}
	if len(sm.byUser[username]) == 0 {
		delete(sm.byUser, username)
	}
}

// Logout tears a session down: the session's presence entry is removed once
// no other session remains for the same username, the session is dropped
// from the manager, and the transport is closed. Idempotent; calling it on
// an already-closed session is a no-op.
func (sm *SessionManager) Logout(s *Session) {
	sm.mu.Lock()
	username := s.Username
	if _, ok := sm.sessions[s.ID]; ok {
		delete(sm.sessions, s.ID)
		if username != "" {
			sm.unbindLocked(s, username)
		}
	}
	lastForUser := username != "" && len(sm.byUser[username]) == 0
	sm.mu.Unlock()

	// Presence and transport teardown happen outside the manager lock.
	if lastForUser {
		sm.roster.Remove(username)
	}
	s.Close()
}

// IsConnected reports whether a username has at least one live session.
func (sm *SessionManager) IsConnected(username string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser[username]) > 0
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountByTransport returns live session counts keyed by transport name.
func (sm *SessionManager) CountByTransport() map[string]int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := map[string]int{"tcp": 0, "websocket": 0}
	for _, s := range sm.sessions {
		out[s.Transport.String()]++
	}
	return out
}
