// Package session bridges browser websockets to live voice sessions and
// keeps the registry of active ones.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/live"
	"github.com/room4-2/kolokwa/style"
)

// ErrMaxSessions is returned when the concurrent session cap is reached.
var ErrMaxSessions = errors.New("maximum sessions reached")

const activeSessionsKey = "active_sessions"

func sessionKey(id string) string { return "session:" + id }

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	pending  int
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dialer   live.Dialer
}

// NewManager creates a session manager. The redis registry is used when
// cfg.RedisURL is set and reachable; otherwise sessions are tracked in
// memory only.
func NewManager(cfg *config.Config, dialer live.Dialer) *Manager {
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("⚠️ Redis unavailable, continuing without session registry")
			_ = redisClient.Close()
			redisClient = nil
		} else {
			log.Info().Str("addr", cfg.RedisURL).Msg("✅ Connected to Redis")
		}
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		dialer:   dialer,
	}
}

// CreateSession opens a live session in style s for clientConn.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn, s style.Style) (*ClientSession, error) {
	sm.mu.Lock()
	if len(sm.sessions)+sm.pending >= sm.config.MaxSessions {
		sm.mu.Unlock()
		return nil, ErrMaxSessions
	}
	sm.pending++
	sm.mu.Unlock()

	sessionID := uuid.New().String()
	session, err := NewClientSession(ctx, sessionID, clientConn, sm.dialer, s, sm.config.KeepAlivePeriod)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.pending--
	if err != nil {
		return nil, err
	}

	sm.storeSession(ctx, session)
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, session *ClientSession) {
	sm.sessions[session.ID] = session

	if sm.redis == nil {
		return
	}
	info, err := session.MarshalInfo()
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to encode session info")
	}
	key := sessionKey(session.ID)
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":    session.CreatedAt.Format(time.RFC3339),
		"last_activity": session.LastActivity().Format(time.RFC3339),
		"status":        "active",
		"style":         string(session.Style),
		"info":          info,
	})
	pipe.SAdd(ctx, activeSessionsKey, session.ID)
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", shortID(session.ID)).Msg("⚠️ Failed to register session in Redis")
	}
}

func (sm *Manager) forget(ctx context.Context, id string) {
	delete(sm.sessions, id)
	if sm.redis == nil {
		return
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", shortID(id)).Msg("⚠️ Failed to remove session from Redis")
	}
}

// Touch refreshes the registry entry of a live session.
func (sm *Manager) Touch(ctx context.Context, id string) {
	session, ok := sm.GetSession(id)
	if !ok || sm.redis == nil {
		return
	}
	key := sessionKey(id)
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, "last_activity", session.LastActivity().Format(time.RFC3339))
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	_, _ = pipe.Exec(ctx)
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession closes and forgets a session. Unknown IDs are ignored.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if exists {
		sm.forget(ctx, sessionID)
	}
	sm.mu.Unlock()

	if exists {
		_ = session.Close()
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions idle for longer than the session
// timeout and returns how many were removed.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	now := time.Now()
	var stale []*ClientSession

	sm.mu.Lock()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, session)
			sm.forget(ctx, id)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		log.Info().Str("session", shortID(session.ID)).Msg("🧹 Closing inactive session")
		_ = session.Close()
	}
	return len(stale)
}

// StartCleanupRoutine runs cleanup every interval until ctx is done.
func (sm *Manager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
			sm.mu.RLock()
			ids := make([]string, 0, len(sm.sessions))
			for id := range sm.sessions {
				ids = append(ids, id)
			}
			sm.mu.RUnlock()
			for _, id := range ids {
				sm.Touch(ctx, id)
			}
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	ctx := context.Background()

	sm.mu.Lock()
	sessions := make([]*ClientSession, 0, len(sm.sessions))
	for id, session := range sm.sessions {
		sessions = append(sessions, session)
		sm.forget(ctx, id)
	}
	sm.mu.Unlock()

	for _, session := range sessions {
		_ = session.Close()
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
}
