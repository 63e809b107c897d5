package stream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Registry maps session ids to their update streams. Streams are created on
// first access so updates arriving before a consumer attaches are buffered
// rather than dropped.
type Registry struct {
	streams map[string]*Pushable[protocol.SessionNotification]
	mu      sync.Mutex
	logger  *logger.Logger
}

// NewRegistry creates an empty stream registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		streams: make(map[string]*Pushable[protocol.SessionNotification]),
		logger:  log.WithFields(zap.String("component", "stream-registry")),
	}
}

// Get returns the stream for a session, creating it if absent.
func (r *Registry) Get(sessionID string) *Pushable[protocol.SessionNotification] {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[sessionID]
	if !ok {
		s = NewPushable[protocol.SessionNotification]()
		r.streams[sessionID] = s
		r.logger.Debug("created session stream", zap.String("session_id", sessionID))
	}
	return s
}

// Push routes an update to its session's stream, creating the stream when
// the session has not been seen before.
func (r *Registry) Push(notification protocol.SessionNotification) {
	r.Get(notification.SessionID).Push(notification)
}

// End finishes and removes a session's stream. Ending a session with no
// stream is a no-op. A later Get for the same id starts a fresh stream.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	s, ok := r.streams[sessionID]
	if ok {
		delete(r.streams, sessionID)
	}
	r.mu.Unlock()

	if ok {
		s.End()
		r.logger.Debug("ended session stream", zap.String("session_id", sessionID))
	}
}

// EndAll finishes every stream, used when the agent connection closes.
func (r *Registry) EndAll() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*Pushable[protocol.SessionNotification])
	r.mu.Unlock()

	for id, s := range streams {
		s.End()
		r.logger.Debug("ended session stream", zap.String("session_id", id))
	}
}
