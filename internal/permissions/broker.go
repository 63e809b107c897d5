// Package permissions resolves session/request_permission calls from agents.
package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Mode selects how permission requests are resolved.
type Mode string

const (
	// ModeAutoApprove picks the first allow option without asking anyone.
	ModeAutoApprove Mode = "auto-approve"
	// ModeAutoDeny picks the first reject option without asking anyone.
	ModeAutoDeny Mode = "auto-deny"
	// ModeCallback delegates the decision to a caller-supplied function.
	ModeCallback Mode = "callback"
	// ModeInteractive surfaces the request on the session stream and blocks
	// until Respond or Cancel resolves it.
	ModeInteractive Mode = "interactive"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutoApprove, ModeAutoDeny, ModeCallback, ModeInteractive:
		return Mode(s), nil
	}
	return "", errors.BadRequest(fmt.Sprintf("unknown permission mode '%s'", s))
}

// Callback decides a permission request in ModeCallback.
type Callback func(ctx context.Context, params *protocol.RequestPermissionParams) (protocol.RequestPermissionResult, error)

type pendingRequest struct {
	sessionID string
	params    *protocol.RequestPermissionParams
	resolved  chan protocol.RequestPermissionResult // buffered(1)
}

// Broker resolves permission requests according to its mode. In interactive
// mode it assigns monotonic "perm-N" ids, tracks pending requests and blocks
// the agent's RPC until an external decision arrives.
type Broker struct {
	mode     Mode
	callback Callback
	streams  *stream.Registry

	counter atomic.Int64
	pending map[string]*pendingRequest
	mu      sync.Mutex

	logger *logger.Logger
}

// NewBroker creates a broker. callback may be nil unless mode is ModeCallback.
func NewBroker(mode Mode, callback Callback, streams *stream.Registry, log *logger.Logger) *Broker {
	return &Broker{
		mode:     mode,
		callback: callback,
		streams:  streams,
		pending:  make(map[string]*pendingRequest),
		logger:   log.WithFields(zap.String("component", "permission-broker")),
	}
}

// Mode returns the broker's current mode.
func (b *Broker) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SetMode changes how future requests are resolved. Pending interactive
// requests are unaffected.
func (b *Broker) SetMode(mode Mode, callback Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
	b.callback = callback
}

// HandleRequest resolves an incoming session/request_permission call.
// It never returns a protocol-level error for decisions it can make itself;
// requests with no options at all resolve as cancelled.
func (b *Broker) HandleRequest(ctx context.Context, params *protocol.RequestPermissionParams) (protocol.RequestPermissionResult, error) {
	b.mu.Lock()
	mode := b.mode
	callback := b.callback
	b.mu.Unlock()

	log := b.logger.WithSessionID(params.SessionID).WithFields(
		zap.String("tool_call_id", params.ToolCall.ToolCallID))

	if len(params.Options) == 0 && mode != ModeCallback && mode != ModeInteractive {
		log.Warn("permission request carried no options, cancelling")
		return protocol.CancelledOutcome(), nil
	}

	switch mode {
	case ModeAutoApprove:
		return b.autoSelect(ctx, callback, log, params, protocol.PermissionAllowOnce, protocol.PermissionAllowAlways)
	case ModeAutoDeny:
		return b.autoSelect(ctx, callback, log, params, protocol.PermissionRejectOnce, protocol.PermissionRejectAlways)
	case ModeCallback:
		if callback == nil {
			log.Warn("callback mode with no callback set, cancelling")
			return protocol.CancelledOutcome(), nil
		}
		return callback(ctx, params)
	case ModeInteractive:
		return b.awaitDecision(ctx, log, params)
	default:
		log.Warn("unknown permission mode, cancelling", zap.String("mode", string(mode)))
		return protocol.CancelledOutcome(), nil
	}
}

// autoSelect picks the first option (in the agent's list order) whose kind
// is in the preferred set. When none match, a configured callback decides;
// the agent's first option is the last resort.
func (b *Broker) autoSelect(ctx context.Context, callback Callback, log *logger.Logger, params *protocol.RequestPermissionParams, kinds ...string) (protocol.RequestPermissionResult, error) {
	preferred := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		preferred[kind] = true
	}

	for _, opt := range params.Options {
		if preferred[opt.Kind] {
			log.Debug("auto-resolved permission request",
				zap.String("option_id", opt.OptionID),
				zap.String("kind", opt.Kind))
			return protocol.SelectedOutcome(opt.OptionID), nil
		}
	}

	if callback != nil {
		log.Debug("no option matched preferred kinds, delegating to callback")
		return callback(ctx, params)
	}

	first := params.Options[0]
	log.Warn("no option matched preferred kinds, falling back to first option",
		zap.String("option_id", first.OptionID),
		zap.String("kind", first.Kind))
	return protocol.SelectedOutcome(first.OptionID), nil
}

// awaitDecision registers the request, pushes a permission_request item on
// the session stream and blocks until resolved or the context ends.
func (b *Broker) awaitDecision(ctx context.Context, log *logger.Logger, params *protocol.RequestPermissionParams) (protocol.RequestPermissionResult, error) {
	requestID := fmt.Sprintf("perm-%d", b.counter.Add(1))

	pr := &pendingRequest{
		sessionID: params.SessionID,
		params:    params,
		resolved:  make(chan protocol.RequestPermissionResult, 1),
	}

	b.mu.Lock()
	b.pending[requestID] = pr
	b.mu.Unlock()

	update := protocol.PermissionRequestUpdate{
		SessionUpdate: protocol.UpdatePermissionRequest,
		RequestID:     requestID,
		SessionID:     params.SessionID,
		ToolCall:      params.ToolCall,
		Options:       params.Options,
	}
	raw, err := json.Marshal(update)
	if err != nil {
		b.remove(requestID)
		return protocol.CancelledOutcome(), fmt.Errorf("failed to marshal permission update: %w", err)
	}
	b.streams.Push(protocol.SessionNotification{SessionID: params.SessionID, Update: raw})

	log.Info("awaiting permission decision", zap.String("request_id", requestID))

	select {
	case result := <-pr.resolved:
		return result, nil
	case <-ctx.Done():
		b.remove(requestID)
		log.Warn("permission request abandoned", zap.String("request_id", requestID))
		return protocol.CancelledOutcome(), nil
	}
}

// Respond resolves a pending request by selecting an option.
func (b *Broker) Respond(requestID, optionID string) error {
	pr, ok := b.take(requestID)
	if !ok {
		return errors.UnknownPermissionRequest(requestID)
	}

	pr.resolved <- protocol.SelectedOutcome(optionID)
	b.logger.WithSessionID(pr.sessionID).Info("permission request resolved",
		zap.String("request_id", requestID),
		zap.String("option_id", optionID))
	return nil
}

// Cancel resolves a pending request with a cancelled outcome.
func (b *Broker) Cancel(requestID string) error {
	pr, ok := b.take(requestID)
	if !ok {
		return errors.UnknownPermissionRequest(requestID)
	}

	pr.resolved <- protocol.CancelledOutcome()
	b.logger.WithSessionID(pr.sessionID).Info("permission request cancelled",
		zap.String("request_id", requestID))
	return nil
}

// CancelSession cancels every pending request belonging to a session. Used
// when the session's stream ends or the agent shuts down.
func (b *Broker) CancelSession(sessionID string) {
	b.mu.Lock()
	var cancelled []*pendingRequest
	for id, pr := range b.pending {
		if pr.sessionID == sessionID {
			cancelled = append(cancelled, pr)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	for _, pr := range cancelled {
		pr.resolved <- protocol.CancelledOutcome()
	}
}

// PendingRequest is a snapshot of an unresolved interactive request.
type PendingRequest struct {
	RequestID string                      `json:"requestId"`
	SessionID string                      `json:"sessionId"`
	ToolCall  protocol.ToolCallUpdate     `json:"toolCall"`
	Options   []protocol.PermissionOption `json:"options"`
}

// Pending returns a snapshot of all unresolved requests.
func (b *Broker) Pending() []PendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingRequest, 0, len(b.pending))
	for id, pr := range b.pending {
		out = append(out, PendingRequest{
			RequestID: id,
			SessionID: pr.sessionID,
			ToolCall:  pr.params.ToolCall,
			Options:   pr.params.Options,
		})
	}
	return out
}

// HasPending reports whether a session has unresolved requests.
func (b *Broker) HasPending(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pr := range b.pending {
		if pr.sessionID == sessionID {
			return true
		}
	}
	return false
}

// PendingIDs returns the unresolved request ids belonging to a session.
func (b *Broker) PendingIDs(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []string
	for id, pr := range b.pending {
		if pr.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (b *Broker) take(requestID string) (*pendingRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pr, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	return pr, ok
}

func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}
