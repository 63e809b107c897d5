package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

const (
	// finalUpdateGrace gives the read loop a moment to deliver updates that
	// were in flight when the prompt RPC returned.
	finalUpdateGrace = 50 * time.Millisecond
	// drainItemTimeout bounds the wait for each further trailing update.
	drainItemTimeout = 100 * time.Millisecond
	// interruptSettle separates a cancel from the follow-up prompt.
	interruptSettle = 50 * time.Millisecond
	// cancelSettleDelay lets the agent wind down after a forced cancel
	// during flush.
	cancelSettleDelay = 500 * time.Millisecond
	// idlePollInterval is how often the processing flag is re-checked.
	idlePollInterval = 100 * time.Millisecond
)

// Session is one ACP session on an agent connection. All methods are safe
// for concurrent use; at most one prompt turn runs at a time.
type Session struct {
	id      string
	cwd     string
	mcp     []protocol.McpServer
	conn    Connection
	streams *stream.Registry
	broker  *permissions.Broker
	logger  *logger.Logger

	processing atomic.Bool

	mu     sync.Mutex
	modeID string
	modes  *protocol.SessionModeState
}

// New creates a session wrapper around an existing agent-side session.
// broker may be nil when no interactive permissions are in play.
func New(id, cwd string, mcpServers []protocol.McpServer, conn Connection, streams *stream.Registry, broker *permissions.Broker, modes *protocol.SessionModeState, log *logger.Logger) *Session {
	s := &Session{
		id:      id,
		cwd:     cwd,
		mcp:     mcpServers,
		conn:    conn,
		streams: streams,
		broker:  broker,
		logger:  log.WithSessionID(id),
	}
	if modes != nil {
		s.modes = modes
		s.modeID = modes.CurrentModeID
	}
	return s
}

// ID returns the agent-assigned session id.
func (s *Session) ID() string { return s.id }

// Cwd returns the session's working directory.
func (s *Session) Cwd() string { return s.cwd }

// IsProcessing reports whether a prompt turn is in flight.
func (s *Session) IsProcessing() bool { return s.processing.Load() }

// CurrentModeID returns the last known agent mode.
func (s *Session) CurrentModeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeID
}

// Modes returns the agent's advertised mode state, if any.
func (s *Session) Modes() *protocol.SessionModeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes
}

type promptOutcome struct {
	result *protocol.PromptResult
	err    error
}

// Prompt starts a prompt turn and returns a stream of its updates. The turn
// is considered finished once the session/prompt RPC returns and trailing
// updates have drained; the session then flips back to idle and the stream
// closes, whether or not the consumer is still reading.
func (s *Session) Prompt(ctx context.Context, blocks ...protocol.ContentBlock) (*PromptStream, error) {
	if len(blocks) == 0 {
		return nil, errors.BadRequest("prompt requires at least one content block")
	}
	if !s.processing.CompareAndSwap(false, true) {
		return nil, errors.Conflict(fmt.Sprintf("session '%s' is already processing a prompt", s.id))
	}

	s.logger.Debug("starting prompt turn")

	ps := newPromptStream()
	upstream := s.streams.Get(s.id)

	promptDone := make(chan promptOutcome, 1)
	go func() {
		result, err := s.conn.Prompt(ctx, &protocol.PromptParams{SessionID: s.id, Prompt: blocks})
		promptDone <- promptOutcome{result: result, err: err}
	}()

	drainCtx, stopDrain := context.WithCancel(context.Background())
	drained := make(chan protocol.SessionNotification)
	go func() {
		defer close(drained)
		for {
			item, ok, err := upstream.Next(drainCtx)
			if err != nil || !ok {
				return
			}
			select {
			case drained <- item:
			case <-drainCtx.Done():
				return
			}
		}
	}()

	go s.orchestrate(ps, promptDone, drained, stopDrain)

	return ps, nil
}

// PromptText is a convenience wrapper for a single text block.
func (s *Session) PromptText(ctx context.Context, text string) (*PromptStream, error) {
	return s.Prompt(ctx, protocol.TextBlock(text))
}

// orchestrate forwards updates to the consumer while racing the prompt RPC,
// drains trailing updates after the RPC returns, and always finalizes:
// the session stream ends, pending permissions are cancelled and the
// session returns to idle.
func (s *Session) orchestrate(ps *PromptStream, promptDone <-chan promptOutcome, drained <-chan protocol.SessionNotification, stopDrain context.CancelFunc) {
	var outcome promptOutcome

	defer func() {
		stopDrain()
		s.streams.End(s.id)
		if s.broker != nil {
			s.broker.CancelSession(s.id)
		}
		s.processing.Store(false)
		ps.finish(outcome.result, outcome.err)

		if outcome.err != nil {
			s.logger.Warn("prompt turn failed", zap.Error(outcome.err))
		} else if outcome.result != nil {
			s.logger.Debug("prompt turn finished", zap.String("stop_reason", outcome.result.StopReason))
		}
	}()

	for {
		select {
		case outcome = <-promptDone:
			s.drainTail(ps, drained)
			return
		case item, ok := <-drained:
			if !ok {
				// Stream ended underneath the turn; the RPC still owes
				// us its outcome.
				outcome = <-promptDone
				return
			}
			ps.emit(item)
		}
	}
}

// drainTail collects updates that trail the RPC completion: a short grace
// period first, then one bounded wait per remaining item.
func (s *Session) drainTail(ps *PromptStream, drained <-chan protocol.SessionNotification) {
	time.Sleep(finalUpdateGrace)

	for {
		timer := time.NewTimer(drainItemTimeout)
		select {
		case item, ok := <-drained:
			timer.Stop()
			if !ok {
				return
			}
			ps.emit(item)
		case <-timer.C:
			return
		}
	}
}

// Cancel asks the agent to stop the current turn. The turn still finishes
// through the normal path with a cancelled stop reason.
func (s *Session) Cancel() error {
	s.logger.Debug("cancelling session")
	return s.conn.Cancel(s.id)
}

// InterruptWith cancels any in-flight turn, waits for the session to settle
// and starts a new prompt turn.
func (s *Session) InterruptWith(ctx context.Context, blocks ...protocol.ContentBlock) (*PromptStream, error) {
	if s.processing.Load() {
		if err := s.Cancel(); err != nil {
			return nil, err
		}
		if !s.waitForIdle(ctx, 5*time.Second) {
			return nil, errors.Conflict(fmt.Sprintf("session '%s' did not become idle after cancel", s.id))
		}
	}

	sleepCtx(ctx, interruptSettle)
	return s.Prompt(ctx, blocks...)
}

// SetMode switches the agent's session mode.
func (s *Session) SetMode(ctx context.Context, modeID string) error {
	if err := s.conn.SetSessionMode(ctx, &protocol.SetSessionModeParams{SessionID: s.id, ModeID: modeID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.modeID = modeID
	s.mu.Unlock()

	s.logger.Debug("session mode changed", zap.String("mode_id", modeID))
	return nil
}

// Flush asks the agent to persist this session to disk. A busy session is
// given opts.IdleTimeout to finish on its own, then cancelled. A successful
// flush unloads the session agent-side, so it is reloaded via session/load
// unless opts.SkipRestart is set. Flush failures are reported in the result,
// not as an error; the error return is reserved for context cancellation.
func (s *Session) Flush(ctx context.Context, opts FlushOptions) (*protocol.FlushResult, error) {
	opts.applyDefaults()

	if s.processing.Load() {
		s.logger.Info("session busy, waiting for idle before flush",
			zap.Duration("idle_timeout", opts.IdleTimeout))
		if !s.waitForIdle(ctx, opts.IdleTimeout) {
			s.logger.Warn("session still busy, cancelling before flush")
			if err := s.Cancel(); err != nil {
				s.logger.Warn("cancel before flush failed", zap.Error(err))
			}
			sleepCtx(ctx, cancelSettleDelay)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.conn.Flush(ctx, &protocol.FlushParams{
		SessionID:      s.id,
		IdleTimeout:    int(opts.IdleTimeout.Milliseconds()),
		PersistTimeout: int(opts.PersistTimeout.Milliseconds()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("flush call failed", zap.Error(err))
		return &protocol.FlushResult{Success: false, Error: err.Error()}, nil
	}

	if !result.Success {
		s.logger.Warn("agent reported flush failure", zap.String("error", result.Error))
		return result, nil
	}

	s.logger.Info("session flushed", zap.String("file_path", result.FilePath))

	if !opts.SkipRestart {
		if err := s.restart(ctx); err != nil {
			return &protocol.FlushResult{
				Success:  false,
				FilePath: result.FilePath,
				Error:    fmt.Sprintf("flush succeeded but session restart failed: %v", err),
			}, nil
		}
	}

	return result, nil
}

// ForkWithFlush persists the session and forks from the persisted state.
// Unlike Flush, a failed persist here is a hard error.
func (s *Session) ForkWithFlush(ctx context.Context, opts FlushOptions) (*Session, error) {
	result, err := s.Flush(ctx, opts)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, errors.FlushFailed(result.Error)
	}
	return s.Fork(ctx)
}

// Fork creates a sibling session via the unstable session/fork method.
func (s *Session) Fork(ctx context.Context) (*Session, error) {
	result, err := s.conn.ForkSession(ctx, &protocol.ForkSessionParams{
		SessionID:  s.id,
		Cwd:        s.cwd,
		McpServers: s.mcpServers(),
	})
	if err != nil {
		return nil, err
	}

	modes := result.Modes
	if modes == nil {
		// Agents often omit mode state on fork; the child inherits ours.
		modes = s.Modes()
	}

	s.logger.Info("session forked", zap.String("child_session_id", result.SessionID))
	return New(result.SessionID, s.cwd, s.mcp, s.conn, s.streams, s.broker, modes, s.logger), nil
}

// restart reloads the session after a flush unloaded it agent-side.
func (s *Session) restart(ctx context.Context) error {
	result, err := s.conn.LoadSession(ctx, &protocol.LoadSessionParams{
		SessionID:  s.id,
		Cwd:        s.cwd,
		McpServers: s.mcpServers(),
	})
	if err != nil {
		return err
	}

	if result != nil && result.Modes != nil {
		s.mu.Lock()
		s.modes = result.Modes
		s.modeID = result.Modes.CurrentModeID
		s.mu.Unlock()
	}

	s.logger.Debug("session restarted after flush")
	return nil
}

// waitForIdle polls the processing flag until idle, timeout, or ctx end.
func (s *Session) waitForIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for s.processing.Load() {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return !s.processing.Load()
		}
		sleepCtx(ctx, idlePollInterval)
	}
	return true
}

func (s *Session) mcpServers() []protocol.McpServer {
	if s.mcp == nil {
		return []protocol.McpServer{}
	}
	return s.mcp
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
