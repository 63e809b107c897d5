package session

import (
	"sync"

	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// PromptStream is the consumer side of one prompt turn. Updates arrive on
// Updates until the turn finishes; Result blocks for the final stop reason.
// Closing the stream abandons consumption without disturbing the turn: the
// orchestrator keeps draining and finalizes normally.
type PromptStream struct {
	updates chan protocol.SessionNotification
	done    chan struct{}
	closed  chan struct{}

	mu     sync.Mutex
	result *protocol.PromptResult
	err    error

	closeOnce sync.Once
}

func newPromptStream() *PromptStream {
	return &PromptStream{
		updates: make(chan protocol.SessionNotification),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Updates returns the channel of session updates for this turn. The channel
// is closed when the turn finishes.
func (ps *PromptStream) Updates() <-chan protocol.SessionNotification {
	return ps.updates
}

// Done is closed when the turn has finished and Result is available.
func (ps *PromptStream) Done() <-chan struct{} {
	return ps.done
}

// Result blocks until the turn finishes and returns the prompt outcome.
func (ps *PromptStream) Result() (*protocol.PromptResult, error) {
	<-ps.done
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.result, ps.err
}

// Close abandons consumption. Remaining updates for the turn are dropped
// but the turn itself runs to completion.
func (ps *PromptStream) Close() {
	ps.closeOnce.Do(func() {
		close(ps.closed)
	})
}

// emit delivers an update unless the consumer abandoned the stream or the
// turn already finished.
func (ps *PromptStream) emit(item protocol.SessionNotification) {
	select {
	case ps.updates <- item:
	case <-ps.closed:
	}
}

// finish records the outcome and releases consumers. Safe to call once.
func (ps *PromptStream) finish(result *protocol.PromptResult, err error) {
	ps.mu.Lock()
	ps.result = result
	ps.err = err
	ps.mu.Unlock()
	close(ps.updates)
	close(ps.done)
}
