package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/jsonrpc"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

func testLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func newTestHandler(t *testing.T, mode permissions.Mode) (*Handler, *stream.Registry) {
	log := testLogger(t)
	streams := stream.NewRegistry(log)
	broker := permissions.NewBroker(mode, nil, streams, log)
	h := NewHandler(streams, broker, nil, bus.NewMemoryEventBus(log), log)
	return h, streams
}

func TestHandler_SessionUpdateRouted(t *testing.T) {
	h, streams := newTestHandler(t, permissions.ModeAutoApprove)

	params, _ := json.Marshal(protocol.SessionNotification{
		SessionID: "session-1",
		Update:    json.RawMessage(`{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}`),
	})
	h.HandleNotification(protocol.MethodSessionUpdate, params)

	item, ok, err := streams.Get("session-1").Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, protocol.UpdateAgentMessageChunk, protocol.UpdateKind(item.Update))
}

func TestHandler_MalformedUpdateDropped(t *testing.T) {
	h, streams := newTestHandler(t, permissions.ModeAutoApprove)

	h.HandleNotification(protocol.MethodSessionUpdate, json.RawMessage(`{not json`))
	h.HandleNotification(protocol.MethodSessionUpdate, json.RawMessage(`{"update":{}}`)) // missing session id
	h.HandleNotification("session/unknown", json.RawMessage(`{}`))

	assert.Equal(t, 0, streams.Get("session-1").Len())
}

func TestHandler_PermissionRequestAutoApproved(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	params, _ := json.Marshal(protocol.RequestPermissionParams{
		SessionID: "session-1",
		ToolCall:  protocol.ToolCallUpdate{ToolCallID: "tool-1"},
		Options: []protocol.PermissionOption{
			{OptionID: "yes", Kind: protocol.PermissionAllowOnce},
		},
	})

	result, rpcErr := h.HandleRequest(context.Background(), protocol.MethodRequestPermission, params)
	require.Nil(t, rpcErr)

	decision, ok := result.(protocol.RequestPermissionResult)
	require.True(t, ok)
	assert.Equal(t, "yes", decision.Outcome.OptionID)
}

func TestHandler_ReadTextFile(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree"), 0644))

	params, _ := json.Marshal(protocol.ReadTextFileParams{SessionID: "session-1", Path: path})
	result, rpcErr := h.HandleRequest(context.Background(), protocol.MethodFsReadTextFile, params)
	require.Nil(t, rpcErr)
	assert.Equal(t, protocol.ReadTextFileResult{Content: "one\ntwo\nthree"}, result)
}

func TestHandler_ReadTextFileLineAndLimit(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0644))

	line, limit := 2, 2
	params, _ := json.Marshal(protocol.ReadTextFileParams{SessionID: "s", Path: path, Line: &line, Limit: &limit})
	result, rpcErr := h.HandleRequest(context.Background(), protocol.MethodFsReadTextFile, params)
	require.Nil(t, rpcErr)
	assert.Equal(t, protocol.ReadTextFileResult{Content: "two\nthree"}, result)
}

func TestHandler_ReadTextFileMissing(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	params, _ := json.Marshal(protocol.ReadTextFileParams{SessionID: "s", Path: "/nonexistent/file.txt"})
	_, rpcErr := h.HandleRequest(context.Background(), protocol.MethodFsReadTextFile, params)
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.ErrCodeResourceNotFound, rpcErr.Code)
}

func TestHandler_WriteTextFile(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	params, _ := json.Marshal(protocol.WriteTextFileParams{SessionID: "s", Path: path, Content: "written"})
	_, rpcErr := h.HandleRequest(context.Background(), protocol.MethodFsWriteTextFile, params)
	require.Nil(t, rpcErr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestHandler_TerminalUnsupported(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	_, rpcErr := h.HandleRequest(context.Background(), protocol.MethodTerminalCreate, json.RawMessage(`{}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.MethodNotFound, rpcErr.Code)
}

// fakeTerminal records calls and returns canned results.
type fakeTerminal struct {
	created  []string
	killed   []string
	released []string
}

func (f *fakeTerminal) Create(ctx context.Context, params *protocol.CreateTerminalParams) (*protocol.CreateTerminalResult, error) {
	f.created = append(f.created, params.Command)
	return &protocol.CreateTerminalResult{TerminalID: "term-1"}, nil
}

func (f *fakeTerminal) Output(ctx context.Context, params *protocol.TerminalParams) (*protocol.TerminalOutputResult, error) {
	return &protocol.TerminalOutputResult{Output: "hello\n"}, nil
}

func (f *fakeTerminal) WaitForExit(ctx context.Context, params *protocol.TerminalParams) (*protocol.WaitForExitResult, error) {
	code := 0
	return &protocol.WaitForExitResult{ExitStatus: protocol.TerminalExitStatus{ExitCode: &code}}, nil
}

func (f *fakeTerminal) Kill(ctx context.Context, params *protocol.TerminalParams) error {
	f.killed = append(f.killed, params.TerminalID)
	return nil
}

func (f *fakeTerminal) Release(ctx context.Context, params *protocol.TerminalParams) error {
	f.released = append(f.released, params.TerminalID)
	return nil
}

func TestHandler_TerminalDelegation(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)
	term := &fakeTerminal{}
	h.SetTerminal(term)

	result, rpcErr := h.HandleRequest(context.Background(),
		protocol.MethodTerminalCreate,
		json.RawMessage(`{"sessionId":"session-1","command":"ls"}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "term-1", result.(*protocol.CreateTerminalResult).TerminalID)
	assert.Equal(t, []string{"ls"}, term.created)

	result, rpcErr = h.HandleRequest(context.Background(),
		protocol.MethodTerminalOutput,
		json.RawMessage(`{"sessionId":"session-1","terminalId":"term-1"}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "hello\n", result.(*protocol.TerminalOutputResult).Output)

	_, rpcErr = h.HandleRequest(context.Background(),
		protocol.MethodTerminalKill,
		json.RawMessage(`{"sessionId":"session-1","terminalId":"term-1"}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, []string{"term-1"}, term.killed)
}

func TestHandler_UnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t, permissions.ModeAutoApprove)

	_, rpcErr := h.HandleRequest(context.Background(), "bogus/method", json.RawMessage(`{}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, jsonrpc.MethodNotFound, rpcErr.Code)
}
