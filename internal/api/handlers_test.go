package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acpfactory/acpfactory/internal/agent"
	"github.com/acpfactory/acpfactory/internal/agent/registry"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// fakeConn scripts the agent side of a handle without a subprocess. Prompt
// behavior is injected through promptFn so tests can push updates onto the
// session stream mid-turn.
type fakeConn struct {
	mu sync.Mutex

	streams     *stream.Registry
	promptFn    func(ctx context.Context, params *protocol.PromptParams) (*protocol.PromptResult, error)
	nextSession int
	flushCalls  []string
	loadCalls   []string
}

func (f *fakeConn) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	return &protocol.InitializeResult{ProtocolVersion: protocol.ProtocolVersion}, nil
}

func (f *fakeConn) NewSession(ctx context.Context, params *protocol.NewSessionParams) (*protocol.NewSessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSession++
	return &protocol.NewSessionResult{SessionID: fmt.Sprintf("session-%d", f.nextSession)}, nil
}

func (f *fakeConn) Prompt(ctx context.Context, params *protocol.PromptParams) (*protocol.PromptResult, error) {
	if f.promptFn != nil {
		return f.promptFn(ctx, params)
	}
	return &protocol.PromptResult{StopReason: protocol.StopReasonEndTurn}, nil
}

func (f *fakeConn) Cancel(sessionID string) error { return nil }

func (f *fakeConn) SetSessionMode(ctx context.Context, params *protocol.SetSessionModeParams) error {
	return nil
}

func (f *fakeConn) LoadSession(ctx context.Context, params *protocol.LoadSessionParams) (*protocol.LoadSessionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls = append(f.loadCalls, params.SessionID)
	return &protocol.LoadSessionResult{}, nil
}

func (f *fakeConn) ForkSession(ctx context.Context, params *protocol.ForkSessionParams) (*protocol.ForkSessionResult, error) {
	return &protocol.ForkSessionResult{SessionID: params.SessionID + "-fork"}, nil
}

func (f *fakeConn) Flush(ctx context.Context, params *protocol.FlushParams) (*protocol.FlushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls = append(f.flushCalls, params.SessionID)
	return &protocol.FlushResult{Success: true, FilePath: "/tmp/" + params.SessionID + ".json"}, nil
}

type testEnv struct {
	router  *gin.Engine
	factory *agent.Factory
	conn    *fakeConn
	handle  *agent.Handle
}

// setupTest builds a router with one adopted agent instance backed by a
// fake connection.
func setupTest(t *testing.T) *testEnv {
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	reg := registry.NewRegistry(log)
	factory := agent.NewFactory(reg, nil, eventBus, permissions.ModeAutoApprove, log)

	streams := stream.NewRegistry(log)
	broker := permissions.NewBroker(permissions.ModeAutoApprove, nil, streams, log)
	conn := &fakeConn{streams: streams}

	caps := protocol.AgentCapabilities{
		LoadSession:         true,
		SessionCapabilities: protocol.SessionCapabilities{Fork: true},
	}
	config := &registry.AgentConfig{ID: "fake-agent", Command: "fake", Enabled: true}
	handle := agent.NewHandle("agent-1", config, "/work", nil, nil, conn, streams, broker, eventBus, caps, nil, log)
	factory.Adopt(handle)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), factory, eventBus, log)

	return &testEnv{router: router, factory: factory, conn: conn, handle: handle}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) createSession(t *testing.T) string {
	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions", CreateSessionRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[SessionResponse](t, w).SessionID
}

func TestListAgentTypes(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/types", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[AgentTypesListResponse](t, w)
	assert.Equal(t, len(resp.Types), resp.Total)

	ids := make([]string, 0, len(resp.Types))
	for _, at := range resp.Types {
		ids = append(ids, at.ID)
	}
	assert.Contains(t, ids, "claude-code")
}

func TestGetAgentType_NotFound(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/types/no-such-type", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSpawnAgent_InvalidBody(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/spawn", map[string]string{"cwd": "/tmp"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpawnAgent_UnknownType(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/spawn", SpawnAgentRequest{AgentType: "no-such-type"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSpawnAgent_InvalidPermissionMode(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/spawn", SpawnAgentRequest{
		AgentType:      "claude-code",
		PermissionMode: "always-yes",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAgents(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[AgentsListResponse](t, w)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "agent-1", resp.Agents[0].ID)
	assert.Equal(t, "fake-agent", resp.Agents[0].AgentType)
	assert.True(t, resp.Agents[0].Running)
	assert.True(t, resp.Agents[0].Capabilities.LoadSession)
	assert.True(t, resp.Agents[0].Capabilities.Fork)
}

func TestGetAgentStatus_NotFound(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/no-such-agent/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopAgent(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodDelete, "/api/v1/agents/agent-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/agents/agent-1/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions", CreateSessionRequest{Cwd: "/elsewhere"})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[SessionResponse](t, w)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Equal(t, "/elsewhere", resp.Cwd)
	assert.False(t, resp.Processing)
}

func TestLoadSession(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/load", LoadSessionRequest{SessionID: "persisted-1"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[SessionResponse](t, w)
	assert.Equal(t, "persisted-1", resp.SessionID)
	assert.Equal(t, []string{"persisted-1"}, e.conn.loadCalls)
}

func TestListSessions(t *testing.T) {
	e := setupTest(t)
	e.createSession(t)
	e.createSession(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[SessionsListResponse](t, w).Total)
}

func TestSendPrompt(t *testing.T) {
	e := setupTest(t)
	e.conn.promptFn = func(ctx context.Context, params *protocol.PromptParams) (*protocol.PromptResult, error) {
		for i := 0; i < 2; i++ {
			e.conn.streams.Push(protocol.SessionNotification{
				SessionID: params.SessionID,
				Update:    json.RawMessage(`{"sessionUpdate":"agent_message_chunk"}`),
			})
		}
		return &protocol.PromptResult{StopReason: protocol.StopReasonEndTurn}, nil
	}
	id := e.createSession(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/"+id+"/prompt", PromptRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[PromptResponse](t, w)
	assert.Equal(t, protocol.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Updates, 2)
}

func TestSendPrompt_MissingText(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/"+id+"/prompt", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendPrompt_SessionNotFound(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/no-such-session/prompt", PromptRequest{Text: "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetSessionMode(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/"+id+"/mode", SetModeRequest{ModeID: "plan"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "plan", decode[SessionResponse](t, w).CurrentModeID)
}

func TestFlushSession(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/"+id+"/flush", FlushRequest{SkipRestart: true})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[FlushResponse](t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.FilePath)
	assert.Equal(t, []string{id}, e.conn.flushCalls)
	assert.Empty(t, e.conn.loadCalls, "skip_restart suppresses the reload")
}

func TestForkSession(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/sessions/"+id+"/fork", ForkRequest{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, id+"-fork", decode[SessionResponse](t, w).SessionID)
}

func TestListPermissions_Empty(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodGet, "/api/v1/agents/agent-1/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[PermissionsListResponse](t, w).Total)
}

func TestRespondPermission_UnknownID(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/permissions/perm-99/respond", RespondPermissionRequest{OptionID: "opt-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelPermission_UnknownID(t *testing.T) {
	e := setupTest(t)

	w := e.do(t, http.MethodPost, "/api/v1/agents/agent-1/permissions/perm-99/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
