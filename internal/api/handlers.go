package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/agent"
	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/session"
)

// Handler contains the HTTP handlers for the acpfactory API
type Handler struct {
	factory  *agent.Factory
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(factory *agent.Factory, eventBus bus.EventBus, log *logger.Logger) *Handler {
	return &Handler{
		factory:  factory,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "api")),
	}
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	appErr := errors.InternalError(err.Error(), err)
	c.JSON(appErr.HTTPStatus, appErr)
}

// ListAgentTypes returns the registered agent configurations
// GET /api/v1/agents/types
func (h *Handler) ListAgentTypes(c *gin.Context) {
	configs := h.factory.Registry().List()

	types := make([]AgentTypeResponse, 0, len(configs))
	for _, cfg := range configs {
		types = append(types, AgentTypeResponse{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Description: cfg.Description,
			Command:     cfg.Command,
			Args:        cfg.Args,
			Enabled:     cfg.Enabled,
		})
	}

	c.JSON(http.StatusOK, AgentTypesListResponse{Types: types, Total: len(types)})
}

// GetAgentType returns a specific agent configuration
// GET /api/v1/agents/types/:typeId
func (h *Handler) GetAgentType(c *gin.Context) {
	cfg, err := h.factory.Registry().Get(c.Param("typeId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AgentTypeResponse{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Command:     cfg.Command,
		Args:        cfg.Args,
		Enabled:     cfg.Enabled,
	})
}

// SpawnAgent launches a new agent instance
// POST /api/v1/agents/spawn
func (h *Handler) SpawnAgent(c *gin.Context) {
	var req SpawnAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	opts := agent.SpawnOptions{
		Cwd:                req.Cwd,
		Env:                req.Env,
		InheritCredentials: req.InheritCredentials,
	}
	if req.PermissionMode != "" {
		mode, err := permissions.ParseMode(req.PermissionMode)
		if err != nil {
			respondError(c, err)
			return
		}
		opts.PermissionMode = mode
	}

	handle, err := h.factory.Spawn(c.Request.Context(), req.AgentType, opts)
	if err != nil {
		h.logger.Error("failed to spawn agent", zap.String("agent_type", req.AgentType), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handleToResponse(handle))
}

// ListAgents returns all running agent instances
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	handles := h.factory.Handles()

	agents := make([]AgentInstanceResponse, 0, len(handles))
	for _, handle := range handles {
		agents = append(agents, handleToResponse(handle))
	}

	c.JSON(http.StatusOK, AgentsListResponse{Agents: agents, Total: len(agents)})
}

// GetAgentStatus returns one agent instance
// GET /api/v1/agents/:instanceId/status
func (h *Handler) GetAgentStatus(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	c.JSON(http.StatusOK, handleToResponse(handle))
}

// StopAgent shuts an agent instance down
// DELETE /api/v1/agents/:instanceId
func (h *Handler) StopAgent(c *gin.Context) {
	instanceID := c.Param("instanceId")
	if err := h.factory.Close(instanceID); err != nil {
		h.logger.Error("failed to stop agent", zap.String("instance_id", instanceID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "agent stopped successfully"})
}

// CreateSession creates a session on an agent
// POST /api/v1/agents/:instanceId/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	var req CreateSessionRequest
	_ = c.ShouldBindJSON(&req) // body optional

	s, err := handle.NewSession(c.Request.Context(), req.Cwd, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.ModeID != "" {
		if err := s.SetMode(c.Request.Context(), req.ModeID); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, sessionToResponse(s))
}

// LoadSession restores a persisted session on an agent
// POST /api/v1/agents/:instanceId/sessions/load
func (h *Handler) LoadSession(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	var req LoadSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	s, err := handle.LoadSession(c.Request.Context(), req.SessionID, req.Cwd, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(s))
}

// ListSessions returns the sessions of an agent
// GET /api/v1/agents/:instanceId/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	sessions := handle.Sessions()
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s))
	}

	c.JSON(http.StatusOK, SessionsListResponse{Sessions: out, Total: len(out)})
}

// SendPrompt runs one prompt turn to completion and returns its updates
// POST /api/v1/agents/:instanceId/sessions/:sessionId/prompt
func (h *Handler) SendPrompt(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	ps, err := s.PromptText(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	updates := make([]json.RawMessage, 0)
	for item := range ps.Updates() {
		updates = append(updates, item.Update)
	}

	result, err := ps.Result()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, PromptResponse{
		StopReason: result.StopReason,
		Updates:    updates,
		Total:      len(updates),
	})
}

// CancelSession asks the agent to stop the current turn
// POST /api/v1/agents/:instanceId/sessions/:sessionId/cancel
func (h *Handler) CancelSession(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	if err := s.Cancel(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested"})
}

// SetSessionMode switches the agent's session mode
// POST /api/v1/agents/:instanceId/sessions/:sessionId/mode
func (h *Handler) SetSessionMode(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}

	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	if err := s.SetMode(c.Request.Context(), req.ModeID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(s))
}

// FlushSession persists a session to disk
// POST /api/v1/agents/:instanceId/sessions/:sessionId/flush
func (h *Handler) FlushSession(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	var req FlushRequest
	_ = c.ShouldBindJSON(&req) // body optional

	result, err := handle.FlushSession(c.Request.Context(), c.Param("sessionId"), flushOptions(req.IdleTimeoutMs, req.PersistTimeoutMs, req.SkipRestart))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, FlushResponse{
		Success:  result.Success,
		FilePath: result.FilePath,
		Error:    result.Error,
	})
}

// ForkSession duplicates a session
// POST /api/v1/agents/:instanceId/sessions/:sessionId/fork
func (h *Handler) ForkSession(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	var req ForkRequest
	_ = c.ShouldBindJSON(&req) // body optional

	child, err := handle.ForkSession(c.Request.Context(), c.Param("sessionId"), req.Force, flushOptions(req.IdleTimeoutMs, req.PersistTimeoutMs, false))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionToResponse(child))
}

// ListPermissions returns the pending interactive permission requests
// GET /api/v1/agents/:instanceId/permissions
func (h *Handler) ListPermissions(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	pending := handle.Broker().Pending()
	c.JSON(http.StatusOK, PermissionsListResponse{Pending: pending, Total: len(pending)})
}

// RespondPermission answers a pending permission request
// POST /api/v1/agents/:instanceId/permissions/:requestId/respond
func (h *Handler) RespondPermission(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	var req RespondPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	if err := handle.Broker().Respond(c.Param("requestId"), req.OptionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "permission resolved"})
}

// CancelPermission cancels a pending permission request
// POST /api/v1/agents/:instanceId/permissions/:requestId/cancel
func (h *Handler) CancelPermission(c *gin.Context) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return
	}

	if err := handle.Broker().Cancel(c.Param("requestId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "permission cancelled"})
}

// HealthCheck returns health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		BusConnected: h.eventBus.IsConnected(),
		Timestamp:    time.Now().UTC(),
	})
}

func (h *Handler) lookupSession(c *gin.Context) (*session.Session, bool) {
	handle, ok := h.factory.Get(c.Param("instanceId"))
	if !ok {
		respondError(c, errors.NotFound("agent instance", c.Param("instanceId")))
		return nil, false
	}

	s, ok := handle.Session(c.Param("sessionId"))
	if !ok {
		respondError(c, errors.NotFound("session", c.Param("sessionId")))
		return nil, false
	}
	return s, true
}

func flushOptions(idleMs, persistMs int, skipRestart bool) session.FlushOptions {
	opts := session.DefaultFlushOptions()
	if idleMs > 0 {
		opts.IdleTimeout = time.Duration(idleMs) * time.Millisecond
	}
	if persistMs > 0 {
		opts.PersistTimeout = time.Duration(persistMs) * time.Millisecond
	}
	opts.SkipRestart = skipRestart
	return opts
}

func handleToResponse(handle *agent.Handle) AgentInstanceResponse {
	sessions := handle.Sessions()
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID())
	}

	caps := handle.Capabilities()
	return AgentInstanceResponse{
		ID:        handle.ID,
		AgentType: handle.Config.ID,
		Running:   handle.IsRunning(),
		Capabilities: AgentCapabilitiesResponse{
			LoadSession: caps.LoadSession,
			Fork:        caps.SessionCapabilities.Fork,
		},
		Sessions: ids,
	}
}

func sessionToResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		SessionID:     s.ID(),
		Cwd:           s.Cwd(),
		Processing:    s.IsProcessing(),
		CurrentModeID: s.CurrentModeID(),
	}
}
