// Package api provides the HTTP and WebSocket surface of acpfactory.
package api

import (
	"encoding/json"
	"time"

	"github.com/acpfactory/acpfactory/internal/permissions"
)

// SpawnAgentRequest for spawning an agent
type SpawnAgentRequest struct {
	AgentType          string            `json:"agent_type" binding:"required"`
	Cwd                string            `json:"cwd,omitempty"`
	Env                map[string]string `json:"env,omitempty"`
	PermissionMode     string            `json:"permission_mode,omitempty"`
	InheritCredentials bool              `json:"inherit_credentials,omitempty"`
}

// AgentTypeResponse for agent type listing
type AgentTypeResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// AgentTypesListResponse for listing agent types
type AgentTypesListResponse struct {
	Types []AgentTypeResponse `json:"types"`
	Total int                 `json:"total"`
}

// AgentCapabilitiesResponse summarizes what a spawned agent supports
type AgentCapabilitiesResponse struct {
	LoadSession bool `json:"load_session"`
	Fork        bool `json:"fork"`
}

// AgentInstanceResponse for a running agent instance
type AgentInstanceResponse struct {
	ID           string                    `json:"id"`
	AgentType    string                    `json:"agent_type"`
	Running      bool                      `json:"running"`
	Capabilities AgentCapabilitiesResponse `json:"capabilities"`
	Sessions     []string                  `json:"sessions"`
}

// AgentsListResponse for listing agent instances
type AgentsListResponse struct {
	Agents []AgentInstanceResponse `json:"agents"`
	Total  int                     `json:"total"`
}

// CreateSessionRequest for creating a session
type CreateSessionRequest struct {
	Cwd    string `json:"cwd,omitempty"`
	ModeID string `json:"mode_id,omitempty"`
}

// LoadSessionRequest for restoring a persisted session
type LoadSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Cwd       string `json:"cwd,omitempty"`
}

// SessionResponse describes a session
type SessionResponse struct {
	SessionID     string `json:"session_id"`
	Cwd           string `json:"cwd"`
	Processing    bool   `json:"processing"`
	CurrentModeID string `json:"current_mode_id,omitempty"`
}

// SessionsListResponse for listing sessions
type SessionsListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// PromptRequest for running a prompt turn
type PromptRequest struct {
	Text string `json:"text" binding:"required"`
}

// PromptResponse carries the collected updates and outcome of a turn
type PromptResponse struct {
	StopReason string            `json:"stop_reason"`
	Updates    []json.RawMessage `json:"updates"`
	Total      int               `json:"total"`
}

// SetModeRequest for switching session mode
type SetModeRequest struct {
	ModeID string `json:"mode_id" binding:"required"`
}

// FlushRequest for persisting a session
type FlushRequest struct {
	IdleTimeoutMs    int  `json:"idle_timeout_ms,omitempty"`
	PersistTimeoutMs int  `json:"persist_timeout_ms,omitempty"`
	SkipRestart      bool `json:"skip_restart,omitempty"`
}

// FlushResponse reports the flush outcome
type FlushResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ForkRequest for duplicating a session
type ForkRequest struct {
	Force            bool `json:"force,omitempty"`
	IdleTimeoutMs    int  `json:"idle_timeout_ms,omitempty"`
	PersistTimeoutMs int  `json:"persist_timeout_ms,omitempty"`
}

// RespondPermissionRequest for answering a pending permission request
type RespondPermissionRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

// PermissionsListResponse for pending permission requests
type PermissionsListResponse struct {
	Pending []permissions.PendingRequest `json:"pending"`
	Total   int                          `json:"total"`
}

// HealthResponse for health check
type HealthResponse struct {
	Status       string    `json:"status"`
	BusConnected bool      `json:"bus_connected"`
	Timestamp    time.Time `json:"timestamp"`
}
