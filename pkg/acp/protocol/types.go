package protocol

import "encoding/json"

// InitializeParams for the initialize method
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

// ClientCapabilities describes what the client supports
type ClientCapabilities struct {
	FS       FileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal,omitempty"`
}

// FileSystemCapability describes filesystem access the client offers the agent
type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// InitializeResult from the initialize method
type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AuthMethods       []AuthMethod      `json:"authMethods,omitempty"`
}

// AgentCapabilities describes what the agent supports
type AgentCapabilities struct {
	LoadSession         bool                `json:"loadSession,omitempty"`
	PromptCapabilities  *PromptCapabilities `json:"promptCapabilities,omitempty"`
	SessionCapabilities SessionCapabilities `json:"sessionCapabilities,omitempty"`
}

// PromptCapabilities describes the content types a prompt may carry
type PromptCapabilities struct {
	Image           bool `json:"image,omitempty"`
	Audio           bool `json:"audio,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// SessionCapabilities describes optional session operations.
// Fork is unstable and absent from most agents.
type SessionCapabilities struct {
	Fork bool `json:"fork,omitempty"`
}

// AuthMethod describes an authentication method offered by the agent
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// McpServer configuration passed to the agent at session creation.
// Supports both stdio (command+args) and remote (url+type) transports.
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// NewSessionParams for session/new
type NewSessionParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// NewSessionResult from session/new
type NewSessionResult struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeState `json:"modes,omitempty"`
}

// LoadSessionParams for session/load
type LoadSessionParams struct {
	SessionID  string      `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// LoadSessionResult from session/load
type LoadSessionResult struct {
	Modes *SessionModeState `json:"modes,omitempty"`
}

// ForkSessionParams for session/fork (unstable)
type ForkSessionParams struct {
	SessionID  string      `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// ForkSessionResult from session/fork
type ForkSessionResult struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeState `json:"modes,omitempty"`
}

// SessionModeState describes the agent's current and available modes
type SessionModeState struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

// SessionMode is a single operating mode offered by the agent
type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SetSessionModeParams for session/set_mode
type SetSessionModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// ContentBlock represents a content block in a prompt or update
type ContentBlock struct {
	Type string `json:"type"`           // "text", "image", "resource_link", ...
	Text string `json:"text,omitempty"` // for type="text"
	URI  string `json:"uri,omitempty"`  // for type="resource_link"
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// PromptParams for session/prompt
type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// Stop reasons reported by session/prompt
const (
	StopReasonEndTurn         = "end_turn"
	StopReasonMaxTokens       = "max_tokens"
	StopReasonMaxTurnRequests = "max_turn_requests"
	StopReasonRefusal         = "refusal"
	StopReasonCancelled       = "cancelled"
)

// PromptResult from session/prompt
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// CancelParams for the session/cancel notification
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SessionNotification is the payload of a session/update notification.
// Update is kept raw: its shape varies by sessionUpdate kind and consumers
// forward it untouched.
type SessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// Values of the "sessionUpdate" discriminator inside an update object
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
	UpdateCurrentModeUpdate = "current_mode_update"
	UpdateAvailableCommands = "available_commands_update"

	// UpdatePermissionRequest is synthesized locally for interactive
	// permission handling; agents never send it on the wire.
	UpdatePermissionRequest = "permission_request"
)

// UpdateKind extracts the sessionUpdate discriminator from a raw update object.
// Returns an empty string if the field is missing or malformed.
func UpdateKind(update json.RawMessage) string {
	var probe struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(update, &probe); err != nil {
		return ""
	}
	return probe.SessionUpdate
}

// ToolCallUpdate contains tool call information in permission requests
type ToolCallUpdate struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// Permission option kinds
const (
	PermissionAllowOnce    = "allow_once"
	PermissionAllowAlways  = "allow_always"
	PermissionRejectOnce   = "reject_once"
	PermissionRejectAlways = "reject_always"
)

// PermissionOption represents a permission choice offered by the agent
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// RequestPermissionParams for session/request_permission (agent -> client)
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallUpdate     `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// Permission outcome values
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// PermissionOutcome represents the decision on a permission request
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"` // only when outcome="selected"
}

// RequestPermissionResult is the response to session/request_permission
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// SelectedOutcome builds a response that picks the given option
func SelectedOutcome(optionID string) RequestPermissionResult {
	return RequestPermissionResult{Outcome: PermissionOutcome{Outcome: OutcomeSelected, OptionID: optionID}}
}

// CancelledOutcome builds a response that declines to choose
func CancelledOutcome() RequestPermissionResult {
	return RequestPermissionResult{Outcome: PermissionOutcome{Outcome: OutcomeCancelled}}
}

// PermissionRequestUpdate is the stream item synthesized when a permission
// request is surfaced to stream consumers instead of being auto-resolved.
type PermissionRequestUpdate struct {
	SessionUpdate string             `json:"sessionUpdate"` // always "permission_request"
	RequestID     string             `json:"requestId"`
	SessionID     string             `json:"sessionId"`
	ToolCall      ToolCallUpdate     `json:"toolCall"`
	Options       []PermissionOption `json:"options"`
}

// ReadTextFileParams for fs/read_text_file (agent -> client)
type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// ReadTextFileResult for fs/read_text_file
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams for fs/write_text_file (agent -> client)
type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// CreateTerminalParams for terminal/create (agent -> client)
type CreateTerminalParams struct {
	SessionID       string   `json:"sessionId"`
	Command         string   `json:"command"`
	Args            []string `json:"args,omitempty"`
	Env             []EnvVar `json:"env,omitempty"`
	Cwd             string   `json:"cwd,omitempty"`
	OutputByteLimit int      `json:"outputByteLimit,omitempty"`
}

// EnvVar is a name/value pair in terminal env lists
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateTerminalResult for terminal/create
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalParams identifies a terminal for output/wait/kill/release
type TerminalParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalExitStatus describes how a terminal command ended
type TerminalExitStatus struct {
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

// TerminalOutputResult for terminal/output
type TerminalOutputResult struct {
	Output     string              `json:"output"`
	Truncated  bool                `json:"truncated"`
	ExitStatus *TerminalExitStatus `json:"exitStatus,omitempty"`
}

// WaitForExitResult for terminal/wait_for_exit
type WaitForExitResult struct {
	ExitStatus TerminalExitStatus `json:"exitStatus"`
}

// FlushParams for the _session/flush extension method.
// Timeouts are in milliseconds.
type FlushParams struct {
	SessionID      string `json:"sessionId"`
	IdleTimeout    int    `json:"idleTimeout"`
	PersistTimeout int    `json:"persistTimeout"`
}

// FlushResult from _session/flush
type FlushResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath,omitempty"`
	Error    string `json:"error,omitempty"`
}
