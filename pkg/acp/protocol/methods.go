// Package protocol defines the Agent Client Protocol (ACP) message types
// exchanged with coding agents over JSON-RPC 2.0.
package protocol

// ProtocolVersion is the ACP protocol version this client speaks.
const ProtocolVersion = 1

// Client -> Agent methods
const (
	MethodInitialize     = "initialize"
	MethodAuthenticate   = "authenticate"
	MethodSessionNew     = "session/new"
	MethodSessionLoad    = "session/load"
	MethodSessionPrompt  = "session/prompt"
	MethodSessionSetMode = "session/set_mode"

	// MethodSessionFork is unstable and only advertised by agents whose
	// initialize result carries sessionCapabilities.fork.
	MethodSessionFork = "session/fork"

	// MethodSessionFlush is an extension method asking the agent to persist
	// session state to disk. The leading underscore marks it as non-standard.
	MethodSessionFlush = "_session/flush"
)

// Client -> Agent notifications
const (
	MethodSessionCancel = "session/cancel"
)

// Agent -> Client notifications
const (
	MethodSessionUpdate = "session/update"
)

// Agent -> Client requests (require a response)
const (
	MethodRequestPermission = "session/request_permission"
	MethodFsReadTextFile    = "fs/read_text_file"
	MethodFsWriteTextFile   = "fs/write_text_file"
	MethodTerminalCreate    = "terminal/create"
	MethodTerminalOutput    = "terminal/output"
	MethodTerminalWaitExit  = "terminal/wait_for_exit"
	MethodTerminalKill      = "terminal/kill"
	MethodTerminalRelease   = "terminal/release"
)
