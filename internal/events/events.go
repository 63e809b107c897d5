// Package events defines the event types and subjects published on the bus.
package events

// Subjects for bus publications.
const (
	SubjectAgentSpawned = "acp.agent.spawned"
	SubjectAgentClosed  = "acp.agent.closed"

	SubjectSessionCreated = "acp.session.created"
	SubjectSessionLoaded  = "acp.session.loaded"
	SubjectSessionForked  = "acp.session.forked"
	SubjectSessionFlushed = "acp.session.flushed"

	SubjectPermissionRequested = "acp.permission.requested"
	SubjectPermissionResolved  = "acp.permission.resolved"
)

// Event type identifiers carried in Event.Type.
const (
	TypeAgentSpawned = "agent.spawned"
	TypeAgentClosed  = "agent.closed"

	TypeSessionCreated = "session.created"
	TypeSessionLoaded  = "session.loaded"
	TypeSessionForked  = "session.forked"
	TypeSessionFlushed = "session.flushed"

	TypePermissionRequested = "permission.requested"
	TypePermissionResolved  = "permission.resolved"
)
