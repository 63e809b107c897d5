package registry

// DefaultAgents returns the built-in agent configurations. Node-based agents
// go through npx so no global install is required.
func DefaultAgents() []*AgentConfig {
	return []*AgentConfig{
		{
			ID:          "claude-code",
			Name:        "Claude Code",
			Description: "Claude Code via the claude-code-acp adapter",
			Command:     "npx",
			Args:        []string{"@sudocode-ai/claude-code-acp"},
			Enabled:     true,
		},
		{
			ID:          "codex",
			Name:        "Codex",
			Description: "OpenAI Codex via the codex-acp adapter",
			Command:     "npx",
			Args:        []string{"@zed-industries/codex-acp"},
			Enabled:     true,
		},
		{
			ID:          "gemini",
			Name:        "Gemini CLI",
			Description: "Gemini CLI in experimental ACP mode",
			Command:     "npx",
			Args:        []string{"@google/gemini-cli", "--experimental-acp"},
			Enabled:     true,
		},
		{
			ID:          "copilot-cli",
			Name:        "GitHub Copilot CLI",
			Description: "GitHub Copilot CLI with the --acp flag",
			Command:     "npx",
			Args:        []string{"@github/copilot", "--acp"},
			Enabled:     true,
		},
		{
			ID:          "opencode",
			Name:        "OpenCode",
			Description: "OpenCode agent in ACP mode",
			Command:     "opencode",
			Args:        []string{"acp"},
			Enabled:     true,
		},
	}
}
