// Package registry manages the catalog of spawnable agent configurations.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
)

// AgentConfig describes how to launch an ACP agent subprocess.
type AgentConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// ValidateConfig checks the fields required to launch an agent.
func ValidateConfig(config *AgentConfig) error {
	if config.ID == "" {
		return fmt.Errorf("agent config missing id")
	}
	if config.Command == "" {
		return fmt.Errorf("agent config %q missing command", config.ID)
	}
	return nil
}

// WithEnv returns a copy of the config with extra environment variables
// merged over the defaults.
func (c *AgentConfig) WithEnv(extra map[string]string) *AgentConfig {
	merged := make(map[string]string, len(c.Env)+len(extra))
	for k, v := range c.Env {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	clone := *c
	clone.Env = merged
	return &clone
}

// Registry manages agent configurations by id.
type Registry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewRegistry creates a registry preloaded with the built-in defaults.
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		agents: make(map[string]*AgentConfig),
		logger: log.WithFields(zap.String("component", "agent-registry")),
	}
	r.loadDefaults()
	return r
}

func (r *Registry) loadDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, config := range DefaultAgents() {
		r.agents[config.ID] = config
	}
}

// LoadFromFile merges agent configurations from a JSON file over the
// defaults. Invalid entries are skipped with a warning.
func (r *Registry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agent config file: %w", err)
	}

	var configs []*AgentConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("failed to parse agent config file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, config := range configs {
		if err := ValidateConfig(config); err != nil {
			r.logger.Warn("skipping invalid agent config",
				zap.String("id", config.ID),
				zap.Error(err))
			continue
		}
		r.agents[config.ID] = config
		r.logger.Info("loaded agent config", zap.String("id", config.ID))
	}

	return nil
}

// Register adds a new agent configuration.
func (r *Registry) Register(config *AgentConfig) error {
	if err := ValidateConfig(config); err != nil {
		return errors.BadRequest(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[config.ID]; exists {
		return errors.Conflict(fmt.Sprintf("agent %q already registered", config.ID))
	}

	r.agents[config.ID] = config
	r.logger.Info("registered agent", zap.String("id", config.ID))
	return nil
}

// Unregister removes an agent configuration.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return errors.NotFound("agent", id)
	}

	delete(r.agents, id)
	r.logger.Info("unregistered agent", zap.String("id", id))
	return nil
}

// Get returns an agent configuration by id.
func (r *Registry) Get(id string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.agents[id]
	if !exists {
		return nil, errors.NotFound("agent", id)
	}
	return config, nil
}

// List returns all enabled agent configurations.
func (r *Registry) List() []*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentConfig, 0, len(r.agents))
	for _, config := range r.agents {
		if config.Enabled {
			out = append(out, config)
		}
	}
	return out
}
