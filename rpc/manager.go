package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"parley/errors"
	"parley/logging"
)

// Manager holds one Client per named endpoint. The coordinated agents each
// bring their own tool server (requirements gathering, repository
// analysis), so orchestration code addresses tools by endpoint name.
type Manager struct {
	log         *logging.Logger
	mu          sync.RWMutex
	endpoints   map[string]*Client
	deniedTools map[string]map[string]bool // endpoint -> tool -> denied
}

// NewManager creates an empty Manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.New()
	}
	return &Manager{
		log:         log.WithComponent("rpc-manager"),
		endpoints:   make(map[string]*Client),
		deniedTools: make(map[string]map[string]bool),
	}
}

// Connect starts and registers an endpoint under a name.
func (m *Manager) Connect(ctx context.Context, name string, config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.endpoints[name]; exists {
		return errors.AlreadyConnected("endpoint " + name + " already registered")
	}

	client := New(config, m.log)
	if err := client.Connect(ctx); err != nil {
		return errors.Wrapf(err, "connect endpoint %s", name)
	}

	m.endpoints[name] = client
	return nil
}

// SetDeniedTools hides tools of an endpoint from AllTools and FindTool.
func (m *Manager) SetDeniedTools(endpoint string, tools []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	denied := make(map[string]bool, len(tools))
	for _, t := range tools {
		denied[t] = true
	}
	m.deniedTools[endpoint] = denied
}

// Disconnect terminates one endpoint.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	client, ok := m.endpoints[name]
	delete(m.endpoints, name)
	m.mu.Unlock()

	if !ok {
		return errors.NotConnected("endpoint " + name + " not registered")
	}
	return client.Disconnect()
}

// EndpointTool pairs a tool with its endpoint name.
type EndpointTool struct {
	Endpoint string
	Tool     Tool
}

// AllTools returns every cached tool across endpoints, minus denied ones.
func (m *Manager) AllTools() []EndpointTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []EndpointTool
	for name, client := range m.endpoints {
		denied := m.deniedTools[name]
		for _, tool := range client.ListTools() {
			if denied != nil && denied[tool.Name] {
				continue
			}
			tools = append(tools, EndpointTool{Endpoint: name, Tool: tool})
		}
	}
	return tools
}

// FindTool locates the endpoint exposing a tool, skipping denied tools.
func (m *Manager) FindTool(name string) (endpoint string, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for ep, client := range m.endpoints {
		denied := m.deniedTools[ep]
		for _, tool := range client.ListTools() {
			if tool.Name != name {
				continue
			}
			if denied != nil && denied[name] {
				continue
			}
			return ep, true
		}
	}
	return "", false
}

// CallTool invokes a tool on a named endpoint.
func (m *Manager) CallTool(ctx context.Context, endpoint, tool string, args map[string]interface{}) (json.RawMessage, error) {
	m.mu.RLock()
	client, ok := m.endpoints[endpoint]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotConnected("endpoint " + endpoint + " not registered")
	}
	return client.CallTool(ctx, tool, args)
}

// Endpoints returns the registered endpoint names.
func (m *Manager) Endpoints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	return names
}

// EndpointCount returns how many endpoints are registered.
func (m *Manager) EndpointCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.endpoints)
}

// Close disconnects every endpoint, returning the last failure.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for name, client := range m.endpoints {
		if err := client.Disconnect(); err != nil {
			lastErr = err
		}
		delete(m.endpoints, name)
	}
	return lastErr
}
