// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent-type tags to drivers. It is populated at startup
// and read on every worker start.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds a driver for agentType. Registering the same agent
// type twice is an error.
func (r *Registry) Register(agentType string, driver Driver) error {
	if agentType == "" {
		return fmt.Errorf("registering driver: empty agent type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[agentType]; exists {
		return fmt.Errorf("registering driver: agent type %q already registered", agentType)
	}
	r.drivers[agentType] = driver
	return nil
}

// Driver returns the driver registered for agentType.
func (r *Registry) Driver(agentType string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[agentType]
	return driver, ok
}

// AgentTypes returns the registered agent types in sorted order.
func (r *Registry) AgentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agentTypes := make([]string, 0, len(r.drivers))
	for agentType := range r.drivers {
		agentTypes = append(agentTypes, agentType)
	}
	sort.Strings(agentTypes)
	return agentTypes
}
