// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package rules

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// A Manager is a registry of rule kinds keyed by the name used to declare them.
// It is safe to call methods on a Manager from multiple goroutines concurrently.
type Manager struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewManager returns a new Manager with every built-in kind registered
// under its String name.
func NewManager() *Manager {
	m := new(Manager)
	for k := range Kind(len(kinds)) {
		if err := m.register(k.String(), k); err != nil {
			panic(err)
		}
	}
	return m
}

// register makes kind available under name.
// It is an error to register the same name twice.
func (m *Manager) register(name string, kind Kind) error {
	if !kind.IsValid() {
		return fmt.Errorf("register rule %q: invalid kind %v", name, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.kinds[name]; exists {
		return fmt.Errorf("register rule %q: already registered", name)
	}
	if m.kinds == nil {
		m.kinds = make(map[string]Kind)
	}
	m.kinds[name] = kind
	return nil
}

// Get returns the kind registered under name.
func (m *Manager) Get(name string) (_ Kind, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[name]
	return k, ok
}

// Names returns the registered rule names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.kinds))
}
