// Package scanning provides the application services that drive scan jobs:
// the plugin registry and the orchestrator that schedules, executes, and
// finalizes jobs.
package scanning

import (
	"fmt"
	"sort"
	"sync"

	"github.com/scanops/sentinel/internal/domain/scanning"
)

// PluginRegistry is the name -> plugin lookup table. It performs no execution
// itself. Registration happens once at bootstrap; resolution happens on every
// submission, so lookups take a read lock only.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]scanning.Plugin
	// disabled gates a plugin without unregistering it, preserving its slot in
	// Names() output for operator visibility.
	disabled map[string]bool
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins:  make(map[string]scanning.Plugin),
		disabled: make(map[string]bool),
	}
}

// Register adds a plugin under the given name. It returns ErrDuplicatePlugin
// if the name is already taken; a registered plugin is never silently replaced.
func (r *PluginRegistry) Register(name string, plugin scanning.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("registering plugin %q: %w", name, scanning.ErrDuplicatePlugin)
	}
	r.plugins[name] = plugin
	return nil
}

// Resolve returns the plugin registered under name. It returns
// ErrUnknownPlugin for unregistered names and ErrPluginDisabled for plugins
// that are registered but administratively disabled.
func (r *PluginRegistry) Resolve(name string) (scanning.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[name]
	if !exists {
		return nil, fmt.Errorf("resolving plugin %q: %w", name, scanning.ErrUnknownPlugin)
	}
	if r.disabled[name] {
		return nil, fmt.Errorf("resolving plugin %q: %w", name, scanning.ErrPluginDisabled)
	}
	return plugin, nil
}

// SetEnabled toggles a plugin without unregistering it. Disabling affects only
// future submissions; jobs already scheduled keep running.
func (r *PluginRegistry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; !exists {
		return fmt.Errorf("toggling plugin %q: %w", name, scanning.ErrUnknownPlugin)
	}
	r.disabled[name] = !enabled
	return nil
}

// Names returns the registered plugin names in sorted order, including
// disabled ones.
func (r *PluginRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
