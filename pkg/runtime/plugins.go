package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/murmur/pkg/bus"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// initWarningFragments are plugin init failures that indicate missing
// operator configuration rather than a broken plugin; they downgrade to
// warnings so the agent still boots without optional credentials.
var initWarningFragments = []string{
	"API key",
	"environment variables",
	"Invalid plugin configuration",
}

// RegisterPlugin wires every capability p declares, in fixed order:
// adapter, actions, evaluators, providers, models, routes, events,
// services, task workers. Safe to call concurrently for distinct plugins.
func (rt *AgentRuntime) RegisterPlugin(ctx context.Context, p *plugin.Plugin) error {
	if p == nil || p.Name == "" {
		return &ConfigError{Reason: "plugin must have a name"}
	}

	rt.mu.Lock()
	if _, dup := rt.plugins[p.Name]; dup {
		rt.mu.Unlock()
		rt.logger.Warn("plugin already registered, skipping", "plugin", p.Name)
		return nil
	}
	rt.plugins[p.Name] = p
	rt.mu.Unlock()

	if p.Init != nil {
		config := p.Config
		if config == nil {
			config = map[string]any{}
		}
		if err := p.Init(ctx, config, rt); err != nil {
			if isInitWarning(err) {
				rt.logger.Warn("plugin init incomplete, continuing", "plugin", p.Name, "error", err)
			} else {
				return fmt.Errorf("plugin %s init: %w", p.Name, err)
			}
		}
	}

	if p.Adapter != nil {
		rt.RegisterDatabaseAdapter(p.Adapter)
	}
	for _, a := range p.Actions {
		rt.RegisterAction(a)
	}
	for _, e := range p.Evaluators {
		rt.RegisterEvaluator(e)
	}
	for _, prov := range p.Providers {
		rt.RegisterProvider(prov)
	}
	for _, m := range p.Models {
		rt.RegisterModel(m.Type, m.Handler, m.Provider, m.Priority)
	}
	for _, r := range p.Routes {
		rt.registerRoute(r)
	}
	for name, handlers := range p.Events {
		for _, h := range handlers {
			rt.RegisterEvent(name, h)
		}
	}
	for _, def := range p.Services {
		if err := rt.RegisterService(ctx, def); err != nil {
			return fmt.Errorf("plugin %s service %s: %w", p.Name, def.Type, err)
		}
	}
	for _, w := range p.TaskWorkers {
		rt.RegisterTaskWorker(w)
	}

	rt.logger.Debug("plugin registered", "plugin", p.Name)
	return nil
}

func isInitWarning(err error) bool {
	msg := err.Error()
	for _, fragment := range initWarningFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RegisterAction adds an action; duplicate names warn and are skipped.
func (rt *AgentRuntime) RegisterAction(a *plugin.Action) {
	if a == nil || a.Name == "" || a.Handler == nil {
		rt.logger.Warn("ignoring action without name or handler")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, have := range rt.actions {
		if have.Name == a.Name {
			rt.logger.Warn("action already registered, skipping", "action", a.Name)
			return
		}
	}
	rt.actions = append(rt.actions, a)
}

// RegisterEvaluator adds an evaluator; duplicate names warn and are
// skipped.
func (rt *AgentRuntime) RegisterEvaluator(e *plugin.Evaluator) {
	if e == nil || e.Name == "" || e.Handler == nil {
		rt.logger.Warn("ignoring evaluator without name or handler")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, have := range rt.evaluators {
		if have.Name == e.Name {
			rt.logger.Warn("evaluator already registered, skipping", "evaluator", e.Name)
			return
		}
	}
	rt.evaluators = append(rt.evaluators, e)
}

// RegisterProvider adds a context provider; duplicate names warn and are
// skipped.
func (rt *AgentRuntime) RegisterProvider(p *plugin.Provider) {
	if p == nil || p.Name == "" || p.Get == nil {
		rt.logger.Warn("ignoring provider without name or getter")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, have := range rt.providers {
		if have.Name == p.Name {
			rt.logger.Warn("provider already registered, skipping", "provider", p.Name)
			return
		}
	}
	rt.providers = append(rt.providers, p)
}

// RegisterTaskWorker indexes a task worker by name; duplicates warn and
// overwrite.
func (rt *AgentRuntime) RegisterTaskWorker(w *plugin.TaskWorker) {
	if w == nil || w.Name == "" || w.Execute == nil {
		rt.logger.Warn("ignoring task worker without name or executor")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, dup := rt.taskWorkers[w.Name]; dup {
		rt.logger.Warn("task worker already registered, overwriting", "worker", w.Name)
	}
	rt.taskWorkers[w.Name] = w
}

// GetTaskWorker returns the worker registered under name, or nil.
func (rt *AgentRuntime) GetTaskWorker(name string) *plugin.TaskWorker {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.taskWorkers[name]
}

func (rt *AgentRuntime) registerRoute(r plugin.Route) {
	if r.Path == "" || r.Handler == nil {
		rt.logger.Warn("ignoring route without path or handler")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes = append(rt.routes, r)
}

// Routes returns the plugin-declared HTTP routes, for the API server to
// mount.
func (rt *AgentRuntime) Routes() []plugin.Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]plugin.Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// Actions returns the registered actions in registration order.
func (rt *AgentRuntime) Actions() []*plugin.Action {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*plugin.Action, len(rt.actions))
	copy(out, rt.actions)
	return out
}

// Evaluators returns the registered evaluators in registration order.
func (rt *AgentRuntime) Evaluators() []*plugin.Evaluator {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*plugin.Evaluator, len(rt.evaluators))
	copy(out, rt.evaluators)
	return out
}

// Providers returns the registered providers in registration order.
func (rt *AgentRuntime) Providers() []*plugin.Provider {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*plugin.Provider, len(rt.providers))
	copy(out, rt.providers)
	return out
}

// PluginNames returns the names of every registered plugin.
func (rt *AgentRuntime) PluginNames() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	names := make([]string, 0, len(rt.plugins))
	for name := range rt.plugins {
		names = append(names, name)
	}
	return names
}

// RegisterEvent subscribes h to the typed event name.
func (rt *AgentRuntime) RegisterEvent(name string, h bus.Handler) {
	rt.bus.RegisterEvent(name, h)
}

// GetEvent returns the typed handlers registered for name.
func (rt *AgentRuntime) GetEvent(name string) []bus.Handler {
	return rt.bus.GetEvent(name)
}

// EmitEvent fans the payload out to every typed handler of every name.
func (rt *AgentRuntime) EmitEvent(ctx context.Context, names []string, payload map[string]any) error {
	return rt.bus.EmitEvent(ctx, names, payload)
}

// On subscribes h to the untyped emitter name.
func (rt *AgentRuntime) On(name string, h bus.Handler) {
	rt.bus.On(name, h)
}

// Off removes h from the untyped emitter name.
func (rt *AgentRuntime) Off(name string, h bus.Handler) {
	rt.bus.Off(name, h)
}

// Emit invokes the untyped handlers for name synchronously.
func (rt *AgentRuntime) Emit(ctx context.Context, name string, payload map[string]any) {
	rt.bus.Emit(ctx, name, payload)
}

// SendControlMessage emits a CONTROL_MESSAGE typed event asking connected
// frontends to toggle input for a room.
func (rt *AgentRuntime) SendControlMessage(ctx context.Context, msg *models.ControlMessage) error {
	if msg == nil {
		return &ConfigError{Reason: "control message is required"}
	}
	if msg.Action != models.ControlEnableInput && msg.Action != models.ControlDisableInput {
		return &ConfigError{Reason: fmt.Sprintf("unknown control action %q", msg.Action)}
	}
	return rt.EmitEvent(ctx, []string{models.EventControlMessage}, map[string]any{
		"roomId": msg.RoomID.String(),
		"action": msg.Action,
		"target": msg.Target,
	})
}
