package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// RegisterService starts the defined service and indexes it by type and
// by lowercase name. Before Initialize completes, definitions are queued
// and drained once the store is ready, so services can assume a working
// adapter in Start.
func (rt *AgentRuntime) RegisterService(ctx context.Context, def *plugin.ServiceDefinition) error {
	if def == nil || def.Type == "" {
		return &ConfigError{Reason: "service definition must have a type"}
	}
	if def.Start == nil {
		return &ConfigError{Reason: fmt.Sprintf("service %s has no start function", def.Type)}
	}

	rt.mu.Lock()
	if !rt.initialized {
		rt.serviceQueue = append(rt.serviceQueue, def)
		rt.mu.Unlock()
		rt.logger.Debug("service registration deferred until initialization", "service", def.Type)
		return nil
	}
	rt.mu.Unlock()

	instance, err := def.Start(ctx, rt)
	if err != nil {
		return fmt.Errorf("start service %s: %w", def.Type, err)
	}

	name := def.Name
	if name == "" {
		name = def.Type
	}

	rt.mu.Lock()
	rt.services[def.Type] = append(rt.services[def.Type], instance)
	rt.serviceDefs[def.Type] = append(rt.serviceDefs[def.Type], def)
	rt.servicesByName[strings.ToLower(name)] = instance
	rt.serviceOrder = append(rt.serviceOrder, instance)
	rt.mu.Unlock()

	if def.RegisterSendHandlers != nil {
		def.RegisterSendHandlers(rt, instance)
	}

	rt.logger.Debug("service registered", "service", def.Type, "name", name)
	return nil
}

// GetService looks the service up by name (case-insensitive) first, then
// falls back to treating name as a type and returning the first instance.
// Nil when absent.
func (rt *AgentRuntime) GetService(name string) plugin.Service {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if svc, ok := rt.servicesByName[strings.ToLower(name)]; ok {
		return svc
	}
	if instances := rt.services[name]; len(instances) > 0 {
		return instances[0]
	}
	return nil
}

// GetServicesByType returns every instance registered under serviceType,
// in registration order.
func (rt *AgentRuntime) GetServicesByType(serviceType string) []plugin.Service {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	instances := rt.services[serviceType]
	if len(instances) == 0 {
		return nil
	}
	out := make([]plugin.Service, len(instances))
	copy(out, instances)
	return out
}

// HasService reports whether any instance is registered under serviceType.
func (rt *AgentRuntime) HasService(serviceType string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.services[serviceType]) > 0
}

// GetRegisteredServiceTypes lists the types with at least one instance.
func (rt *AgentRuntime) GetRegisteredServiceTypes() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	types := make([]string, 0, len(rt.services))
	for t := range rt.services {
		types = append(types, t)
	}
	return types
}

// RegisterSendHandler installs the outbound delivery handler for a
// transport source; a duplicate source warns and overwrites.
func (rt *AgentRuntime) RegisterSendHandler(source string, h plugin.SendHandler) {
	if source == "" || h == nil {
		rt.logger.Warn("ignoring send handler without source or function")
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, dup := rt.sendHandlers[source]; dup {
		rt.logger.Warn("send handler already registered, overwriting", "source", source)
	}
	rt.sendHandlers[source] = h
}

// SendMessageToTarget delivers content through the handler registered for
// target.Source. NotFoundError when no handler matches.
func (rt *AgentRuntime) SendMessageToTarget(ctx context.Context, target *models.TargetInfo, content models.Content) error {
	if target == nil || target.Source == "" {
		return &NotFoundError{Kind: "send handler", Name: ""}
	}
	rt.mu.RLock()
	h, ok := rt.sendHandlers[target.Source]
	rt.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "send handler", Name: target.Source}
	}
	return h(ctx, rt, target, content)
}
