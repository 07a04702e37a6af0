// Package bootstrap is the default capability set every murmur agent
// loads first: core providers, the reply pipeline, the reflection
// evaluator, and the task scheduler service.
package bootstrap

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/murmur/pkg/bus"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/tasks"
)

// Name is the plugin's registered name.
const Name = "bootstrap"

// bootstrap holds the runtime reference the event handlers need; it is
// filled in by Init, which the runtime calls before registering events.
type bootstrap struct {
	mu sync.RWMutex
	rt plugin.Runtime
}

func (b *bootstrap) runtime() plugin.Runtime {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rt
}

// New assembles the bootstrap plugin.
func New() *plugin.Plugin {
	b := &bootstrap{}
	return &plugin.Plugin{
		Name:        Name,
		Description: "Core providers, actions and the reference message pipeline",
		Init: func(ctx context.Context, config map[string]any, rt plugin.Runtime) error {
			b.mu.Lock()
			b.rt = rt
			b.mu.Unlock()
			return nil
		},
		Providers: []*plugin.Provider{
			characterProvider(),
			timeProvider(),
			recentMessagesProvider(),
			actionStateProvider(),
		},
		Actions: []*plugin.Action{
			replyAction(),
			ignoreAction(),
			sendMessageAction(),
		},
		Evaluators: []*plugin.Evaluator{
			reflectionEvaluator(),
		},
		Events: map[string][]bus.Handler{
			models.EventMessageReceived: {b.onMessageReceived},
			models.EventControlMessage:  {b.onControlMessage},
		},
		Services: []*plugin.ServiceDefinition{
			tasks.Definition(),
		},
	}
}
