// Package plugin defines the capability surface a murmur plugin declares
// and the runtime interface those capabilities program against. The
// Runtime interface lives here, not in pkg/runtime, to avoid the import
// cycle between the kernel and its plugins.
package plugin

import (
	"context"
	"log/slog"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/bus"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// Callback delivers a piece of outbound content to the turn's transport
// (for example a chat reply) while an action or evaluator is running.
type Callback func(ctx context.Context, content models.Content) ([]*models.Memory, error)

// ModelHandler serves one model type. The runtime travels as an explicit
// argument; params pass through from the caller unchanged. A nil params
// value on TEXT_EMBEDDING is the dimension probe: handlers answer it with
// a zero vector of their configured dimension.
type ModelHandler func(ctx context.Context, rt Runtime, params any) (any, error)

// ActionHandler executes one action step.
type ActionHandler func(ctx context.Context, rt Runtime, m *models.Memory, state *models.State, opts *ActionOptions, cb Callback, responses []*models.Memory) (*models.ActionResult, error)

// Validator decides whether a capability applies to the current message.
type Validator func(ctx context.Context, rt Runtime, m *models.Memory, state *models.State) (bool, error)

// Action is a named capability the engine can dispatch to. Similes are
// alternate names used during resolution.
type Action struct {
	Name        string
	Similes     []string
	Description string
	Examples    [][]models.MessageExample
	Validate    Validator
	Handler     ActionHandler
}

// Provider is a read-only context source. Private providers are excluded
// from default composition and only run when named in an include list;
// dynamic providers additionally only run on demand. Lower positions
// compose earlier.
type Provider struct {
	Name        string
	Description string
	Position    int
	Private     bool
	Dynamic     bool
	Get         func(ctx context.Context, rt Runtime, m *models.Memory, state *models.State) (*models.ProviderResult, error)
}

// EvaluatorHandler runs the post-response side of an evaluator.
type EvaluatorHandler func(ctx context.Context, rt Runtime, m *models.Memory, state *models.State, cb Callback, responses []*models.Memory) error

// Evaluator is a post-turn reflection step. When AlwaysRun is false it is
// skipped for turns the agent did not respond to.
type Evaluator struct {
	Name        string
	Similes     []string
	Description string
	AlwaysRun   bool
	Validate    Validator
	Handler     EvaluatorHandler
}

// ModelRegistration binds a handler to a model type at a priority.
type ModelRegistration struct {
	Type     models.ModelType
	Handler  ModelHandler
	Provider string
	Priority int
}

// Service is a stateful instance started by a ServiceDefinition and
// stopped with the runtime.
type Service interface {
	Stop(ctx context.Context) error
}

// ServiceDefinition describes how to start a service. Name defaults to
// Type; lookups by name are case-insensitive. RegisterSendHandlers, when
// set, runs right after a successful start.
type ServiceDefinition struct {
	Type                 string
	Name                 string
	Start                func(ctx context.Context, rt Runtime) (Service, error)
	RegisterSendHandlers func(rt Runtime, svc Service)
}

// SendHandler delivers outbound content for one transport source.
type SendHandler func(ctx context.Context, rt Runtime, target *models.TargetInfo, content models.Content) error

// Route is an HTTP endpoint a plugin mounts on the runtime's API server.
type Route struct {
	Method  string
	Path    string
	Handler func(c *echo.Context) error
}

// TaskWorker executes tasks of a matching name claimed by the scheduler.
type TaskWorker struct {
	Name     string
	Validate Validator
	Execute  func(ctx context.Context, rt Runtime, options map[string]any, task *models.Task) error
}

// Plugin bundles the capabilities one extension contributes. Every list
// may be empty; Init, when present, runs before any registration.
type Plugin struct {
	Name        string
	Description string
	Config      map[string]any
	Init        func(ctx context.Context, config map[string]any, rt Runtime) error

	Adapter     store.Adapter
	Actions     []*Action
	Evaluators  []*Evaluator
	Providers   []*Provider
	Models      []ModelRegistration
	Routes      []Route
	Events      map[string][]bus.Handler
	Services    []*ServiceDefinition
	TaskWorkers []*TaskWorker
}

// ActionContext exposes earlier steps' results to the running action.
type ActionContext struct {
	PreviousResults []*models.ActionResult
}

// GetPreviousResult returns the first accumulated result whose
// data["actionName"] matches name, or nil.
func (c *ActionContext) GetPreviousResult(name string) *models.ActionResult {
	if c == nil {
		return nil
	}
	for _, r := range c.PreviousResults {
		if r.Data != nil && r.Data["actionName"] == name {
			return r
		}
	}
	return nil
}

// ActionOptions is what the engine hands each action handler: the
// cross-action context and a snapshot of the plan (nil on single-action
// turns). The snapshot is the handler's to mutate; the engine keeps the
// authoritative ledger.
type ActionOptions struct {
	Context *ActionContext
	Plan    *models.ActionPlan
}

// Runtime is the kernel surface plugins program against, implemented by
// *runtime.AgentRuntime. It embeds the full store adapter: every
// persistence operation is available to plugins with identical semantics.
type Runtime interface {
	store.Adapter

	AgentID() uuid.UUID
	Character() *models.Character
	Logger() *slog.Logger
	GetSetting(key string) any
	SetSetting(key string, value any, secret bool)

	// Capability registration.
	RegisterPlugin(ctx context.Context, p *Plugin) error
	RegisterAction(a *Action)
	RegisterEvaluator(e *Evaluator)
	RegisterProvider(p *Provider)
	RegisterModel(modelType models.ModelType, handler ModelHandler, provider string, priority int)
	RegisterService(ctx context.Context, def *ServiceDefinition) error
	RegisterEvent(name string, h bus.Handler)
	RegisterTaskWorker(w *TaskWorker)
	RegisterSendHandler(source string, h SendHandler)
	RegisterDatabaseAdapter(adapter store.Adapter)

	// Services.
	GetService(name string) Service
	GetServicesByType(serviceType string) []Service
	HasService(serviceType string) bool
	GetRegisteredServiceTypes() []string
	GetTaskWorker(name string) *TaskWorker

	// Models.
	UseModel(ctx context.Context, modelType models.ModelType, params any) (any, error)
	UseModelFrom(ctx context.Context, modelType models.ModelType, params any, provider string) (any, error)
	GetModel(modelType models.ModelType, provider string) ModelHandler

	// Turn pipeline.
	ComposeState(ctx context.Context, m *models.Memory, includeList []string, onlyInclude, skipCache bool) (*models.State, error)
	ProcessActions(ctx context.Context, m *models.Memory, responses []*models.Memory, state *models.State, cb Callback) error
	Evaluate(ctx context.Context, m *models.Memory, state *models.State, didRespond bool, cb Callback, responses []*models.Memory) ([]*Evaluator, error)

	// Runs.
	StartRun(ctx context.Context) (context.Context, uuid.UUID)
	EndRun(ctx context.Context) context.Context
	CurrentRunID(ctx context.Context) uuid.UUID

	// Events.
	EmitEvent(ctx context.Context, names []string, payload map[string]any) error
	GetEvent(name string) []bus.Handler
	On(name string, h bus.Handler)
	Off(name string, h bus.Handler)
	Emit(ctx context.Context, name string, payload map[string]any)

	// Routing.
	SendMessageToTarget(ctx context.Context, target *models.TargetInfo, content models.Content) error
	SendControlMessage(ctx context.Context, msg *models.ControlMessage) error

	// Migrations (no-op for adapters without schema management).
	RunMigrations(ctx context.Context, paths ...string) error
}
