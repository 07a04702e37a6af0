package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/murmur/pkg/ids"
)

// Run IDs and action scopes are context values, never runtime fields, so
// concurrent turns cannot observe each other's attribution.

type runIDKey struct{}
type actionScopeKey struct{}

// promptRecord is one captured model prompt, attributed to the action in
// whose scope the model call happened.
type promptRecord struct {
	ModelType string `json:"modelType"`
	Prompt    string `json:"prompt"`
	Timestamp int64  `json:"timestamp"`
}

// actionScope tracks the currently executing action for model-call
// attribution. Prompt appends are guarded: a handler may fan out its own
// model calls.
type actionScope struct {
	ActionName string
	ActionID   uuid.UUID

	mu      sync.Mutex
	prompts []promptRecord
}

func (s *actionScope) addPrompt(p promptRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
}

func (s *actionScope) snapshotPrompts() []promptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]promptRecord, len(s.prompts))
	copy(out, s.prompts)
	return out
}

func withActionScope(ctx context.Context, s *actionScope) context.Context {
	return context.WithValue(ctx, actionScopeKey{}, s)
}

func actionScopeFrom(ctx context.Context) *actionScope {
	s, _ := ctx.Value(actionScopeKey{}).(*actionScope)
	return s
}

// StartRun derives a context carrying a fresh run ID. All model logs and
// action memories produced under the returned context carry this ID.
func (rt *AgentRuntime) StartRun(ctx context.Context) (context.Context, uuid.UUID) {
	id := ids.New()
	return context.WithValue(ctx, runIDKey{}, id), id
}

// EndRun returns a context with the run cleared.
func (rt *AgentRuntime) EndRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, runIDKey{}, uuid.Nil)
}

// CurrentRunID returns the run in scope, minting a one-off ID when none
// is, so stray model calls still produce attributable logs.
func (rt *AgentRuntime) CurrentRunID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(runIDKey{}).(uuid.UUID); ok && id != uuid.Nil {
		return id
	}
	return ids.New()
}
