package runtime

import (
	"fmt"

	"github.com/codeready-toolchain/murmur/pkg/models"
)

// ConfigError marks a fatal misconfiguration surfaced during construction
// or initialization.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("runtime config: %s", e.Reason)
}

// NotFoundError marks a lookup miss for a registered capability: a model
// type with no handler, a send-handler source with no handler, an unknown
// action.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s registered for %q", e.Kind, e.Name)
}

// ModelError wraps a handler failure inside UseModel.
type ModelError struct {
	Type models.ModelType
	Err  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Type, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ProviderError wraps a provider failure during state composition. One
// failing provider fails the whole composition.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
