// Package models contains the persistent records and turn-pipeline types
// shared by the runtime, the store adapters, and plugins.
package models

import "github.com/google/uuid"

// Character is the agent configuration an operator supplies: identity,
// personality text, settings, and the ordered plugin list. It is the
// load-time counterpart of the persisted Agent record.
type Character struct {
	ID              *uuid.UUID          `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string              `json:"name" yaml:"name"`
	Username        string              `json:"username,omitempty" yaml:"username,omitempty"`
	Bio             []string            `json:"bio,omitempty" yaml:"bio,omitempty"`
	System          string              `json:"system,omitempty" yaml:"system,omitempty"`
	Topics          []string            `json:"topics,omitempty" yaml:"topics,omitempty"`
	Adjectives      []string            `json:"adjectives,omitempty" yaml:"adjectives,omitempty"`
	MessageExamples [][]MessageExample  `json:"messageExamples,omitempty" yaml:"messageExamples,omitempty"`
	PostExamples    []string            `json:"postExamples,omitempty" yaml:"postExamples,omitempty"`
	Style           map[string][]string `json:"style,omitempty" yaml:"style,omitempty"`
	Plugins         []string            `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Settings        map[string]any      `json:"settings,omitempty" yaml:"settings,omitempty"`
	Secrets         map[string]string   `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// MessageExample is one conversational exchange used in prompt examples.
type MessageExample struct {
	Name    string  `json:"name" yaml:"name"`
	Content Content `json:"content" yaml:"content"`
}

// Agent is the persisted form of a Character plus bookkeeping columns.
type Agent struct {
	Character

	ID        uuid.UUID `json:"id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}
