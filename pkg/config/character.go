// Package config loads agent character files and process settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/murmur/pkg/models"
)

// ValidationError reports one invalid character field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid character: field %q: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DefaultCharacter returns the baseline every loaded character is merged
// over. It carries no name: identity always comes from the file.
func DefaultCharacter() *models.Character {
	return &models.Character{
		Bio: []string{
			"A helpful conversational agent.",
		},
		System: "You are a helpful assistant. Respond concisely and stay on topic.",
		Style: map[string][]string{
			"all": {
				"be clear and direct",
				"keep responses short unless asked for detail",
			},
		},
		Plugins: []string{"bootstrap"},
	}
}

// LoadCharacter reads a character from a YAML or JSON file (chosen by
// extension), expands {{.ENV_VAR}} references, merges defaults underneath
// (the file wins), and validates the result.
func LoadCharacter(path string) (*models.Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character file: %w", err)
	}
	data = ExpandEnv(data)

	var character models.Character
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &character)
	case ".json":
		err = json.Unmarshal(data, &character)
	default:
		return nil, fmt.Errorf("unsupported character file extension %q (want .yaml, .yml, or .json)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse character file %s: %w", path, err)
	}

	if err := mergo.Merge(&character, DefaultCharacter()); err != nil {
		return nil, fmt.Errorf("merge character defaults: %w", err)
	}
	if err := Validate(&character); err != nil {
		return nil, err
	}
	return &character, nil
}

// Validate checks the invariants a character must satisfy before the
// runtime will boot with it.
func Validate(character *models.Character) error {
	if strings.TrimSpace(character.Name) == "" {
		return &ValidationError{Field: "name", Err: errors.New("is required")}
	}
	return nil
}
