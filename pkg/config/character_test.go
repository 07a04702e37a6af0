package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCharacterFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCharacterYAML(t *testing.T) {
	path := writeCharacterFile(t, "agent.yaml", `
name: Ada
bio:
  - Mathematician turned agent.
topics:
  - computing
settings:
  RECENT_MESSAGES_COUNT: 5
`)
	character, err := LoadCharacter(path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", character.Name)
	assert.Equal(t, []string{"Mathematician turned agent."}, character.Bio, "file bio overrides the default")
	assert.Equal(t, []string{"computing"}, character.Topics)
	assert.Equal(t, 5, character.Settings["RECENT_MESSAGES_COUNT"])
	assert.NotEmpty(t, character.System, "default system prompt fills the gap")
	assert.Equal(t, []string{"bootstrap"}, character.Plugins)
}

func TestLoadCharacterJSON(t *testing.T) {
	path := writeCharacterFile(t, "agent.json", `{
  "name": "Grace",
  "system": "You are Grace.",
  "plugins": ["bootstrap", "openai"]
}`)
	character, err := LoadCharacter(path)
	require.NoError(t, err)
	assert.Equal(t, "Grace", character.Name)
	assert.Equal(t, "You are Grace.", character.System, "file system prompt wins over the default")
	assert.Equal(t, []string{"bootstrap", "openai"}, character.Plugins)
}

func TestLoadCharacterExpandsEnv(t *testing.T) {
	t.Setenv("TEST_AGENT_NAME", "EnvBot")
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeCharacterFile(t, "agent.yaml", `
name: {{.TEST_AGENT_NAME}}
secrets:
  OPENAI_API_KEY: {{.TEST_API_KEY}}
`)
	character, err := LoadCharacter(path)
	require.NoError(t, err)
	assert.Equal(t, "EnvBot", character.Name)
	assert.Equal(t, "sk-test-123", character.Secrets["OPENAI_API_KEY"])
}

func TestLoadCharacterMissingName(t *testing.T) {
	path := writeCharacterFile(t, "agent.yaml", `
bio:
  - Anonymous.
`)
	_, err := LoadCharacter(path)
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "name", vErr.Field)
}

func TestLoadCharacterErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCharacter(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeCharacterFile(t, "agent.toml", `name = "x"`)
		_, err := LoadCharacter(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported character file extension")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeCharacterFile(t, "agent.yaml", "name: [unclosed")
		_, err := LoadCharacter(path)
		require.Error(t, err)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_TEST_VALUE", "hello")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "name: Ada", "name: Ada"},
		{"expansion", "key: {{.EXPAND_TEST_VALUE}}", "key: hello"},
		{"missing variable", "key: {{.EXPAND_TEST_MISSING_VAR}}", "key: "},
		{"dollar untouched", `pattern: "^secret.*$"`, `pattern: "^secret.*$"`},
		{"malformed template passthrough", "key: {{.unclosed", "key: {{.unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.in))))
		})
	}
}

func TestLoadSettings(t *testing.T) {
	settings := LoadSettings([]string{
		"LOG_LEVEL=debug",
		"DATABASE_URL=postgres://u:p@host/db?sslmode=disable",
		"EMPTY=",
		"=no-key",
		"malformed",
	})
	assert.Equal(t, "debug", settings["LOG_LEVEL"])
	assert.Equal(t, "postgres://u:p@host/db?sslmode=disable", settings["DATABASE_URL"], "split on first = only")
	assert.Equal(t, "", settings["EMPTY"])
	assert.NotContains(t, settings, "")
	assert.NotContains(t, settings, "malformed")
	assert.Len(t, settings, 3)
}
