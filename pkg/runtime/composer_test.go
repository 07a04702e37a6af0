package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/ids"
	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

func staticProvider(name string, position int, private bool, values map[string]any, text string) *plugin.Provider {
	return &plugin.Provider{
		Name:     name,
		Position: position,
		Private:  private,
		Get: func(ctx context.Context, rt plugin.Runtime, m *models.Memory, prior *models.State) (*models.ProviderResult, error) {
			return &models.ProviderResult{Values: values, Text: text}, nil
		},
	}
}

func TestComposeStateMergeOrder(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(staticProvider("A", 10, false, map[string]any{"a": 1}, "A"))
	rt.RegisterProvider(staticProvider("B", 5, false, map[string]any{"b": 2, "a": 9}, "B"))
	rt.RegisterProvider(staticProvider("C", 20, true, map[string]any{"c": 3}, "C"))

	m := newMessage(ids.New(), "hello")
	state, err := rt.ComposeState(ctx, m, nil, false, false)
	require.NoError(t, err)

	assert.Equal(t, "B\nA", state.Text)
	assert.Equal(t, 1, state.Values["a"], "A composes after B and overrides")
	assert.Equal(t, 2, state.Values["b"])
	assert.NotContains(t, state.Values, "c", "private providers are excluded by default")
	assert.Equal(t, state.Text, state.Values["providers"])

	providerData := state.Data["providers"].(map[string]*models.ProviderResult)
	assert.Contains(t, providerData, "A")
	assert.Contains(t, providerData, "B")
	assert.NotContains(t, providerData, "C")
}

func TestComposeStateIncludeListPullsPrivate(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(staticProvider("PUBLIC", 0, false, map[string]any{"p": 1}, "public"))
	rt.RegisterProvider(staticProvider("SECRETIVE", -1, true, map[string]any{"s": 2}, "secretive"))

	state, err := rt.ComposeState(ctx, newMessage(ids.New(), "x"), []string{"SECRETIVE"}, false, false)
	require.NoError(t, err)
	assert.Equal(t, "secretive\npublic", state.Text)
	assert.Equal(t, 2, state.Values["s"])
}

func TestComposeStateOnlyInclude(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(staticProvider("ONE", 0, false, map[string]any{"one": 1}, "one"))
	rt.RegisterProvider(staticProvider("TWO", 1, false, map[string]any{"two": 2}, "two"))

	state, err := rt.ComposeState(ctx, newMessage(ids.New(), "x"), []string{"TWO"}, true, false)
	require.NoError(t, err)
	assert.Equal(t, "two", state.Text)
	assert.NotContains(t, state.Values, "one")
}

func TestComposeStateDynamicProviderOnDemandOnly(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(&plugin.Provider{
		Name:    "LAZY",
		Dynamic: true,
		Get: func(ctx context.Context, r plugin.Runtime, m *models.Memory, prior *models.State) (*models.ProviderResult, error) {
			return &models.ProviderResult{Text: "lazy"}, nil
		},
	})

	state, err := rt.ComposeState(ctx, newMessage(ids.New(), "x"), nil, false, false)
	require.NoError(t, err)
	assert.Empty(t, state.Text)

	state, err = rt.ComposeState(ctx, newMessage(ids.New(), "x"), []string{"LAZY"}, false, false)
	require.NoError(t, err)
	assert.Equal(t, "lazy", state.Text)
}

func TestComposeStateRetainsCachedProviders(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(staticProvider("STABLE", 0, false, map[string]any{"stable": "v1"}, "stable"))
	rt.RegisterProvider(staticProvider("EXTRA", 5, true, map[string]any{"extra": true}, "extra"))

	m := newMessage(ids.New(), "hello")

	// First compose pulls EXTRA in via the include list.
	_, err := rt.ComposeState(ctx, m, []string{"EXTRA"}, false, false)
	require.NoError(t, err)

	// Second compose refreshes only STABLE; EXTRA's cached entry and
	// values are retained but fresh values win.
	state, err := rt.ComposeState(ctx, m, nil, false, false)
	require.NoError(t, err)

	providerData := state.Data["providers"].(map[string]*models.ProviderResult)
	assert.Contains(t, providerData, "EXTRA")
	assert.Equal(t, true, state.Values["extra"])
	assert.Equal(t, "stable", state.Text, "unrefreshed providers do not contribute text")
}

func TestComposeStateProviderFailureFailsComposition(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	rt.RegisterProvider(staticProvider("OK", 0, false, nil, "fine"))
	rt.RegisterProvider(&plugin.Provider{
		Name: "BROKEN",
		Get: func(ctx context.Context, r plugin.Runtime, m *models.Memory, prior *models.State) (*models.ProviderResult, error) {
			return nil, errors.New("no data source")
		},
	})

	_, err := rt.ComposeState(ctx, newMessage(ids.New(), "x"), nil, false, false)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "BROKEN", provErr.Provider)
}

func TestComposeStateSkipCache(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	calls := 0
	rt.RegisterProvider(&plugin.Provider{
		Name: "COUNTER",
		Get: func(ctx context.Context, r plugin.Runtime, m *models.Memory, prior *models.State) (*models.ProviderResult, error) {
			calls++
			if prior != nil {
				return &models.ProviderResult{Text: "warm"}, nil
			}
			return &models.ProviderResult{Text: "cold"}, nil
		},
	})

	m := newMessage(ids.New(), "x")
	first, err := rt.ComposeState(ctx, m, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "cold", first.Text)

	second, err := rt.ComposeState(ctx, m, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "warm", second.Text, "second compose sees the cached prior state")

	third, err := rt.ComposeState(ctx, m, nil, false, true)
	require.NoError(t, err)
	assert.Equal(t, "cold", third.Text, "skipCache composes from scratch")
	assert.Equal(t, 3, calls)
}
