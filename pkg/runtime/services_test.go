package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

type fakeService struct {
	name    string
	stopped *[]string
}

func (s *fakeService) Stop(ctx context.Context) error {
	*s.stopped = append(*s.stopped, s.name)
	return nil
}

func serviceDef(serviceType, name string, stopped *[]string) *plugin.ServiceDefinition {
	return &plugin.ServiceDefinition{
		Type: serviceType,
		Name: name,
		Start: func(ctx context.Context, rt plugin.Runtime) (plugin.Service, error) {
			n := name
			if n == "" {
				n = serviceType
			}
			return &fakeService{name: n, stopped: stopped}, nil
		},
	}
}

func TestRegisterServiceDuality(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	var stopped []string

	require.NoError(t, rt.RegisterService(ctx, serviceDef("cache", "RedisCache", &stopped)))

	byName := rt.GetService("rediscache")
	require.NotNil(t, byName, "name lookup is case-insensitive")
	byType := rt.GetServicesByType("cache")
	require.Len(t, byType, 1)
	assert.Same(t, byName, byType[0])
	assert.True(t, rt.HasService("cache"))
	assert.Contains(t, rt.GetRegisteredServiceTypes(), "cache")
}

func TestGetServiceFallsBackToType(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	var stopped []string

	require.NoError(t, rt.RegisterService(ctx, serviceDef("mailer", "primary", &stopped)))
	require.NoError(t, rt.RegisterService(ctx, serviceDef("mailer", "secondary", &stopped)))

	svc := rt.GetService("mailer")
	require.NotNil(t, svc)
	assert.Equal(t, "primary", svc.(*fakeService).name, "type fallback returns the first instance")
	assert.Len(t, rt.GetServicesByType("mailer"), 2)
	assert.Nil(t, rt.GetService("unknown"))
}

func TestRegisterServiceRequiresType(t *testing.T) {
	rt := newTestRuntime(t)
	var cfgErr *ConfigError
	err := rt.RegisterService(context.Background(), &plugin.ServiceDefinition{Name: "anonymous"})
	require.ErrorAs(t, err, &cfgErr)
}

func TestServiceRegistrationDeferredUntilInitialize(t *testing.T) {
	opts := testOptions()
	rt, err := New(opts)
	require.NoError(t, err)
	ctx := context.Background()

	var stopped []string
	started := false
	require.NoError(t, rt.RegisterService(ctx, &plugin.ServiceDefinition{
		Type: "deferred",
		Start: func(ctx context.Context, r plugin.Runtime) (plugin.Service, error) {
			// The store must already be open when Start runs.
			ready, err := r.IsReady(ctx)
			require.NoError(t, err)
			require.True(t, ready)
			started = true
			return &fakeService{name: "deferred", stopped: &stopped}, nil
		},
	}))
	assert.False(t, started, "registration before Initialize is queued")

	require.NoError(t, rt.Initialize(ctx))
	assert.True(t, started)
	assert.NotNil(t, rt.GetService("deferred"))
}

func TestStopReverseOrder(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	var stopped []string

	require.NoError(t, rt.RegisterService(ctx, serviceDef("first", "", &stopped)))
	require.NoError(t, rt.RegisterService(ctx, serviceDef("second", "", &stopped)))
	require.NoError(t, rt.RegisterService(ctx, serviceDef("third", "", &stopped)))

	rt.Stop(ctx)
	assert.Equal(t, []string{"third", "second", "first"}, stopped)

	// Stop is idempotent.
	rt.Stop(ctx)
	assert.Len(t, stopped, 3)
}

func TestRegisterSendHandlersHook(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	var stopped []string

	def := serviceDef("chat", "", &stopped)
	def.RegisterSendHandlers = func(r plugin.Runtime, svc plugin.Service) {
		r.RegisterSendHandler("chat", func(ctx context.Context, r plugin.Runtime, target *models.TargetInfo, content models.Content) error {
			return nil
		})
	}
	require.NoError(t, rt.RegisterService(ctx, def))

	err := rt.SendMessageToTarget(ctx, &models.TargetInfo{Source: "chat"}, models.Content{Text: "hi"})
	assert.NoError(t, err)
}

func TestSendMessageToTargetUnknownSource(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.SendMessageToTarget(context.Background(), &models.TargetInfo{Source: "carrier-pigeon"}, models.Content{})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "carrier-pigeon", notFound.Name)
}

func TestSendHandlerOverwrite(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	var hit string
	rt.RegisterSendHandler("ws", func(ctx context.Context, r plugin.Runtime, target *models.TargetInfo, content models.Content) error {
		hit = "old"
		return nil
	})
	rt.RegisterSendHandler("ws", func(ctx context.Context, r plugin.Runtime, target *models.TargetInfo, content models.Content) error {
		hit = "new"
		return nil
	})

	require.NoError(t, rt.SendMessageToTarget(ctx, &models.TargetInfo{Source: "ws"}, models.Content{}))
	assert.Equal(t, "new", hit)
}
