// Murmur agent server — loads a character, assembles its plugins, and
// serves the agent over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/murmur/pkg/api"
	"github.com/codeready-toolchain/murmur/pkg/config"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/plugins/bootstrap"
	"github.com/codeready-toolchain/murmur/pkg/plugins/mcp"
	"github.com/codeready-toolchain/murmur/pkg/plugins/openai"
	"github.com/codeready-toolchain/murmur/pkg/runtime"
	"github.com/codeready-toolchain/murmur/pkg/store"
	"github.com/codeready-toolchain/murmur/pkg/store/memstore"
	"github.com/codeready-toolchain/murmur/pkg/store/pgstore"
	"github.com/codeready-toolchain/murmur/pkg/version"
)

// builtinPlugins maps the names a character may list under plugins to
// their constructors.
var builtinPlugins = map[string]func() *plugin.Plugin{
	"bootstrap": bootstrap.New,
	"openai":    openai.New,
	"mcp":       mcp.New,
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// newAdapter picks the store: PostgreSQL when DATABASE_URL is set, the
// in-memory store otherwise. Migrations run here, before the runtime
// touches the schema.
func newAdapter(ctx context.Context, logger *slog.Logger) (store.Adapter, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Info("No DATABASE_URL set, using in-memory store")
		return memstore.New(), nil
	}

	st := pgstore.New(dsn, logger)
	if err := st.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("PostgreSQL store ready")
	return st, nil
}

// resolvePlugins maps the character's plugin list to constructors. The
// bootstrap plugin is always included, listed or not.
func resolvePlugins(names []string) ([]*plugin.Plugin, error) {
	seen := map[string]bool{}
	plugins := []*plugin.Plugin{}
	for _, name := range append([]string{"bootstrap"}, names...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		ctor, ok := builtinPlugins[name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q (available: bootstrap, openai, mcp)", name)
		}
		plugins = append(plugins, ctor())
	}
	return plugins, nil
}

func main() {
	characterPath := flag.String("character",
		getEnv("CHARACTER_FILE", "./character.yaml"),
		"Path to the character file (.yaml or .json)")
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	logger := newLogger()
	httpPort := getEnv("HTTP_PORT", "3000")

	slog.Info("Starting murmur",
		"version", version.Full(),
		"http_port", httpPort,
		"character", *characterPath)

	ctx := context.Background()

	// 1. Load the character
	character, err := config.LoadCharacter(*characterPath)
	if err != nil {
		slog.Error("Failed to load character", "error", err)
		os.Exit(1)
	}

	// 2. Pick and prepare the store adapter
	adapter, err := newAdapter(ctx, logger)
	if err != nil {
		slog.Error("Failed to prepare store", "error", err)
		os.Exit(1)
	}

	// 3. Assemble plugins
	plugins, err := resolvePlugins(character.Plugins)
	if err != nil {
		slog.Error("Failed to resolve plugins", "error", err)
		os.Exit(1)
	}

	// 4. Build and initialize the runtime
	rt, err := runtime.New(runtime.Options{
		Character: character,
		Adapter:   adapter,
		Plugins:   plugins,
		Settings:  config.LoadSettings(os.Environ()),
		Logger:    logger,
	})
	if err != nil {
		slog.Error("Failed to build runtime", "error", err)
		os.Exit(1)
	}
	if err := rt.Initialize(ctx); err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	// 5. Start the HTTP server (non-blocking)
	httpServer := api.NewServer(rt, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Murmur started successfully",
		"agent", character.Name,
		"agentId", rt.AgentID())

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: drain HTTP first, then stop the runtime and
	// close the store.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := rt.Close(ctx); err != nil {
		slog.Error("Runtime close error", "error", err)
	}
	slog.Info("Shutdown complete")
}
