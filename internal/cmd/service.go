// Package cmd wires the proxy's long-running service together: it builds the
// credential client pool, opens the persistent state store, starts the HTTP
// server and the config watcher, and handles graceful shutdown.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grokproxy/GrokProxyAPI/internal/api"
	"github.com/grokproxy/GrokProxyAPI/internal/config"
	"github.com/grokproxy/GrokProxyAPI/internal/registry"
	"github.com/grokproxy/GrokProxyAPI/internal/store"
	_ "github.com/grokproxy/GrokProxyAPI/internal/translator"
	"github.com/grokproxy/GrokProxyAPI/internal/watcher"
	log "github.com/sirupsen/logrus"
)

// StartService runs the proxy until it receives an interrupt signal.
//
// Parameters:
//   - cfg: The loaded application configuration
//   - configPath: The path of the config file, watched for hot reloads
func StartService(cfg *config.Config, configPath string) {
	// Open the persistent credential state database.
	stateStore, errStore := store.Open(cfg.StateFile)
	if errStore != nil {
		log.Fatalf("failed to open state store: %v", errStore)
	}
	defer func() {
		_ = stateStore.Close()
	}()

	// Build one client per configured cookie credential.
	cliClients := watcher.BuildClients(cfg, stateStore)
	if len(cliClients) == 0 {
		log.Warn("no grok cookies configured, the proxy will reject all requests")
	}
	log.Infof("initialized %d grok credential(s), %d model(s) available",
		len(cliClients), len(registry.GetGrokModels()))

	// Create the API server.
	apiServer := api.NewServer(cfg, cliClients)

	// Start the config watcher for hot reloads.
	watcherCtx, watcherCancel := context.WithCancel(context.Background())
	defer watcherCancel()

	configWatcher, errWatcher := watcher.NewWatcher(configPath, stateStore, apiServer.UpdateClients)
	if errWatcher != nil {
		log.Errorf("failed to create config watcher, hot reload disabled: %v", errWatcher)
	} else {
		configWatcher.SetConfig(cfg)
		configWatcher.SetClients(cliClients)
		if errStart := configWatcher.Start(watcherCtx); errStart != nil {
			log.Errorf("failed to start config watcher, hot reload disabled: %v", errStart)
		}
		defer func() {
			_ = configWatcher.Stop()
		}()
	}

	// Start the HTTP server.
	go func() {
		log.Infof("starting API server on port %d", cfg.Port)
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server failed to start: %v", err)
		}
	}()

	// Periodically drop expired quota marks so cooled-down credentials
	// count toward model availability again.
	quotaTicker := time.NewTicker(time.Minute)
	defer quotaTicker.Stop()
	go func() {
		for range quotaTicker.C {
			registry.GetGlobalRegistry().CleanupExpiredQuotas()
		}
	}()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Debug("received shutdown signal, cleaning up...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		log.Debugf("error stopping API server: %v", err)
	}

	for _, cliClient := range cliClients {
		log.Infof("credential %s served %d request(s) in total",
			cliClient.GetCredentialID(), stateStore.UsageCount(cliClient.GetCredentialID()))
	}

	log.Debug("cleanup completed, exiting")
}
