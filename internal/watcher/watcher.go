// Package watcher provides file system monitoring for the proxy.
// It watches the configuration file for changes and rebuilds the credential
// client pool when the file is modified, supporting hot-reloading without a
// restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/grokproxy/GrokProxyAPI/internal/client"
	"github.com/grokproxy/GrokProxyAPI/internal/config"
	"github.com/grokproxy/GrokProxyAPI/internal/interfaces"
	"github.com/grokproxy/GrokProxyAPI/internal/store"
	"github.com/grokproxy/GrokProxyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

// Watcher manages file watching for the configuration file.
type Watcher struct {
	configPath     string
	config         *config.Config
	stateStore     *store.CredentialStore
	clients        []interfaces.Client
	clientsMutex   sync.RWMutex
	reloadCallback func([]interfaces.Client, *config.Config)
	watcher        *fsnotify.Watcher
	lastConfigHash string
}

// NewWatcher creates a new file watcher instance.
func NewWatcher(configPath string, st *store.CredentialStore, reloadCallback func([]interfaces.Client, *config.Config)) (*Watcher, error) {
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}

	return &Watcher{
		configPath:     configPath,
		stateStore:     st,
		reloadCallback: reloadCallback,
		watcher:        watcher,
	}, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	if errAddConfig := w.watcher.Add(w.configPath); errAddConfig != nil {
		log.Errorf("failed to watch config file %s: %v", w.configPath, errAddConfig)
		return errAddConfig
	}
	log.Debugf("watching config file: %s", w.configPath)

	// Start the event processing goroutine
	go w.processEvents(ctx)

	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SetConfig updates the current configuration.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.clientsMutex.Lock()
	defer w.clientsMutex.Unlock()
	w.config = cfg
}

// SetClients sets the current credential clients.
func (w *Watcher) SetClients(clients []interfaces.Client) {
	w.clientsMutex.Lock()
	defer w.clientsMutex.Unlock()
	w.clients = clients
}

// processEvents handles file system events.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

// handleEvent processes individual file system events.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	isConfigEvent := event.Name == w.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create)
	if !isConfigEvent {
		return
	}

	log.Debugf("file system event detected: %s %s", event.Op.String(), event.Name)

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.clientsMutex.RLock()
	currentHash := w.lastConfigHash
	w.clientsMutex.RUnlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	log.Infof("config file changed, reloading: %s", w.configPath)
	if w.reloadConfig() {
		w.clientsMutex.Lock()
		w.lastConfigHash = newHash
		w.clientsMutex.Unlock()
	}
}

// reloadConfig reloads the configuration and rebuilds the client pool.
func (w *Watcher) reloadConfig() bool {
	log.Debugf("starting config reload from: %s", w.configPath)

	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return false
	}

	w.clientsMutex.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.clientsMutex.Unlock()

	// Always apply the current log level based on the latest config.
	util.SetLogLevel(newConfig)

	// Log configuration changes in debug mode
	if oldConfig != nil {
		log.Debugf("config changes detected:")
		if oldConfig.Port != newConfig.Port {
			log.Debugf("  port: %d -> %d", oldConfig.Port, newConfig.Port)
		}
		if oldConfig.Debug != newConfig.Debug {
			log.Debugf("  debug: %t -> %t", oldConfig.Debug, newConfig.Debug)
		}
		if oldConfig.ProxyURL != newConfig.ProxyURL {
			log.Debugf("  proxy-url: %s -> %s", oldConfig.ProxyURL, newConfig.ProxyURL)
		}
		if oldConfig.RequestLog != newConfig.RequestLog {
			log.Debugf("  request-log: %t -> %t", oldConfig.RequestLog, newConfig.RequestLog)
		}
		if oldConfig.RequestRetry != newConfig.RequestRetry {
			log.Debugf("  request-retry: %d -> %d", oldConfig.RequestRetry, newConfig.RequestRetry)
		}
		if len(oldConfig.APIKeys) != len(newConfig.APIKeys) {
			log.Debugf("  api-keys count: %d -> %d", len(oldConfig.APIKeys), len(newConfig.APIKeys))
		}
		if len(oldConfig.Grok.Cookies) != len(newConfig.Grok.Cookies) {
			log.Debugf("  grok.cookies count: %d -> %d", len(oldConfig.Grok.Cookies), len(newConfig.Grok.Cookies))
		}
		if oldConfig.Grok.Thinking != newConfig.Grok.Thinking {
			log.Debugf("  grok.thinking: %t -> %t", oldConfig.Grok.Thinking, newConfig.Grok.Thinking)
		}
		if oldConfig.Grok.Temporary != newConfig.Grok.Temporary {
			log.Debugf("  grok.temporary: %t -> %t", oldConfig.Grok.Temporary, newConfig.Grok.Temporary)
		}
		if oldConfig.AllowLocalhostUnauthenticated != newConfig.AllowLocalhostUnauthenticated {
			log.Debugf("  allow-localhost-unauthenticated: %t -> %t", oldConfig.AllowLocalhostUnauthenticated, newConfig.AllowLocalhostUnauthenticated)
		}
	}

	log.Infof("config successfully reloaded, triggering client reload")
	w.reloadClients()
	return true
}

// reloadClients rebuilds all credential clients from the current config.
func (w *Watcher) reloadClients() {
	w.clientsMutex.RLock()
	cfg := w.config
	oldClients := w.clients
	w.clientsMutex.RUnlock()

	if cfg == nil {
		log.Error("config is nil, cannot reload clients")
		return
	}

	// Unregister old clients before building the replacement pool so model
	// registry reference counts stay accurate.
	for _, oldClient := range oldClients {
		if u, ok := any(oldClient).(interface{ UnregisterClient() }); ok {
			u.UnregisterClient()
		}
	}

	newClients := BuildClients(cfg, w.stateStore)

	w.clientsMutex.Lock()
	w.clients = newClients
	w.clientsMutex.Unlock()

	log.Infof("client reload complete - old: %d credentials, new: %d credentials", len(oldClients), len(newClients))

	// Trigger the callback to update the server
	if w.reloadCallback != nil {
		log.Debugf("triggering server update callback")
		w.reloadCallback(newClients, cfg)
	}
}

// BuildClients creates one client per configured cookie credential.
func BuildClients(cfg *config.Config, st *store.CredentialStore) []interfaces.Client {
	clients := make([]interfaces.Client, 0, len(cfg.Grok.Cookies))
	for _, cookie := range cfg.Grok.Cookies {
		if cookie == "" {
			continue
		}
		cliClient := client.NewGrokClient(cfg, cookie, st)
		log.Debugf("initialized grok credential %s", cliClient.GetClientID())
		clients = append(clients, cliClient)
	}
	return clients
}
