// Package config provides configuration management for the proxy server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including server port, credential
// pool, debug settings, proxy configuration, and API keys.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url"`

	// APIKeys is a list of keys for authenticating clients to this proxy server.
	APIKeys []string `yaml:"api-keys"`

	// RequestLog enables or disables detailed request logging functionality.
	RequestLog bool `yaml:"request-log"`

	// RequestRetry defines the retry times when the request failed.
	RequestRetry int `yaml:"request-retry"`

	// AllowLocalhostUnauthenticated allows unauthenticated requests from localhost.
	AllowLocalhostUnauthenticated bool `yaml:"allow-localhost-unauthenticated"`

	// StateFile is the path of the persistent credential state database.
	StateFile string `yaml:"state-file"`

	// Grok holds the upstream Grok backend configuration.
	Grok GrokConfig `yaml:"grok"`
}

// GrokConfig represents the configuration of the Grok conversational backend.
type GrokConfig struct {
	// Cookies is the pool of SSO cookie credentials used for upstream requests.
	Cookies []string `yaml:"cookies"`

	// Thinking controls whether reasoning content is surfaced to clients.
	Thinking bool `yaml:"thinking"`

	// Temporary requests ephemeral upstream conversations that leave no history.
	Temporary bool `yaml:"temporary"`

	// FilterTags lists upstream markup tags stripped from answer content.
	// When empty, the built-in defaults apply.
	FilterTags []string `yaml:"filter-tags"`

	// StreamIdleTimeout is the seconds without upstream data before a
	// streaming request is aborted. Defaults to 45.
	StreamIdleTimeout int `yaml:"stream-idle-timeout"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, and returns it.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	// Read the entire configuration file into memory.
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal the YAML data into the Config struct.
	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.RequestRetry == 0 {
		config.RequestRetry = 3
	}
	if config.Grok.StreamIdleTimeout == 0 {
		config.Grok.StreamIdleTimeout = 45
	}
	if config.StateFile == "" {
		config.StateFile = "grok-proxy-state.db"
	}

	// Return the populated configuration struct.
	return &config, nil
}
