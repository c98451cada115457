package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port      int    `koanf:"port"`
		PublicURL string `koanf:"public_url"`
	} `koanf:"server"`

	LLM struct {
		Provider string `koanf:"provider"`
		Model    string `koanf:"model"`
		APIKey   string `koanf:"api_key"`
		BaseURL  string `koanf:"base_url"`
	} `koanf:"llm"`

	AuthProxy struct {
		// URL of the trusted exchange proxy, seen from the agent service.
		URL string `koanf:"url"`

		// The fields below configure the proxy process itself (atlathelper proxy).
		// The agent service never reads the client secret.
		Port         int    `koanf:"port"`
		PublicURL    string `koanf:"public_url"`
		ClientID     string `koanf:"client_id"`
		ClientSecret string `koanf:"client_secret"`
		AuthorizeURL string `koanf:"authorize_url"`
		TokenURL     string `koanf:"token_url"`
	} `koanf:"auth_proxy"`

	Data struct {
		Dir string `koanf:"dir"`
	} `koanf:"data"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":              8000,
		"server.public_url":        "http://localhost:8000",
		"llm.provider":             "gemini",
		"auth_proxy.url":           "http://localhost:8001",
		"auth_proxy.port":          8001,
		"auth_proxy.public_url":    "http://localhost:8001",
		"auth_proxy.authorize_url": "https://auth.atlassian.com/authorize",
		"auth_proxy.token_url":     "https://auth.atlassian.com/oauth/token",
		"data.dir":                 "./atlatdata",
		"log.level":                "info",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./atlatdata/atlathelper.toml", "./atlathelper.toml", "$HOME/.atlathelper.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix ATLAT_
	k.Load(env.Provider("ATLAT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ATLAT_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Atlat Helper Configuration

[server]
port = 8000
public_url = "http://localhost:8000"

[llm]
provider = "gemini"          # gemini | claude | ollama
api_key = "your-api-key"
# model = "gemini-2.5-flash"

[auth_proxy]
url = "http://localhost:8001"
# Settings below are only read by the proxy process:
port = 8001
public_url = "http://localhost:8001"
client_id = "your-atlassian-client-id"
client_secret = "your-atlassian-client-secret"

[data]
dir = "./atlatdata"

[log]
level = "info"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration for the agent server
func Validate(config *Config) error {
	if config.LLM.Provider == "" {
		return fmt.Errorf("llm provider is required")
	}

	switch config.LLM.Provider {
	case "gemini", "claude":
		if config.LLM.APIKey == "" {
			return fmt.Errorf("api_key is required for llm provider %s", config.LLM.Provider)
		}
	case "ollama":
		// base_url falls back to the local default
	default:
		return fmt.Errorf("unknown llm provider: %s", config.LLM.Provider)
	}

	if config.AuthProxy.URL == "" {
		return fmt.Errorf("auth_proxy url is required")
	}

	return nil
}

// ValidateProxy validates the configuration for the auth proxy process
func ValidateProxy(config *Config) error {
	if config.AuthProxy.ClientID == "" || config.AuthProxy.ClientSecret == "" {
		return fmt.Errorf("auth_proxy client_id and client_secret are required")
	}
	return nil
}
