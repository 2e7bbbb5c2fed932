package config

import (
	"os"
	"path/filepath"

	"github.com/leeoohoo/deepseek-cli/errors"
	"gopkg.in/yaml.v3"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// ModelSettings is the resolved configuration for one named model entry.
// The conversation engine consumes this surface; it does not own it.
type ModelSettings struct {
	Provider        string            `yaml:"provider"`
	Model           string            `yaml:"model"`
	APIKeyEnv       string            `yaml:"api_key_env"`
	BaseURL         string            `yaml:"base_url"`
	SystemPrompt    string            `yaml:"system_prompt"`
	Temperature     *float64          `yaml:"temperature"`
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	ExtraHeaders    map[string]string `yaml:"extra_headers"`
	ExtraBody       map[string]any    `yaml:"extra_body"`
	Tools           []string          `yaml:"tools"`
}

type Config struct {
	DefaultModel     string                   `yaml:"default_model"`
	Models           map[string]ModelSettings `yaml:"models"`
	Toolsets         []Toolset                `yaml:"toolsets"`
	MCPServers       []MCPServer              `yaml:"mcp_servers"`
	AllowedCommands  []string                 `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess         `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Default .deepseek-cli directory to be hidden
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".deepseek-cli", ".deepseek-cli/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".deepseek-cli", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".deepseek-cli", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// GetModel resolves a named model entry. An empty name selects the configured
// default, falling back to a stock DeepSeek entry when nothing is configured.
func (c *Config) GetModel(name string) (*ModelSettings, error) {
	if name == "" {
		name = c.DefaultModel
	}
	if name == "" {
		if len(c.Models) == 0 {
			ms := defaultDeepSeekModel()
			return &ms, nil
		}
		return nil, errors.Configf("no default_model configured and no model name given")
	}
	ms, ok := c.Models[name]
	if !ok {
		return nil, errors.Configf("model %q is not defined in configuration", name)
	}
	applyProviderDefaults(&ms)
	return &ms, nil
}

func defaultDeepSeekModel() ModelSettings {
	ms := ModelSettings{
		Provider: "deepseek",
		Model:    "deepseek-chat",
	}
	applyProviderDefaults(&ms)
	return ms
}

func applyProviderDefaults(ms *ModelSettings) {
	switch ms.Provider {
	case "deepseek":
		if ms.BaseURL == "" {
			ms.BaseURL = "https://api.deepseek.com"
		}
		if ms.APIKeyEnv == "" {
			ms.APIKeyEnv = "DEEPSEEK_API_KEY"
		}
	case "openai":
		if ms.APIKeyEnv == "" {
			ms.APIKeyEnv = "OPENAI_API_KEY"
		}
	case "anthropic":
		if ms.APIKeyEnv == "" {
			ms.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	case "gemini":
		if ms.APIKeyEnv == "" {
			ms.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. When no toolsets
// are configured at all, an empty default is synthesized so the agent runs
// with whatever tools the model entry requests.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return &Toolset{Name: "default"}, nil
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
