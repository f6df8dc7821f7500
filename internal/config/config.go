// Package config loads the JSON configuration file and applies environment
// overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 1024
	DefaultTemperature    = 0.7
	DefaultHistoryBudget  = 1024 // token units, 4 chars each
	DefaultKeepRecent     = 2
	DefaultRetrievalLimit = 3
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18890
	DefaultBufSize        = 100

	DefaultSystemPrompt = "You are NeuroLite, a professional technical support assistant. Answer clearly and concisely."

	// Default cron schedules for knowledge index maintenance (with seconds).
	DefaultOptimizeSchedule  = "0 0 3 * * *"
	DefaultIntegritySchedule = "0 30 3 * * 0"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Knowledge KnowledgeConfig `json:"knowledge"`
}

type AgentConfig struct {
	SystemPrompt  string  `json:"systemPrompt"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
	HistoryBudget int     `json:"historyBudget"`
	KeepRecent    int     `json:"keepRecent"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type KnowledgeConfig struct {
	DBPath            string `json:"dbPath,omitempty"`
	RetrievalLimit    int    `json:"retrievalLimit"`
	OptimizeSchedule  string `json:"optimizeSchedule,omitempty"`
	IntegritySchedule string `json:"integritySchedule,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			SystemPrompt:  DefaultSystemPrompt,
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			Temperature:   DefaultTemperature,
			HistoryBudget: DefaultHistoryBudget,
			KeepRecent:    DefaultKeepRecent,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Knowledge: KnowledgeConfig{
			DBPath:            filepath.Join(ConfigDir(), "knowledge.db"),
			RetrievalLimit:    DefaultRetrievalLimit,
			OptimizeSchedule:  DefaultOptimizeSchedule,
			IntegritySchedule: DefaultIntegritySchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".neurolite")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyFallbacks(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("NEUROLITE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("NEUROLITE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("NEUROLITE_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if prompt := os.Getenv("NEUROLITE_SYSTEM_PROMPT"); prompt != "" {
		cfg.Agent.SystemPrompt = prompt
	}
	if token := os.Getenv("NEUROLITE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dbPath := os.Getenv("NEUROLITE_DB_PATH"); dbPath != "" {
		cfg.Knowledge.DBPath = dbPath
	}
	if port := os.Getenv("NEUROLITE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

func applyFallbacks(cfg *Config) {
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.HistoryBudget <= 0 {
		cfg.Agent.HistoryBudget = DefaultHistoryBudget
	}
	if cfg.Agent.KeepRecent <= 0 {
		cfg.Agent.KeepRecent = DefaultKeepRecent
	}
	if cfg.Knowledge.DBPath == "" {
		cfg.Knowledge.DBPath = filepath.Join(ConfigDir(), "knowledge.db")
	}
	if cfg.Knowledge.RetrievalLimit <= 0 {
		cfg.Knowledge.RetrievalLimit = DefaultRetrievalLimit
	}
	if cfg.Knowledge.OptimizeSchedule == "" {
		cfg.Knowledge.OptimizeSchedule = DefaultOptimizeSchedule
	}
	if cfg.Knowledge.IntegritySchedule == "" {
		cfg.Knowledge.IntegritySchedule = DefaultIntegritySchedule
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
