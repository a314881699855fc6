package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AgentConfig 执行 API 相关配置 / AgentConfig drives the execution-API client.
type AgentConfig struct {
	// CLIPath is the agent binary spoken to over stream-json stdio.
	CLIPath            string   `json:"cli_path"`
	Model              string   `json:"model"`
	PermissionMode     string   `json:"permission_mode"`
	AllowedTools       []string `json:"allowed_tools"`
	MaxTurns           int      `json:"max_turns"`
	SettingSources     []string `json:"setting_sources"`
	SystemPromptPreset string   `json:"system_prompt_preset"`
}

// SessionConfig 会话引擎配置 / SessionConfig tunes the orchestration engine.
type SessionConfig struct {
	IdleTimeoutMS         int  `json:"idle_timeout_ms"`
	CommandFetchTimeoutMS int  `json:"command_fetch_timeout_ms"`
	DropToolOnlyMessages  bool `json:"drop_tool_only_messages"`
}

// StorageConfig 任务文档存储配置 / StorageConfig locates the task-document replica.
type StorageConfig struct {
	DBPath string `json:"db_path"`
}

type Config struct {
	Agent     AgentConfig   `json:"agent"`
	Session   SessionConfig `json:"session"`
	Storage   StorageConfig `json:"storage"`
	MachineID string        `json:"machine_id"`
}

// Default 返回内建默认配置 / Default returns the built-in defaults.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			CLIPath:        "claude",
			PermissionMode: "acceptEdits",
			MaxTurns:       250,
			SettingSources: []string{"project"},
		},
		Session: SessionConfig{
			IdleTimeoutMS:         5 * 60 * 1000,
			CommandFetchTimeoutMS: 2000,
		},
		Storage: StorageConfig{
			DBPath: defaultDBPath(),
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sessiond", "task.db")
	}
	return filepath.Join(home, ".sessiond", "task.db")
}

// Load 读取配置文件并叠加默认值与环境变量覆盖；path 为空时按惯例位置探测
// Load reads the config file over the defaults plus env overrides. An empty
// path probes the conventional locations; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("SESSIOND_CONFIG_PATH")); envPath != "" {
		resolved = envPath
	}
	if resolved == "" {
		resolved = findConfigPath()
	}
	if err := mergeFromFile(&cfg, resolved); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func findConfigPath() string {
	candidates := []string{
		"sessiond.config.json",
		filepath.Join(".sessiond", "config.json"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".sessiond", "config.json"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SESSIOND_CLI_PATH")); v != "" {
		cfg.Agent.CLIPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIOND_MODEL")); v != "" {
		cfg.Agent.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIOND_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIOND_MACHINE_ID")); v != "" {
		cfg.MachineID = v
	}
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Agent.CLIPath) == "" {
		cfg.Agent.CLIPath = "claude"
	}
	if cfg.Agent.MaxTurns <= 0 {
		cfg.Agent.MaxTurns = 250
	}
	if cfg.Session.IdleTimeoutMS <= 0 {
		cfg.Session.IdleTimeoutMS = 5 * 60 * 1000
	}
	if cfg.Session.CommandFetchTimeoutMS <= 0 {
		cfg.Session.CommandFetchTimeoutMS = 2000
	}
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		cfg.Storage.DBPath = defaultDBPath()
	}
	if strings.TrimSpace(cfg.MachineID) == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MachineID = host
		}
	}
}
