package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "FDI_PLN__"

type Config struct {
	Butler struct {
		Address               string   `yaml:"address"`
		Alias                 string   `yaml:"alias"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		SystemSenders         []string `yaml:"system_senders"`
	} `yaml:"butler"`
	Agent struct {
		CycleSeconds             int    `yaml:"cycle_seconds"`
		WaitWithoutPeersSeconds  int    `yaml:"wait_without_peers_seconds"`
		ProactiveCooldownSeconds int    `yaml:"proactive_cooldown_seconds"`
		GoldMaterial             string `yaml:"gold_material"`
	} `yaml:"agent"`
	LLM struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		Temperature     float64 `yaml:"temperature"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Log struct {
		Level       string `yaml:"level"`
		File        string `yaml:"file"`
		MaxBytes    int64  `yaml:"max_bytes"`
		BackupCount int    `yaml:"backup_count"`
	} `yaml:"log"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
}

func Default(home string) Config {
	cfg := Config{}
	cfg.Butler.Address = "127.0.0.1:7719"
	cfg.Butler.Alias = "hamza_agent"
	cfg.Butler.RequestTimeoutSeconds = 10
	cfg.Butler.SystemSenders = []string{"Sistema"}
	cfg.Agent.CycleSeconds = 10
	cfg.Agent.WaitWithoutPeersSeconds = 10
	cfg.Agent.ProactiveCooldownSeconds = 45
	cfg.Agent.GoldMaterial = "oro"
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "llama3.2:latest"
	cfg.LLM.BaseURL = "http://127.0.0.1:11434"
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxOutputTokens = 512
	cfg.LLM.TimeoutSeconds = 60
	cfg.Log.Level = "INFO"
	cfg.Log.File = filepath.Join("logs", "agente.log")
	cfg.Log.MaxBytes = 2_000_000
	cfg.Log.BackupCount = 3
	if home != "" {
		cfg.Store.Path = filepath.Join(home, ".butleragent", "journal.db")
	}
	return cfg
}

// Path is the config file location under home.
func Path(home string) string {
	return filepath.Join(home, ".butleragent", "config.yaml")
}

// Load reads the YAML file at path on top of the defaults. A missing file
// is not an error; the agent can run from the environment alone.
func Load(path, home string) (Config, error) {
	cfg := Default(home)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		_ = godotenv.Load(file)
	}
}

// ApplyEnv overlays FDI_PLN__* variables read through lookup. Values that
// do not parse leave the current setting alone.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	setString("BUTLER_ADDRESS", &cfg.Butler.Address)
	setString("ALIAS", &cfg.Butler.Alias)
	setInt("REQUEST_TIMEOUT", &cfg.Butler.RequestTimeoutSeconds)
	if v, ok := get("SYSTEM_SENDERS"); ok {
		cfg.Butler.SystemSenders = splitList(v)
	}

	setInt("CYCLE_SECONDS", &cfg.Agent.CycleSeconds)
	setInt("WAIT_WITHOUT_PEERS_SECONDS", &cfg.Agent.WaitWithoutPeersSeconds)
	setInt("PROACTIVE_COOLDOWN_SECONDS", &cfg.Agent.ProactiveCooldownSeconds)
	setString("GOLD_MATERIAL", &cfg.Agent.GoldMaterial)

	setString("LLM_PROVIDER", &cfg.LLM.Provider)
	setString("MODEL", &cfg.LLM.Model)
	setString("OLLAMA_HOST", &cfg.LLM.BaseURL)
	setString("LLM_API_KEY", &cfg.LLM.APIKey)
	if v, ok := lookup("OPENAI_API_KEY"); ok && strings.TrimSpace(v) != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = strings.TrimSpace(v)
	}
	if v, ok := get("LLM_TEMPERATURE"); ok {
		if value, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = value
		}
	}
	setInt("LLM_TIMEOUT_SECONDS", &cfg.LLM.TimeoutSeconds)

	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FILE", &cfg.Log.File)
	if v, ok := get("LOG_MAX_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Log.MaxBytes = n
		}
	}
	if v, ok := get("LOG_BACKUP_COUNT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Log.BackupCount = n
		}
	}
	setString("STORE_PATH", &cfg.Store.Path)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
