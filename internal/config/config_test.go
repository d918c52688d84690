package config

import (
	"os"
	"path/filepath"
	"testing"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, err := Load(Path(home), home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Butler.Address != "127.0.0.1:7719" || cfg.Agent.ProactiveCooldownSeconds != 45 || cfg.Agent.GoldMaterial != "oro" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Store.Path != filepath.Join(home, ".butleragent", "journal.db") {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
}

func TestWriteThenLoad(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg := Default(home)
	cfg.Butler.Alias = "ana"
	cfg.LLM.Provider = "openai"
	path := Path(home)
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path, home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Butler.Alias != "ana" || got.LLM.Provider != "openai" || got.Log.MaxBytes != 2_000_000 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	if err := os.WriteFile(path, []byte("butler:\n  alias: luis\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Butler.Alias != "luis" || cfg.Butler.Address != "127.0.0.1:7719" || cfg.Agent.CycleSeconds != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("butler: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, ""); err == nil {
		t.Error("Load should fail on invalid YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default("")
	ApplyEnv(&cfg, mapLookup(map[string]string{
		"FDI_PLN__BUTLER_ADDRESS":             "10.0.0.5:7719",
		"FDI_PLN__ALIAS":                      " ana ",
		"FDI_PLN__MODEL":                      "qwen3:8b",
		"FDI_PLN__OLLAMA_HOST":                "http://gpu:11434",
		"FDI_PLN__CYCLE_SECONDS":              "3",
		"FDI_PLN__PROACTIVE_COOLDOWN_SECONDS": "soon",
		"FDI_PLN__REQUEST_TIMEOUT":            "-4",
		"FDI_PLN__SYSTEM_SENDERS":             "Sistema, Banco,,",
		"FDI_PLN__LOG_MAX_BYTES":              "500",
		"FDI_PLN__LOG_BACKUP_COUNT":           "0",
		"FDI_PLN__STORE_PATH":                 "/tmp/j.db",
		"OPENAI_API_KEY":                      "sk-test",
	}))

	if cfg.Butler.Address != "10.0.0.5:7719" || cfg.Butler.Alias != "ana" {
		t.Errorf("butler = %+v", cfg.Butler)
	}
	if cfg.LLM.Model != "qwen3:8b" || cfg.LLM.BaseURL != "http://gpu:11434" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Agent.CycleSeconds != 3 {
		t.Errorf("CycleSeconds = %d", cfg.Agent.CycleSeconds)
	}
	if cfg.Agent.ProactiveCooldownSeconds != 45 || cfg.Butler.RequestTimeoutSeconds != 10 {
		t.Error("invalid integers should keep defaults")
	}
	if len(cfg.Butler.SystemSenders) != 2 || cfg.Butler.SystemSenders[1] != "Banco" {
		t.Errorf("SystemSenders = %v", cfg.Butler.SystemSenders)
	}
	if cfg.Log.MaxBytes != 500 || cfg.Log.BackupCount != 0 || cfg.Store.Path != "/tmp/j.db" {
		t.Errorf("log/store = %+v %+v", cfg.Log, cfg.Store)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	if err := os.WriteFile(file, []byte("FDI_PLN__ALIAS=from_file\nFDI_PLN__MODEL=from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FDI_PLN__ALIAS", "from_env")
	t.Setenv("FDI_PLN__MODEL", "")
	os.Unsetenv("FDI_PLN__MODEL")

	LoadDotEnv(file, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("FDI_PLN__ALIAS"); got != "from_env" {
		t.Errorf("ALIAS = %q, want from_env", got)
	}
	if got := os.Getenv("FDI_PLN__MODEL"); got != "from_file" {
		t.Errorf("MODEL = %q, want from_file", got)
	}
}
