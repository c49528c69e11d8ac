package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// useConfigHome points the default config location at a temporary directory.
func useConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func TestInitConfig_Success(t *testing.T) {
	useConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}
	if !strings.Contains(configPath, filepath.Join(".config", "blackhole")) {
		t.Errorf("Expected config under ~/.config/blackhole, got %s", configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# Blackhole Configuration File",
		"logging:",
		"server:",
		"tasks:",
		"database:",
		"session:",
		"metrics:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	// The generated file must be valid YAML
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useConfigHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	useConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("modified"), 0644); err != nil {
		t.Fatalf("Failed to modify config: %v", err)
	}

	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if string(content) == "modified" {
		t.Error("File was not overwritten")
	}
}

func TestInitConfigToPath_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "blackhole.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("Failed to create existing file: %v", err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error when file exists")
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatalf("Failed to create existing file: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	out, err := generateYAMLWithComments(cfg)
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	if !strings.Contains(out, "#") {
		t.Error("Generated YAML should contain comments")
	}

	expected := []string{
		"level: INFO",
		"port: 8080",
		"accept_timeout: 250ms",
		"body_timeout: 5s",
		"deserializer: entries",
		"store: memory",
		"ttl: 1h0m0s",
		"sweep_interval: 1m0s",
		"table: sessions",
	}
	for _, s := range expected {
		if !strings.Contains(out, s) {
			t.Errorf("Generated YAML missing %q", s)
		}
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	useConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if err := Validate(cfg); err != nil {
		t.Fatalf("Generated config failed validation: %v", err)
	}
}

func TestGeneratedConfigValuesAreCorrect(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Logging.Level != def.Logging.Level {
		t.Errorf("Expected %s log level in generated config, got %q", def.Logging.Level, cfg.Logging.Level)
	}
	if cfg.Logging.QueueSize != def.Logging.QueueSize {
		t.Errorf("Expected queue size %d, got %d", def.Logging.QueueSize, cfg.Logging.QueueSize)
	}
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("Expected port %d in generated config, got %d", def.Server.Port, cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != def.Server.IdleTimeout {
		t.Errorf("Expected idle timeout %v, got %v", def.Server.IdleTimeout, cfg.Server.IdleTimeout)
	}
	if cfg.Server.MaxFrameSize != def.Server.MaxFrameSize {
		t.Errorf("Expected max frame size %d, got %d", def.Server.MaxFrameSize, cfg.Server.MaxFrameSize)
	}
	if cfg.Session.SQL["table"] != "sessions" {
		t.Errorf("Expected sql table 'sessions', got %v", cfg.Session.SQL["table"])
	}
}
