package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &Config{
		Agent: "test-agent",
		Providers: map[string]ProviderConfig{
			"test": {Command: "test-cmd", Type: "command"},
		},
		Agents: map[string]AgentConfig{
			"test-agent": {Provider: "test", Model: "test-model"},
		},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.Providers["test"].Command != "test-cmd" {
		t.Errorf("Expected provider command 'test-cmd', got '%s'", loaded.Providers["test"].Command)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	cfg := &Config{
		Providers: map[string]ProviderConfig{},
		Agents:    map[string]AgentConfig{},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Providers["goose"] = ProviderConfig{Command: "goose", Type: "goose", Args: []string{"--verbose"}}
	cfg.Agents["worker"] = AgentConfig{Provider: "goose", Model: "qwen"}
	cfg.Lanes = 3
	cfg.LaneTimeout = Duration(20 * time.Minute)
	push := false
	cfg.Push = &push

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Providers["goose"].Args) != 1 || loaded.Providers["goose"].Args[0] != "--verbose" {
		t.Errorf("Goose provider args mismatch: got %v", loaded.Providers["goose"].Args)
	}
	if loaded.Agents["worker"].Model != "qwen" {
		t.Errorf("Worker model mismatch: got '%s'", loaded.Agents["worker"].Model)
	}
	if loaded.Lanes != 3 {
		t.Errorf("Lanes mismatch: got %d", loaded.Lanes)
	}
	if loaded.LaneTimeout.Std() != 20*time.Minute {
		t.Errorf("Lane timeout mismatch: got %v", loaded.LaneTimeout.Std())
	}
	if loaded.PushEnabled() {
		t.Error("Push should stay disabled after a round trip")
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := &Config{
		Providers: map[string]ProviderConfig{
			"test": {Command: "first-value", Type: "command"},
		},
		Agents: map[string]AgentConfig{},
	}
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	cfg2 := &Config{
		Providers: map[string]ProviderConfig{
			"test": {Command: "second-value", Type: "command"},
		},
		Agents: map[string]AgentConfig{},
	}
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if loaded.Providers["test"].Command != "second-value" {
		t.Errorf("Expected 'second-value', got '%s'", loaded.Providers["test"].Command)
	}
}
