package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalConfig    string
		projectConfig   string
		expectProviders int
		expectAgents    int
		checkAgent      string
		expectProvider  string
		expectModel     string
		expectLanes     int
		expectTimeout   time.Duration
		expectPush      bool
	}{
		{
			name:            "No config files - returns defaults",
			expectProviders: 3,
			expectAgents:    1,
			checkAgent:      "worker",
			expectProvider:  "claude",
			expectLanes:     1,
			expectTimeout:   45 * time.Minute,
			expectPush:      true,
		},
		{
			name:            "Global only - adds provider and agent",
			globalConfig:    `{"agent": "local", "providers": {"mine": {"command": "./run.sh", "type": "command"}}, "agents": {"local": {"provider": "mine"}}}`,
			expectProviders: 4,
			expectAgents:    2,
			checkAgent:      "local",
			expectProvider:  "mine",
			expectLanes:     1,
			expectTimeout:   45 * time.Minute,
			expectPush:      true,
		},
		{
			name:            "Project only - overrides scalars",
			projectConfig:   `{"lanes": 3, "lane_timeout": "20m", "push": false}`,
			expectProviders: 3,
			expectAgents:    1,
			checkAgent:      "worker",
			expectProvider:  "claude",
			expectLanes:     3,
			expectTimeout:   20 * time.Minute,
			expectPush:      false,
		},
		{
			name:            "Project overrides global - project wins",
			globalConfig:    `{"lanes": 2, "agents": {"worker": {"provider": "codex", "model": "model-x"}}}`,
			projectConfig:   `{"lanes": 4, "agents": {"worker": {"provider": "goose", "model": "model-y"}}}`,
			expectProviders: 3,
			expectAgents:    1,
			checkAgent:      "worker",
			expectProvider:  "goose",
			expectModel:     "model-y",
			expectLanes:     4,
			expectTimeout:   45 * time.Minute,
			expectPush:      true,
		},
		{
			name:            "Zero values do not override",
			globalConfig:    `{"lanes": 2}`,
			projectConfig:   `{"lanes": 0, "remote": ""}`,
			expectProviders: 3,
			expectAgents:    1,
			checkAgent:      "worker",
			expectProvider:  "claude",
			expectLanes:     2,
			expectTimeout:   45 * time.Minute,
			expectPush:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = filepath.Join(tmpDir, "global.json")
				if err := os.WriteFile(globalPath, []byte(tt.globalConfig), 0644); err != nil {
					t.Fatalf("writing global config: %v", err)
				}
			}

			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = filepath.Join(tmpDir, "project.json")
				if err := os.WriteFile(projectPath, []byte(tt.projectConfig), 0644); err != nil {
					t.Fatalf("writing project config: %v", err)
				}
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Providers); got != tt.expectProviders {
				t.Errorf("providers count = %d, want %d", got, tt.expectProviders)
			}
			if got := len(cfg.Agents); got != tt.expectAgents {
				t.Errorf("agents count = %d, want %d", got, tt.expectAgents)
			}

			agent, exists := cfg.Agents[tt.checkAgent]
			if !exists {
				t.Fatalf("expected agent %q not found", tt.checkAgent)
			}
			if agent.Provider != tt.expectProvider {
				t.Errorf("agent %q provider = %q, want %q", tt.checkAgent, agent.Provider, tt.expectProvider)
			}
			if agent.Model != tt.expectModel {
				t.Errorf("agent %q model = %q, want %q", tt.checkAgent, agent.Model, tt.expectModel)
			}

			if cfg.Lanes != tt.expectLanes {
				t.Errorf("lanes = %d, want %d", cfg.Lanes, tt.expectLanes)
			}
			if cfg.LaneTimeout.Std() != tt.expectTimeout {
				t.Errorf("lane timeout = %v, want %v", cfg.LaneTimeout.Std(), tt.expectTimeout)
			}
			if cfg.PushEnabled() != tt.expectPush {
				t.Errorf("push = %v, want %v", cfg.PushEnabled(), tt.expectPush)
			}
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !strings.Contains(err.Error(), "global.json") {
		t.Errorf("error should name the file, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"lane_timeout": "forever"}`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load("", path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if len(cfg.Providers) != 3 {
		t.Errorf("providers count = %d, want 3", len(cfg.Providers))
	}
	if cfg.Ledger != "TASKS.md" {
		t.Errorf("ledger = %q, want TASKS.md", cfg.Ledger)
	}
	if cfg.RetryBudget != 2 {
		t.Errorf("retry budget = %d, want 2", cfg.RetryBudget)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{ModelEnv: "opus"}
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if got := cfg.Agents["worker"].Model; got != "opus" {
		t.Errorf("model = %q, want opus", got)
	}

	cfg = DefaultConfig()
	ApplyEnv(cfg, func(string) (string, bool) { return "", false })
	if got := cfg.Agents["worker"].Model; got != "" {
		t.Errorf("model should be untouched without the variable, got %q", got)
	}
}

func TestBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["goose"] = ProviderConfig{Command: "/opt/goose", Type: "goose", Args: []string{"--quiet"}, Env: []string{"A=1"}}
	cfg.Agents["local"] = AgentConfig{Provider: "goose", Model: "qwen", LLMProvider: "ollama", Args: []string{"--debug"}}
	cfg.Agent = "local"

	got, err := cfg.Backend()
	if err != nil {
		t.Fatalf("Backend failed: %v", err)
	}
	if got.Type != "goose" || got.Command != "/opt/goose" || got.Model != "qwen" || got.Provider != "ollama" {
		t.Errorf("unexpected backend config: %+v", got)
	}
	if strings.Join(got.Args, " ") != "--quiet --debug" {
		t.Errorf("args = %v, want provider args then agent args", got.Args)
	}
	if len(got.Env) != 1 || got.Env[0] != "A=1" {
		t.Errorf("env = %v", got.Env)
	}
}

func TestBackend_Unresolved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent = "missing"
	if _, err := cfg.Backend(); err == nil {
		t.Error("expected error for unknown agent")
	}

	cfg = DefaultConfig()
	cfg.Agents["worker"] = AgentConfig{Provider: "nope"}
	if _, err := cfg.Backend(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestDurationJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		D Duration `json:"d"`
	}{D: Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"d":"1m30s"}` {
		t.Errorf("marshaled %s", data)
	}
}

func TestProjectPath(t *testing.T) {
	got := ProjectPath("/work/app")
	want := filepath.Join("/work/app", ".overnight", "config.json")
	if got != want {
		t.Errorf("ProjectPath = %q, want %q", got, want)
	}
	if !strings.HasSuffix(GlobalPath(), filepath.Join("overnight", "config.json")) {
		t.Errorf("GlobalPath = %q", GlobalPath())
	}
}
