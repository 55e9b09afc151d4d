package config

import (
	"os"
	"testing"
	"time"
)

const testYAML = `
models:
  providers:
    anthropic:
      api_key: "${ANTHROPIC_API_KEY}"
      api: anthropic-messages
    openai:
      api_key: "${OPENAI_API_KEY}"
      api: openai-completions
    local:
      base_url: "http://localhost:11434/v1"
      api: openai-completions
      models:
        - id: llama3
          name: Llama 3 8B
          context_window: 8192
          max_tokens: 4096

routing:
  primary: anthropic/claude-haiku-4
  fallbacks:
    - anthropic/claude-sonnet-4
    - openai/gpt-5.2
  max_attempts: 4
  base_delay: "250ms"

state:
  driver: sqlite
  data_dir: /var/lib/adjutant

orchestrator:
  max_iterations: 8
  execution_timeout: "20s"
  rules:
    - "Never share salary data outside HR"
    - "Always confirm before contacting externals"

knowledge:
  weaviate:
    host: "${WEAVIATE_HOST}"
    scheme: http
    class: KnowledgeArticle
    certainty: 0.75
    top_k: 3
  cache:
    addr: "localhost:6379"
    ttl: "10m"
  placeholders:
    - id: hr-director
      name: HR Director
      email: hr@corp.test

workspace:
  calendar_base_url: "https://calendar.internal/api"
  mail_base_url: "https://mail.internal/api"
  oauth:
    client_id: "adjutant"
    client_secret: "${WORKSPACE_CLIENT_SECRET}"
    token_url: "https://sso.internal/oauth/token"

actions:
  pending_ttl: "12h"

scheduler:
  expire_spec: "@every 30m"
  prune_spec: "@daily"
  idle_conversation_age: "168h"

server:
  addr: ":9090"
`

func TestParseConfig(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Models.Providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(cfg.Models.Providers))
	}

	local := cfg.Models.Providers["local"]
	if local.API != "openai-completions" {
		t.Errorf("local api = %q, want openai-completions", local.API)
	}
	if len(local.Models) != 1 {
		t.Fatalf("local models = %d, want 1", len(local.Models))
	}
	if local.Models[0].ID != "llama3" {
		t.Errorf("local model id = %q, want llama3", local.Models[0].ID)
	}
	if local.Models[0].ContextWindow != 8192 {
		t.Errorf("context_window = %d, want 8192", local.Models[0].ContextWindow)
	}
}

func TestParseRouting(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Routing.Primary != "anthropic/claude-haiku-4" {
		t.Errorf("primary = %q, want anthropic/claude-haiku-4", cfg.Routing.Primary)
	}
	if len(cfg.Routing.Fallbacks) != 2 {
		t.Errorf("fallbacks = %d, want 2", len(cfg.Routing.Fallbacks))
	}
	if cfg.Routing.MaxAttempts != 4 {
		t.Errorf("max_attempts = %d, want 4", cfg.Routing.MaxAttempts)
	}
	if cfg.Routing.BaseDelay != "250ms" {
		t.Errorf("base_delay = %q, want 250ms", cfg.Routing.BaseDelay)
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-123")
	t.Setenv("WEAVIATE_HOST", "weaviate.internal:8080")
	t.Setenv("WORKSPACE_CLIENT_SECRET", "shhh")

	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Models.Providers["anthropic"].APIKey != "sk-ant-test-123" {
		t.Errorf("anthropic api_key = %q, want sk-ant-test-123", cfg.Models.Providers["anthropic"].APIKey)
	}
	if cfg.Knowledge.Weaviate.Host != "weaviate.internal:8080" {
		t.Errorf("weaviate host = %q", cfg.Knowledge.Weaviate.Host)
	}
	if cfg.Workspace.OAuth.ClientSecret != "shhh" {
		t.Errorf("client_secret = %q, want shhh", cfg.Workspace.OAuth.ClientSecret)
	}
}

func TestEnvSubstitutionPreservesUnsetVars(t *testing.T) {
	//nolint:errcheck // test cleanup of env var
	os.Unsetenv("OPENAI_API_KEY")
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Models.Providers["openai"].APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("unset env var should be preserved, got %q", cfg.Models.Providers["openai"].APIKey)
	}
}

func TestEnvSubstitutionLiteralURLs(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Models.Providers["local"].BaseURL != "http://localhost:11434/v1" {
		t.Errorf("literal URL should not be modified, got %q", cfg.Models.Providers["local"].BaseURL)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("{{invalid yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT}", "${NONEXISTENT}"},
		{"no vars here", "no vars here"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandEnv(tt.input)
		if got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStateDataDirExplicit(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.DataDir != "/var/lib/adjutant" {
		t.Errorf("data_dir = %q, want /var/lib/adjutant", cfg.State.DataDir)
	}
}

func TestStateDefaults(t *testing.T) {
	cfg, err := Parse([]byte("models:\n  providers: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.State.Driver)
	}
	home, _ := os.UserHomeDir()
	want := home + "/.adjutant"
	if cfg.State.DataDir != want {
		t.Errorf("data_dir = %q, want %q", cfg.State.DataDir, want)
	}
}

func TestStateDataDirEnvSubstitution(t *testing.T) {
	t.Setenv("ADJUTANT_DATA_DIR", "/custom/data")
	yaml := `
models:
  providers: {}
state:
  data_dir: "${ADJUTANT_DATA_DIR}"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.DataDir != "/custom/data" {
		t.Errorf("data_dir = %q, want /custom/data", cfg.State.DataDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte(testYAML), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Models.Providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(cfg.Models.Providers))
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseOrchestrator(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.MaxIterations != 8 {
		t.Errorf("max_iterations = %d, want 8", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ExecutionTimeout != "20s" {
		t.Errorf("execution_timeout = %q, want 20s", cfg.Orchestrator.ExecutionTimeout)
	}
	if len(cfg.Orchestrator.Rules) != 2 {
		t.Errorf("expected 2 rules, got %d", len(cfg.Orchestrator.Rules))
	}
	if cfg.Orchestrator.Rules[0] != "Never share salary data outside HR" {
		t.Errorf("rule[0] = %q", cfg.Orchestrator.Rules[0])
	}
}

func TestOrchestratorDefaults(t *testing.T) {
	cfg, err := Parse([]byte("models:\n  providers: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.MaxIterations != 10 {
		t.Errorf("default max_iterations = %d, want 10", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ExecutionTimeout != "30s" {
		t.Errorf("default execution_timeout = %q, want 30s", cfg.Orchestrator.ExecutionTimeout)
	}
	if cfg.Orchestrator.HistoryLimit != 40 {
		t.Errorf("default history_limit = %d, want 40", cfg.Orchestrator.HistoryLimit)
	}
	if len(cfg.Orchestrator.Rules) != 0 {
		t.Errorf("expected 0 rules when omitted, got %d", len(cfg.Orchestrator.Rules))
	}
}

func TestParseKnowledge(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	w := cfg.Knowledge.Weaviate
	if w.Class != "KnowledgeArticle" {
		t.Errorf("class = %q", w.Class)
	}
	if w.Certainty != 0.75 {
		t.Errorf("certainty = %v, want 0.75", w.Certainty)
	}
	if w.TopK != 3 {
		t.Errorf("top_k = %d, want 3", w.TopK)
	}
	if cfg.Knowledge.Cache.Addr != "localhost:6379" {
		t.Errorf("cache addr = %q", cfg.Knowledge.Cache.Addr)
	}
	if cfg.Knowledge.Cache.TTL != "10m" {
		t.Errorf("cache ttl = %q, want 10m", cfg.Knowledge.Cache.TTL)
	}
	if len(cfg.Knowledge.Placeholders) != 1 {
		t.Fatalf("placeholders = %v", cfg.Knowledge.Placeholders)
	}
	ph := cfg.Knowledge.Placeholders[0]
	if ph.ID != "hr-director" || ph.Name != "HR Director" || ph.Email != "hr@corp.test" {
		t.Errorf("placeholder = %+v", ph)
	}
}

func TestKnowledgeDefaults(t *testing.T) {
	cfg, err := Parse([]byte("models:\n  providers: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	w := cfg.Knowledge.Weaviate
	if w.Scheme != "http" || w.Class != "KnowledgeChunk" {
		t.Errorf("defaults = scheme %q class %q", w.Scheme, w.Class)
	}
	if w.Certainty != 0.7 {
		t.Errorf("default certainty = %v, want 0.7", w.Certainty)
	}
	if w.TopK != 5 {
		t.Errorf("default top_k = %d, want 5", w.TopK)
	}
}

func TestParseWorkspace(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workspace.CalendarBaseURL != "https://calendar.internal/api" {
		t.Errorf("calendar_base_url = %q", cfg.Workspace.CalendarBaseURL)
	}
	if cfg.Workspace.MailBaseURL != "https://mail.internal/api" {
		t.Errorf("mail_base_url = %q", cfg.Workspace.MailBaseURL)
	}
	if cfg.Workspace.OAuth.ClientID != "adjutant" {
		t.Errorf("oauth client_id = %q", cfg.Workspace.OAuth.ClientID)
	}
	if cfg.Workspace.OAuth.TokenURL != "https://sso.internal/oauth/token" {
		t.Errorf("oauth token_url = %q", cfg.Workspace.OAuth.TokenURL)
	}
}

func TestParseActionsAndScheduler(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Actions.PendingTTL != "12h" {
		t.Errorf("pending_ttl = %q, want 12h", cfg.Actions.PendingTTL)
	}
	if cfg.Scheduler.ExpireSpec != "@every 30m" {
		t.Errorf("expire_spec = %q", cfg.Scheduler.ExpireSpec)
	}
	if cfg.Scheduler.IdleConversationAge != "168h" {
		t.Errorf("idle_conversation_age = %q", cfg.Scheduler.IdleConversationAge)
	}
}

func TestParseServer(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}

	cfg, err = Parse([]byte("models:\n  providers: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestParseCapabilities(t *testing.T) {
	yaml := `
models:
  providers: {}
capabilities:
  - name: file_ticket
    description: File an IT helpdesk ticket.
    script: ./scripts/file_ticket.lua
    approval_required: true
    params:
      - name: summary
        type: string
        description: One-line problem summary
        required: true
      - name: priority
        type: int
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Capabilities) != 1 {
		t.Fatalf("expected 1 capability, got %d", len(cfg.Capabilities))
	}
	cc := cfg.Capabilities[0]
	if cc.Name != "file_ticket" || !cc.ApprovalRequired {
		t.Errorf("capability = %+v", cc)
	}
	if cc.Script != "./scripts/file_ticket.lua" {
		t.Errorf("script = %q", cc.Script)
	}
	if len(cc.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(cc.Params))
	}
	if cc.Params[0].Name != "summary" || !cc.Params[0].Required {
		t.Errorf("param[0] = %+v", cc.Params[0])
	}
	if cc.Params[1].Type != "int" || cc.Params[1].Required {
		t.Errorf("param[1] = %+v", cc.Params[1])
	}
}

func TestValidateBadDriver(t *testing.T) {
	yaml := `
models:
  providers: {}
state:
  driver: mysql
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	yaml := `
models:
  providers: {}
state:
  driver: postgres
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Error("expected error for postgres without dsn")
	}
}

func TestValidateCapabilityScript(t *testing.T) {
	yaml := `
models:
  providers: {}
capabilities:
  - name: broken
    description: no script
`
	if _, err := Parse([]byte(yaml)); err == nil {
		t.Error("expected error for capability without script")
	}
}

func TestDurationOr(t *testing.T) {
	tests := []struct {
		input    string
		fallback time.Duration
		want     time.Duration
	}{
		{"", time.Minute, time.Minute},
		{"30s", time.Minute, 30 * time.Second},
		{"garbage", time.Minute, time.Minute},
		{"2h", 0, 2 * time.Hour},
	}
	for _, tt := range tests {
		if got := DurationOr(tt.input, tt.fallback); got != tt.want {
			t.Errorf("DurationOr(%q, %v) = %v, want %v", tt.input, tt.fallback, got, tt.want)
		}
	}
}

func TestParseEmptyConfig(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Models.Providers) != 0 {
		t.Errorf("expected empty providers")
	}
	if cfg.Actions.PendingTTL != "24h" {
		t.Errorf("default pending_ttl = %q, want 24h", cfg.Actions.PendingTTL)
	}
	if cfg.Scheduler.ExpireSpec != "@every 1h" {
		t.Errorf("default expire_spec = %q", cfg.Scheduler.ExpireSpec)
	}
}

func TestExpandEnvMultipleVars(t *testing.T) {
	t.Setenv("VAR_A", "aaa")
	t.Setenv("VAR_B", "bbb")
	got := expandEnv("${VAR_A}-${VAR_B}")
	if got != "aaa-bbb" {
		t.Errorf("expandEnv = %q, want aaa-bbb", got)
	}
}
