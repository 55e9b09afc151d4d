package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Models       ModelsConfig       `yaml:"models"`
	Routing      RoutingConfig      `yaml:"routing"`
	State        StateConfig        `yaml:"state"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Actions      ActionsConfig      `yaml:"actions"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Server       ServerConfig       `yaml:"server"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
}

type ModelsConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	API     string            `yaml:"api"`
	Models  []ModelDefinition `yaml:"models"`
}

type ModelDefinition struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	ContextWindow int    `yaml:"context_window"`
	MaxTokens     int    `yaml:"max_tokens"`
}

type RoutingConfig struct {
	Primary     string   `yaml:"primary"`
	Fallbacks   []string `yaml:"fallbacks"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   string   `yaml:"base_delay"`
}

type StateConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

type OrchestratorConfig struct {
	MaxIterations    int      `yaml:"max_iterations"`
	ExecutionTimeout string   `yaml:"execution_timeout"`
	HistoryLimit     int      `yaml:"history_limit"`
	Rules            []string `yaml:"rules"`
}

type KnowledgeConfig struct {
	Weaviate     WeaviateConfig      `yaml:"weaviate"`
	Cache        CacheConfig         `yaml:"cache"`
	Placeholders []PlaceholderConfig `yaml:"placeholders"`
}

// PlaceholderConfig is a well-known directory stand-in (a role, not a person)
// that employee resolution answers directly instead of querying.
type PlaceholderConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type WeaviateConfig struct {
	Host      string  `yaml:"host"`
	Scheme    string  `yaml:"scheme"`
	Class     string  `yaml:"class"`
	Certainty float64 `yaml:"certainty"`
	TopK      int     `yaml:"top_k"`
}

type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

type WorkspaceConfig struct {
	CalendarBaseURL string      `yaml:"calendar_base_url"`
	MailBaseURL     string      `yaml:"mail_base_url"`
	OAuth           OAuthConfig `yaml:"oauth"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type ActionsConfig struct {
	PendingTTL string `yaml:"pending_ttl"`
}

type SchedulerConfig struct {
	ExpireSpec          string `yaml:"expire_spec"`
	PruneSpec           string `yaml:"prune_spec"`
	IdleConversationAge string `yaml:"idle_conversation_age"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CapabilityConfig declares a custom capability backed by a Lua script.
type CapabilityConfig struct {
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	Script           string            `yaml:"script"`
	ApprovalRequired bool              `yaml:"approval_required"`
	Params           []CapabilityParam `yaml:"params"`
}

type CapabilityParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Models.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Models.Providers[name] = p
	}
	cfg.State.DSN = expandEnv(cfg.State.DSN)
	cfg.State.DataDir = expandEnv(cfg.State.DataDir)
	cfg.Knowledge.Weaviate.Host = expandEnv(cfg.Knowledge.Weaviate.Host)
	cfg.Knowledge.Cache.Addr = expandEnv(cfg.Knowledge.Cache.Addr)
	cfg.Knowledge.Cache.Password = expandEnv(cfg.Knowledge.Cache.Password)
	cfg.Workspace.CalendarBaseURL = expandEnv(cfg.Workspace.CalendarBaseURL)
	cfg.Workspace.MailBaseURL = expandEnv(cfg.Workspace.MailBaseURL)
	cfg.Workspace.OAuth.ClientID = expandEnv(cfg.Workspace.OAuth.ClientID)
	cfg.Workspace.OAuth.ClientSecret = expandEnv(cfg.Workspace.OAuth.ClientSecret)
	cfg.Workspace.OAuth.TokenURL = expandEnv(cfg.Workspace.OAuth.TokenURL)
	cfg.Server.Addr = expandEnv(cfg.Server.Addr)
}

func applyDefaults(cfg *Config) {
	if cfg.State.Driver == "" {
		cfg.State.Driver = "sqlite"
	}
	if cfg.State.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.State.DataDir = filepath.Join(home, ".adjutant")
	}
	if cfg.Orchestrator.MaxIterations == 0 {
		cfg.Orchestrator.MaxIterations = 10
	}
	if cfg.Orchestrator.ExecutionTimeout == "" {
		cfg.Orchestrator.ExecutionTimeout = "30s"
	}
	if cfg.Orchestrator.HistoryLimit == 0 {
		cfg.Orchestrator.HistoryLimit = 40
	}
	if cfg.Knowledge.Weaviate.Scheme == "" {
		cfg.Knowledge.Weaviate.Scheme = "http"
	}
	if cfg.Knowledge.Weaviate.Class == "" {
		cfg.Knowledge.Weaviate.Class = "KnowledgeChunk"
	}
	if cfg.Knowledge.Weaviate.Certainty == 0 {
		cfg.Knowledge.Weaviate.Certainty = 0.7
	}
	if cfg.Knowledge.Weaviate.TopK == 0 {
		cfg.Knowledge.Weaviate.TopK = 5
	}
	if cfg.Knowledge.Cache.TTL == "" {
		cfg.Knowledge.Cache.TTL = "5m"
	}
	if cfg.Actions.PendingTTL == "" {
		cfg.Actions.PendingTTL = "24h"
	}
	if cfg.Scheduler.ExpireSpec == "" {
		cfg.Scheduler.ExpireSpec = "@every 1h"
	}
	if cfg.Scheduler.PruneSpec == "" {
		cfg.Scheduler.PruneSpec = "@daily"
	}
	if cfg.Scheduler.IdleConversationAge == "" {
		cfg.Scheduler.IdleConversationAge = "720h"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.State.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("state.driver %q: must be sqlite or postgres", c.State.Driver)
	}
	if c.State.Driver == "postgres" && c.State.DSN == "" {
		return fmt.Errorf("state.dsn is required for the postgres driver")
	}
	if c.Knowledge.Weaviate.Certainty < 0 || c.Knowledge.Weaviate.Certainty > 1 {
		return fmt.Errorf("knowledge.weaviate.certainty %v: must be within [0, 1]", c.Knowledge.Weaviate.Certainty)
	}
	for _, cc := range c.Capabilities {
		if cc.Name == "" {
			return fmt.Errorf("capability with empty name")
		}
		if cc.Script == "" {
			return fmt.Errorf("capability %s: script is required", cc.Name)
		}
	}
	return nil
}

// DurationOr parses a config duration string, falling back when the value is
// empty or malformed.
func DurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
