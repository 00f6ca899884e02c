package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a chatstream.yaml configuration file.
// Unset values take the defaults from Default; CLI flags override both.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Policy   PolicyConfig   `yaml:"policy"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Registry RegistryConfig `yaml:"registry"`
	Resume   ResumeConfig   `yaml:"resume"`
	Notify   NotifyConfig   `yaml:"notify"`
	Tools    ToolsConfig    `yaml:"tools"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen            string   `yaml:"listen"`
	ShutdownGrace     Duration `yaml:"shutdown_grace"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	KeepAlive         Duration `yaml:"keep_alive"`
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Kind         string   `yaml:"kind"`
	Model        string   `yaml:"model"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens"`
	SystemPrompt string   `yaml:"system_prompt"`
	MaxToolTurns int      `yaml:"max_tool_turns"`
	// ScriptDelay paces the scripted provider's chunks.
	ScriptDelay Duration `yaml:"script_delay"`
	// Script is the reply of the scripted provider.
	Script string `yaml:"script"`
}

// StoreConfig configures the durable chunk store.
type StoreConfig struct {
	Backend   string   `yaml:"backend"`
	RedisURL  string   `yaml:"redis_url"`
	KeyPrefix string   `yaml:"key_prefix"`
	TTL       Duration `yaml:"ttl"`
	Timeout   Duration `yaml:"timeout"`
}

// PolicyConfig configures how frames are mirrored to the chunk store.
type PolicyConfig struct {
	Name         string   `yaml:"name"`
	AppendBudget Duration `yaml:"append_budget"`
	MaxInFlight  int64    `yaml:"max_in_flight"`
	FlushTimeout Duration `yaml:"flush_timeout"`
}

// ArchiveConfig configures message persistence.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// RegistryConfig bounds the in-process session registry.
type RegistryConfig struct {
	Capacity      int      `yaml:"capacity"`
	Retention     Duration `yaml:"retention"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ResumeConfig tunes the resume endpoint.
type ResumeConfig struct {
	// RecentWindow is how old the latest assistant message may be for a
	// resume of an unbuffered stream to answer with an empty stream.
	RecentWindow Duration `yaml:"recent_window"`
}

// NotifyConfig configures turn-completion notifications.
type NotifyConfig struct {
	Redis   RedisNotifyConfig   `yaml:"redis"`
	Webhook WebhookNotifyConfig `yaml:"webhook"`
}

// RedisNotifyConfig publishes to a Redis channel when URL is set.
type RedisNotifyConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// WebhookNotifyConfig posts to a URL when set.
type WebhookNotifyConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ToolsConfig declares the tools offered to the model.
type ToolsConfig struct {
	Weather     bool           `yaml:"weather"`
	CallTimeout Duration       `yaml:"call_timeout"`
	Remote      []RemoteConfig `yaml:"remote"`
}

// RemoteConfig declares one HTTP tool.
type RemoteConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Parameters  map[string]any    `yaml:"parameters"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used for every unset field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8080",
			ShutdownGrace:     Duration{30 * time.Second},
			ReadHeaderTimeout: Duration{10 * time.Second},
			KeepAlive:         Duration{15 * time.Second},
		},
		Provider: ProviderConfig{Kind: "scripted", MaxToolTurns: 5},
		Store:    StoreConfig{Backend: "memory", TTL: Duration{time.Hour}, Timeout: Duration{2 * time.Second}},
		Policy:   PolicyConfig{Name: "async", AppendBudget: Duration{50 * time.Millisecond}, MaxInFlight: 256, FlushTimeout: Duration{5 * time.Second}},
		Archive:  ArchiveConfig{Backend: "fs", Dataset: "chats", Path: "./data"},
		Registry: RegistryConfig{Capacity: 1024, Retention: Duration{time.Hour}, SweepInterval: Duration{time.Minute}},
		Resume:   ResumeConfig{RecentWindow: Duration{15 * time.Second}},
		Tools:    ToolsConfig{CallTimeout: Duration{30 * time.Second}},
		Log:      LogConfig{Level: "info"},
	}
}

var (
	providerKinds = []string{"openai", "anthropic", "scripted"}
	storeBackends = []string{"redis", "memory", "none"}
	policyNames   = []string{"async", "strict", "noop"}
	archiveKinds  = []string{"fs", "s3", "memory"}
	logLevels     = []string{"debug", "info", "warn", "error"}
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Listen != "", "server.listen is required")
	check(oneOf(c.Provider.Kind, providerKinds), "provider.kind %q must be one of %v", c.Provider.Kind, providerKinds)
	if c.Provider.Kind == "openai" || c.Provider.Kind == "anthropic" {
		check(c.Provider.Model != "", "provider.model is required for %s", c.Provider.Kind)
		check(c.Provider.APIKey != "", "provider.api_key is required for %s", c.Provider.Kind)
	}
	if t := c.Provider.Temperature; t != nil {
		check(*t >= 0 && *t <= 2, "provider.temperature %v must be within [0, 2]", *t)
	}
	check(c.Provider.MaxTokens >= 0, "provider.max_tokens must be >= 0")
	check(c.Provider.MaxToolTurns >= 1, "provider.max_tool_turns must be >= 1")

	check(oneOf(c.Store.Backend, storeBackends), "store.backend %q must be one of %v", c.Store.Backend, storeBackends)
	if c.Store.Backend == "redis" {
		check(c.Store.RedisURL != "", "store.redis_url is required for the redis backend")
	}
	check(oneOf(c.Policy.Name, policyNames), "policy.name %q must be one of %v", c.Policy.Name, policyNames)
	check(c.Policy.MaxInFlight >= 0, "policy.max_in_flight must be >= 0")

	check(oneOf(c.Archive.Backend, archiveKinds), "archive.backend %q must be one of %v", c.Archive.Backend, archiveKinds)
	if c.Archive.Backend != "memory" {
		check(c.Archive.Path != "", "archive.path is required for the %s backend", c.Archive.Backend)
	}

	check(c.Registry.Capacity > 0, "registry.capacity must be > 0")
	check(c.Resume.RecentWindow.Duration >= 0, "resume.recent_window must be >= 0")

	for _, r := range []*int{c.Notify.Redis.Retries, c.Notify.Webhook.Retries} {
		if r != nil {
			check(*r >= 0, "notify retries must be >= 0, got %d", *r)
		}
	}

	seen := make(map[string]bool)
	for i, t := range c.Tools.Remote {
		check(t.Name != "", "tools.remote[%d].name is required", i)
		check(t.URL != "", "tools.remote[%d].url is required", i)
		check(!seen[t.Name], "tools.remote[%d]: duplicate tool %q", i, t.Name)
		seen[t.Name] = true
	}
	check(oneOf(c.Log.Level, logLevels), "log.level %q must be one of %v", c.Log.Level, logLevels)

	return errors.Join(errs...)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
