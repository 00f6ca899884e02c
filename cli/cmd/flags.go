// Package cmd provides CLI commands for the chatstream binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/vercel/ai-chatbot-sub000/cli/config"
)

// Flags shared by commands that read the service configuration. Set
// flags override the config file.
var (
	// ConfigFlag points at a chatstream.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to chatstream.yaml",
		EnvVars: []string{"CHATSTREAM_CONFIG"},
	}

	// ListenFlag overrides server.listen.
	ListenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address",
	}

	// ProviderFlag overrides provider.kind.
	ProviderFlag = &cli.StringFlag{
		Name:  "provider",
		Usage: "Model provider: openai, anthropic, scripted",
	}

	// ModelFlag overrides provider.model.
	ModelFlag = &cli.StringFlag{
		Name:  "model",
		Usage: "Default model name",
	}

	// RedisURLFlag selects the redis chunk store at the given URL.
	RedisURLFlag = &cli.StringFlag{
		Name:    "redis-url",
		Usage:   "Redis URL of the chunk store (redis://host:port/db)",
		EnvVars: []string{"CHATSTREAM_REDIS_URL"},
	}

	// LogLevelFlag overrides log.level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// ServiceFlags returns the flags accepted by serve.
func ServiceFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		ListenFlag,
		ProviderFlag,
		ModelFlag,
		RedisURLFlag,
		LogLevelFlag,
	}
}

// loadConfig loads the config file named by --config and applies flag
// overrides. It does not validate.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}
	if c.IsSet(ListenFlag.Name) {
		cfg.Server.Listen = c.String(ListenFlag.Name)
	}
	if c.IsSet(ProviderFlag.Name) {
		cfg.Provider.Kind = c.String(ProviderFlag.Name)
	}
	if c.IsSet(ModelFlag.Name) {
		cfg.Provider.Model = c.String(ModelFlag.Name)
	}
	if c.IsSet(RedisURLFlag.Name) {
		cfg.Store.Backend = "redis"
		cfg.Store.RedisURL = c.String(RedisURLFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = c.String(LogLevelFlag.Name)
	}
	return cfg, nil
}
