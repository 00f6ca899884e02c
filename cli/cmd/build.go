package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vercel/ai-chatbot-sub000/adapter"
	redisadapter "github.com/vercel/ai-chatbot-sub000/adapter/redis"
	"github.com/vercel/ai-chatbot-sub000/adapter/webhook"
	"github.com/vercel/ai-chatbot-sub000/chunkstore"
	"github.com/vercel/ai-chatbot-sub000/cli/config"
	"github.com/vercel/ai-chatbot-sub000/lode"
	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/metrics"
	"github.com/vercel/ai-chatbot-sub000/policy"
	"github.com/vercel/ai-chatbot-sub000/provider"
	"github.com/vercel/ai-chatbot-sub000/provider/anthropic"
	"github.com/vercel/ai-chatbot-sub000/provider/openai"
	"github.com/vercel/ai-chatbot-sub000/provider/scripted"
	"github.com/vercel/ai-chatbot-sub000/runtime"
	"github.com/vercel/ai-chatbot-sub000/server"
	"github.com/vercel/ai-chatbot-sub000/tools"
	"github.com/vercel/ai-chatbot-sub000/upstream"
)

// defaultScript is the reply of the scripted provider when none is configured.
const defaultScript = "Hello from the scripted provider."

// service is every long-lived component of a running chatstream process.
type service struct {
	config     *config.Config
	logger     *log.Logger
	collector  *metrics.Collector
	store      *chunkstore.Store
	policy     policy.Policy
	archive    *lode.Archive
	notifier   adapter.Adapter
	registry   *runtime.Registry
	supervisor *runtime.Supervisor
	controller *runtime.Controller
	server     *server.Server
	gatherer   *prometheus.Registry
}

// newService wires cfg into a ready-to-serve service. cfg must be valid.
func newService(ctx context.Context, cfg *config.Config, logger *log.Logger) (*service, error) {
	s := &service{
		config:    cfg,
		logger:    logger,
		collector: metrics.NewCollector(cfg.Provider.Kind, cfg.Store.Backend, cfg.Policy.Name),
	}

	prov, err := buildProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	registry, err := buildTools(cfg.Tools, logger, s.collector)
	if err != nil {
		return nil, err
	}
	gen, err := upstream.New(upstream.Config{
		Provider:     prov,
		Tools:        registry,
		Model:        cfg.Provider.Model,
		SystemPrompt: cfg.Provider.SystemPrompt,
		Temperature:  cfg.Provider.Temperature,
		MaxTokens:    cfg.Provider.MaxTokens,
		MaxToolTurns: cfg.Provider.MaxToolTurns,
		Logger:       logger,
		Collector:    s.collector,
	})
	if err != nil {
		return nil, err
	}

	if s.store, err = buildStore(cfg.Store, logger, s.collector); err != nil {
		return nil, err
	}
	s.policy, err = policy.FromName(cfg.Policy.Name, s.store, policy.AsyncConfig{
		MaxInFlight:   cfg.Policy.MaxInFlight,
		AcquireBudget: cfg.Policy.AppendBudget.Duration,
		Logger:        logger,
		Collector:     s.collector,
	})
	if err != nil {
		return nil, err
	}
	if s.archive, err = buildArchive(ctx, cfg.Archive); err != nil {
		return nil, err
	}
	if s.notifier, err = buildNotifier(cfg.Notify); err != nil {
		return nil, err
	}

	s.registry = runtime.NewRegistry(runtime.RegistryConfig{
		Capacity:  cfg.Registry.Capacity,
		Retention: cfg.Registry.Retention.Duration,
	})
	s.supervisor = runtime.NewSupervisor(logger, s.collector)
	s.controller, err = runtime.NewController(runtime.ControllerConfig{
		Generator:    gen,
		Registry:     s.registry,
		Supervisor:   s.supervisor,
		Store:        s.store,
		Policy:       s.policy,
		Persistence:  s.archive,
		Notifier:     s.notifier,
		FlushTimeout: cfg.Policy.FlushTimeout.Duration,
		Logger:       logger,
		Collector:    s.collector,
	})
	if err != nil {
		return nil, err
	}

	s.gatherer = prometheus.NewRegistry()
	s.gatherer.MustRegister(
		metrics.NewPrometheusCollector(s.collector),
		collectors.NewGoCollector(),
	)

	s.server, err = server.New(server.Config{
		Controller:   s.controller,
		Archive:      s.archive,
		Store:        s.store,
		Registry:     s.registry,
		Supervisor:   s.supervisor,
		Gatherer:     s.gatherer,
		RecentWindow: cfg.Resume.RecentWindow.Duration,
		KeepAlive:    cfg.Server.KeepAlive.Duration,
		Logger:       logger,
		Collector:    s.collector,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler of the service.
func (s *service) Handler() http.Handler {
	return s.server.Handler()
}

// Close drains background work and releases every resource. Tasks still
// running when ctx expires are abandoned and logged.
func (s *service) Close(ctx context.Context) error {
	var errs []error
	if err := s.supervisor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	if err := s.policy.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	if err := s.archive.WriteMetrics(context.WithoutCancel(ctx), s.collector.Snapshot(), time.Now()); err != nil {
		s.logger.Warn("failed to archive metrics", map[string]any{"error": err.Error()})
	}
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("chunk store: %w", err))
	}
	if err := s.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	return errors.Join(errs...)
}

func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case openai.Name:
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case anthropic.Name:
		return anthropic.New(anthropic.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case scripted.Name:
		reply := cfg.Script
		if reply == "" {
			reply = defaultScript
		}
		return scripted.New(cfg.ScriptDelay.Duration, scripted.Text(reply)), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Kind)
	}
}

func buildTools(cfg config.ToolsConfig, logger *log.Logger, collector *metrics.Collector) (*tools.Registry, error) {
	registry := tools.NewRegistry(tools.Options{
		CallTimeout: cfg.CallTimeout.Duration,
		Logger:      logger,
		Collector:   collector,
	})
	if cfg.Weather {
		if err := registry.Register(tools.NewWeather(tools.WeatherConfig{})); err != nil {
			return nil, err
		}
	}
	for _, rc := range cfg.Remote {
		remote, err := tools.NewRemote(tools.RemoteConfig{
			Name:        rc.Name,
			Description: rc.Description,
			Parameters:  rc.Parameters,
			URL:         rc.URL,
			Headers:     rc.Headers,
			Timeout:     rc.Timeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(remote); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildStore(cfg config.StoreConfig, logger *log.Logger, collector *metrics.Collector) (*chunkstore.Store, error) {
	opts := chunkstore.Options{Timeout: cfg.Timeout.Duration, Logger: logger, Collector: collector}
	switch cfg.Backend {
	case "none":
		return chunkstore.New(nil, opts), nil
	case "memory":
		return chunkstore.New(chunkstore.NewMemoryBackend(cfg.TTL.Duration), opts), nil
	case "redis":
		backend, err := chunkstore.NewRedisBackend(chunkstore.RedisConfig{
			URL:       cfg.RedisURL,
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.TTL.Duration,
		})
		if err != nil {
			return nil, err
		}
		return chunkstore.New(backend, opts), nil
	default:
		return nil, fmt.Errorf("unknown chunk store backend %q", cfg.Backend)
	}
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (*lode.Archive, error) {
	lc := lode.Config{Dataset: cfg.Dataset}
	switch cfg.Backend {
	case "fs":
		return lode.NewFSArchive(lc, cfg.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(cfg.Path)
		return lode.NewS3Archive(ctx, lc, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	case "memory":
		mem := lodelib.NewMemory()
		return lode.NewArchive(lc, func() (lodelib.Store, error) { return mem, nil })
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// buildNotifier returns nil when no notification target is configured.
func buildNotifier(cfg config.NotifyConfig) (adapter.Adapter, error) {
	var targets adapter.Multi
	if cfg.Redis.URL != "" {
		a, err := redisadapter.New(redisadapter.Config{
			URL:     cfg.Redis.URL,
			Channel: cfg.Redis.Channel,
			Timeout: cfg.Redis.Timeout.Duration,
			Retries: retries(cfg.Redis.Retries, redisadapter.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	if cfg.Webhook.URL != "" {
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: cfg.Webhook.Timeout.Duration,
			Retries: retries(cfg.Webhook.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets, nil
}

// retries resolves an optional retry count; an explicit 0 disables retries.
func retries(n *int, def int) int {
	if n == nil {
		return def
	}
	return *n
}
