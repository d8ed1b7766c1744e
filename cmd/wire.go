package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	webrtcavatar "github.com/bnema/venue-concierge/internal/adapters/avatar/webrtc"
	"github.com/bnema/venue-concierge/internal/adapters/generation/openai"
	grantsrender "github.com/bnema/venue-concierge/internal/adapters/render/grants"
	redisrepo "github.com/bnema/venue-concierge/internal/adapters/repo/redis"
	tomlrepo "github.com/bnema/venue-concierge/internal/adapters/repo/toml"
	chainstore "github.com/bnema/venue-concierge/internal/adapters/secrets/chain"
	filestore "github.com/bnema/venue-concierge/internal/adapters/secrets/file"
	passstore "github.com/bnema/venue-concierge/internal/adapters/secrets/pass"
	"github.com/bnema/venue-concierge/internal/application"
	"github.com/bnema/venue-concierge/internal/config"
	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const configEnv = "CONCIERGE_CONFIG"

type app struct {
	cfg     *viper.Viper
	logger  *slog.Logger
	stores  stores
	secrets ports.SecretStore

	hub      *application.NotificationHub
	catalog  *application.CatalogCache
	grants   *application.GrantWorkflow
	sessions *application.SessionRegistry
	avatar   *webrtcavatar.Provider

	grantsRenderer func([]domain.GrantRequest, grantsrender.RenderOptions) (string, error)
	clock          ports.TickerClock
	now            func() time.Time
}

type stores struct {
	catalog       ports.CatalogRepository
	grants        ports.GrantRepository
	sessions      ports.SessionRepository
	conversations ports.ConversationRepository
	close         func() error
}

func wireApp() (*app, error) {
	cfg, err := config.Load(os.Getenv(configEnv))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	repos, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire store: %w", err)
	}

	secrets, err := openSecrets(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	var generatorOpts []openai.Option
	if ref := cfg.GetString("generation.api_key_ref"); ref != "" {
		generatorOpts = append(generatorOpts, openai.WithKeySource(func(ctx context.Context) (string, error) {
			return secrets.Get(ctx, ref)
		}))
	}

	clock := ports.SystemClock{}
	hub := application.NewNotificationHub(clock, logger.With("component", "hub"), application.NotificationHubConfig{
		Capacity: cfg.GetInt("hub.capacity"),
		Mailbox:  cfg.GetInt("hub.mailbox"),
	})
	catalog := application.NewCatalogCache(repos.catalog, clock, logger.With("component", "catalog"), application.CatalogCacheConfig{
		TTL:         cfg.GetDuration("cache.ttl"),
		LoadTimeout: cfg.GetDuration("cache.load_timeout"),
	})
	grants := application.NewGrantWorkflow(repos.grants, repos.catalog, hub, clock, logger.With("component", "grants"), application.GrantWorkflowConfig{
		TTL: cfg.GetDuration("grants.ttl"),
	})
	avatar := webrtcavatar.New(cfg, logger.With("component", "avatar"))
	sessions := application.NewSessionRegistry(application.SessionRegistryDeps{
		Avatar:        avatar,
		Sessions:      repos.sessions,
		Conversations: repos.conversations,
		Catalog:       catalog,
		Generator:     openai.New(cfg, nil, generatorOpts...),
		Clock:         clock,
		Logger:        logger.With("component", "sessions"),
	}, application.SessionRegistryConfig{
		HistoryTurns: cfg.GetInt("sessions.history_turns"),
		Segments:     segmentKeys(cfg.GetStringSlice("sessions.segments")),
		Persona:      cfg.GetString("sessions.persona"),
	})

	return &app{
		cfg:            cfg,
		logger:         logger,
		stores:         repos,
		secrets:        secrets,
		hub:            hub,
		catalog:        catalog,
		grants:         grants,
		sessions:       sessions,
		avatar:         avatar,
		grantsRenderer: grantsrender.Render,
		clock:          clock,
		now:            time.Now,
	}, nil
}

func openStores(cfg *viper.Viper) (stores, error) {
	switch driver := cfg.GetString("store.driver"); driver {
	case config.DriverRedis:
		store, err := redisrepo.Open(context.Background(), cfg)
		if err != nil {
			return stores{}, err
		}
		return stores{
			catalog:       store.Catalog(),
			grants:        store.Grants(),
			sessions:      store.Sessions(),
			conversations: store.Conversations(),
			close:         store.Close,
		}, nil
	case config.DriverTOML:
		store, err := tomlrepo.NewStore(cfg)
		if err != nil {
			return stores{}, err
		}
		return stores{
			catalog:       store.Catalog(),
			grants:        store.Grants(),
			sessions:      store.Sessions(),
			conversations: store.Conversations(),
			close:         func() error { return nil },
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store driver %q", driver)
	}
}

func openSecrets(cfg *viper.Viper) (ports.SecretStore, error) {
	root := cfg.GetString("secrets.path")
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(homeDir, ".concierge", "secrets")
	}

	switch backend := cfg.GetString("secrets.backend"); backend {
	case config.SecretsPass:
		return passstore.NewStore(), nil
	case config.SecretsFile:
		return filestore.NewStore(root), nil
	case config.SecretsChain:
		return chainstore.NewPassFirstWithFileFallback(root)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}

func segmentKeys(raw []string) []domain.SegmentKey {
	keys := make([]domain.SegmentKey, 0, len(raw))
	for _, key := range raw {
		keys = append(keys, domain.SegmentKey(key))
	}
	return keys
}

// shutdown releases live sessions and background workers. Errors are logged
// since the process is exiting anyway.
func (a *app) shutdown(ctx context.Context) {
	if err := a.sessions.CloseAll(ctx); err != nil {
		a.logger.Warn("close sessions", "error", err)
	}
	a.catalog.Close()
	a.hub.Close()
	if err := a.avatar.Close(); err != nil {
		a.logger.Warn("close avatar provider", "error", err)
	}
	if err := a.stores.close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
