package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/llm"
	customLLM "github.com/oceanbase/impression-go/pkg/llm/custom"
	openaiLLM "github.com/oceanbase/impression-go/pkg/llm/openai"
	"github.com/oceanbase/impression-go/pkg/storage"
	"github.com/oceanbase/impression-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/impression-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/impression-go/pkg/storage/sqlite"
)

// Client is the impression client.
//
// It owns the enrichment pipeline (importance filter, profile merger,
// affection updater and deduplication tracker) over one store and one LLM
// provider, and answers the read-only profile queries.
//
// The client is safe for concurrent use. Messages of the same user are
// processed one at a time; different users proceed in parallel.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	result, _ := client.Process(ctx, core.Message{
//	    UserID: "user_001",
//	    Text:   "I love reading sci-fi novels",
//	})
//	fmt.Println(result.Status)
type Client struct {
	config *Config

	store      storage.Store
	provider   llm.Provider
	classifier *llm.Classifier

	filter   *intelligence.ImportanceFilter
	merger   *intelligence.ProfileMerger
	updater  *intelligence.AffectionUpdater
	tracker  *intelligence.DedupTracker
	metrics  *Metrics
	logger   *zap.Logger
	locks    *userLocks
	idNode   *snowflake.Node
	now      func() time.Time
	closeMu  sync.Mutex
	isClosed bool
}

// Option configures optional collaborators of a Client.
type Option func(*clientOptions)

type clientOptions struct {
	store    storage.Store
	provider llm.Provider
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time
}

// WithStore uses store instead of opening the configured database.
// The client takes ownership and closes it on Close.
func WithStore(store storage.Store) Option {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithProvider uses provider instead of the configured LLM provider.
func WithProvider(provider llm.Provider) Option {
	return func(o *clientOptions) {
		o.provider = provider
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics records pipeline and classifier metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// NewClient creates a new impression client.
//
// The client is initialized with:
//   - Storage (SQLite, PostgreSQL or OceanBase), migrated on open
//   - LLM provider (OpenAI-compatible or custom endpoint)
//   - The enrichment components configured from cfg
//
// A missing API key is not an error: every model call then fails fast as
// not configured and each step takes its fallback.
//
// Parameters:
//   - cfg: Configuration (nil uses DefaultConfig)
//   - opts: Optional collaborators overriding the configured ones
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := o.now
	if now == nil {
		now = time.Now
	}

	store := o.store
	if store == nil {
		var err error
		store, err = initStorage(cfg.Storage, logger)
		if err != nil {
			return nil, NewImpressionError("NewClient", err)
		}
	}

	provider := o.provider
	if provider == nil {
		var err error
		provider, err = initLLM(cfg.LLM)
		if err != nil {
			_ = store.Close()
			return nil, NewImpressionError("NewClient", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		_ = store.Close()
		return nil, NewImpressionError("NewClient", err)
	}

	classifier := llm.NewClassifier(provider, cfg.classifierConfig(), logger.Named("llm"))
	if o.metrics != nil {
		classifier.SetObserver(o.metrics.ObserveClassifier)
	}
	if !classifier.Configured() {
		logger.Warn("llm not configured, scoring falls back to heuristics",
			zap.String("provider", cfg.LLM.Provider))
	}

	history := intelligence.NewHistory(cfg.WeightFilter.HistoryCapacity)
	component := logger.Named("intelligence")

	return &Client{
		config:     cfg,
		store:      store,
		provider:   provider,
		classifier: classifier,
		filter:     intelligence.NewImportanceFilter(classifier, history, cfg.filterConfig(), component),
		merger:     intelligence.NewProfileMerger(classifier, store, cfg.Prompts.Impression, component),
		updater:    intelligence.NewAffectionUpdater(classifier, store, cfg.affectionConfig(), component),
		tracker:    intelligence.NewDedupTracker(store, component),
		metrics:    o.metrics,
		logger:     logger,
		locks:      newUserLocks(),
		idNode:     node,
		now:        now,
	}, nil
}

// initStorage opens the configured database.
func initStorage(cfg StorageConfig, logger *zap.Logger) (storage.Store, error) {
	storeLogger := logger.Named("storage")
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:        cfg.SQLite.Path,
			BusyTimeoutMS: cfg.SQLite.BusyTimeoutMS,
		}, storeLogger)
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, storeLogger)
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:     cfg.OceanBase.Host,
			Port:     cfg.OceanBase.Port,
			User:     cfg.OceanBase.User,
			Password: cfg.OceanBase.Password,
			DBName:   cfg.OceanBase.Database,
		}, storeLogger)
	default:
		return nil, fmt.Errorf("%w: unsupported storage provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// initLLM creates the configured provider. It returns a nil provider when
// no API key is set.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		client, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "custom":
		client, err := customLLM.NewClient(&customLLM.Config{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// Store returns the underlying store.
func (c *Client) Store() storage.Store {
	return c.store
}

// Filter returns the importance filter.
func (c *Client) Filter() *intelligence.ImportanceFilter {
	return c.filter
}

// Close closes the store and the provider. It is safe to call twice.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.isClosed {
		return nil
	}
	c.isClosed = true

	var firstErr error
	if c.provider != nil {
		if err := c.provider.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return NewImpressionError("Close", firstErr)
}

// userLocks serializes work per user.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID is free and returns the matching unlock.
// Entries are dropped once no goroutine holds or waits for them.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// withUser runs fn while holding userID's lock. fn is skipped once ctx is done.
func (c *Client) withUser(ctx context.Context, userID string, fn func(context.Context) error) error {
	unlock := c.locks.lock(userID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
