package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/scopemem-go/pkg/embedder/openai"
	"github.com/oceanbase/scopemem-go/pkg/hierarchy"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/llm"
	anthropicLLM "github.com/oceanbase/scopemem-go/pkg/llm/anthropic"
	openaiLLM "github.com/oceanbase/scopemem-go/pkg/llm/openai"
	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
	"github.com/oceanbase/scopemem-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/scopemem-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/scopemem-go/pkg/storage/sqlite"
)

// Client is the memory engine.
//
// It stores memories scoped across the organizational hierarchy, decides
// whether candidates are novel, duplicate or contradictory, assembles
// budgeted context for a caller, decays stale memories and drives the
// sharing workflow.
//
// The client is safe for concurrent use from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(ctx, config)
//	defer client.Close()
//
//	result, _ := client.IngestCandidate(ctx, &core.Candidate{
//	    Content:     "Deploys run on Fridays",
//	    OwnerUserID: "alice",
//	    SpaceID:     "s1",
//	    Confidence:  0.8,
//	})
type Client struct {
	// config contains the client configuration.
	config *Config
	engine *EngineConfig

	// store persists memories, proposals and audit events.
	store storage.Store

	// llm is the LLM provider (nil disables LLM features).
	llm llm.Provider

	// embedder generates vectors (nil falls back to word-set similarity).
	embedder embedder.Provider

	// access caches access-control decisions; resolver applies them.
	access   *hierarchy.CachedAccess
	resolver *hierarchy.Resolver

	intel    *intelligence.Manager
	workflow *sharing.Workflow

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	logger *log.Logger
	now    func() time.Time
}

// NewClient creates a new client.
//
// The client is initialized with:
//   - a store (SQLite, PostgreSQL or OceanBase)
//   - an optional LLM provider for extraction, importance and compression
//   - an optional embedding provider
//   - the access-control collaborator, from an access policy file unless
//     WithAccessChecker is given
//
// Parameters:
//   - ctx: Context for opening the store
//   - cfg: Configuration
//   - opts: Collaborator overrides
func NewClient(ctx context.Context, cfg *Config, opts ...ClientOption) (*Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg == nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: nil config", ErrInvalidConfig))
	}
	if o.store == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	engine := cfg.engine()

	logger := o.logger
	if logger == nil {
		logger = log.Default()
	}
	now := o.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	node, err := snowflake.NewNode(engine.NodeID)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	llmProvider := o.llm
	if llmProvider == nil {
		if llmProvider, err = initLLM(cfg.LLM); err != nil {
			return nil, err
		}
	}

	embedderProvider := o.embedder
	if embedderProvider == nil {
		if embedderProvider, err = initEmbedder(cfg.Embedder); err != nil {
			return nil, err
		}
	}

	checker := o.access
	if checker == nil {
		if checker, err = initAccess(engine); err != nil {
			return nil, err
		}
	}
	access, err := hierarchy.NewCachedAccess(checker, engine.AccessCacheTTL)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	store := o.store
	if store == nil {
		if store, err = initStorage(ctx, cfg.Store); err != nil {
			access.Close()
			return nil, err
		}
	}

	resolver := hierarchy.NewResolver(access, logger)

	intel := intelligence.NewManager(store, llmProvider, engine.Intelligence, &intelligence.Options{
		Counter:    o.counter,
		Extractor:  o.extractor,
		Summarizer: o.summarizer,
		Logger:     logger,
	})

	notifier := o.notifier
	if notifier == nil {
		notifier = sharing.LogNotifier{Logger: logger}
	}
	workflow := sharing.NewWorkflow(store, resolver,
		sharing.WithNotifier(notifier),
		sharing.WithLogger(logger),
		sharing.WithClock(now),
		sharing.WithNotifyTimeout(engine.NotifyTimeout),
	)

	return &Client{
		config:        cfg,
		engine:        engine,
		store:         store,
		llm:           llmProvider,
		embedder:      embedderProvider,
		access:        access,
		resolver:      resolver,
		intel:         intel,
		workflow:      workflow,
		snowflakeNode: node,
		logger:        logger,
		now:           now,
	}, nil
}

// initStorage opens the store named by the configuration.
func initStorage(ctx context.Context, cfg StoreConfig) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Provider {
	case "sqlite":
		store, err = sqliteStore.NewClient(ctx, &sqliteStore.Config{
			DBPath:         cfg.SQLitePath,
			CollectionName: cfg.CollectionName,
			BusyTimeoutMS:  cfg.BusyTimeoutMS,
		})
	case "postgres":
		store, err = postgresStore.NewClient(ctx, &postgresStore.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       cfg.Password,
			DBName:         cfg.Database,
			CollectionName: cfg.CollectionName,
			SSLMode:        cfg.SSLMode,
		})
	case "oceanbase":
		store, err = oceanbase.NewClient(ctx, &oceanbase.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       cfg.Password,
			DBName:         cfg.Database,
			CollectionName: cfg.CollectionName,
		})
	default:
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: unsupported store provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	return store, nil
}

// initLLM creates the LLM provider. An empty provider disables LLM features.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai", "deepseek", "qwen", "ollama":
		baseURL, model := llmDefaults(cfg.Provider)
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			model = cfg.Model
		}
		client, err := openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   model,
			BaseURL: baseURL,
			Params:  cfg.Params,
		})
		if err != nil {
			return nil, NewMemoryError("initLLM", err)
		}
		return client, nil
	case "anthropic":
		_, model := llmDefaults(cfg.Provider)
		if cfg.Model != "" {
			model = cfg.Model
		}
		client, err := anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   model,
			BaseURL: cfg.BaseURL,
			Params:  cfg.Params,
		})
		if err != nil {
			return nil, NewMemoryError("initLLM", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		return client, nil
	default:
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: unsupported LLM provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initEmbedder creates the embedding provider. An empty provider disables
// embeddings.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai", "qwen":
		baseURL, model := embedderDefaults(cfg.Provider)
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			model = cfg.Model
		}
		client, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      model,
			BaseURL:    baseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, NewMemoryError("initEmbedder", err)
		}
		return client, nil
	default:
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: unsupported embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initAccess loads the access policy, or denies every scope check without
// one.
func initAccess(engine *EngineConfig) (hierarchy.AccessChecker, error) {
	if engine.AccessPolicyPath == "" {
		return hierarchy.DenyAll{}, nil
	}
	policy, err := hierarchy.LoadPolicy(engine.AccessPolicyPath)
	if err != nil {
		return nil, NewMemoryError("initAccess", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return policy, nil
}

// Store returns the underlying store.
func (c *Client) Store() storage.Store { return c.store }

// Resolver returns the hierarchy resolver.
func (c *Client) Resolver() *hierarchy.Resolver { return c.resolver }

// Workflow returns the sharing workflow.
func (c *Client) Workflow() *sharing.Workflow { return c.workflow }

// RefreshAccess discards cached access decisions, e.g. after a membership
// change.
func (c *Client) RefreshAccess() {
	c.access.Refresh()
}

// GetMemory returns a memory the caller may see. Invisible memories are
// reported as ErrNotFound. Every successful read is audited.
func (c *Client) GetMemory(ctx context.Context, caller *CallerContext, id int64) (*Memory, error) {
	if caller == nil || caller.UserID == "" {
		return nil, invalidInput("GetMemory", "caller is required")
	}
	m, err := c.store.GetMemory(ctx, id)
	if err != nil {
		return nil, NewMemoryError("GetMemory", err)
	}
	if !c.resolver.CanSee(ctx, caller, m) {
		return nil, NewMemoryError("GetMemory", ErrNotFound)
	}
	c.audit(ctx, accessedEvent(m, caller.UserID, "read", c.now()))
	return m, nil
}

// accessedEvent records that actorID received m. how is "read", "selected"
// or "streamed".
func accessedEvent(m *storage.Memory, actorID, how string, at time.Time) *storage.AuditEvent {
	return &storage.AuditEvent{
		EventType:   storage.EventAccessed,
		EntityType:  storage.EntityMemory,
		EntityID:    strconv.FormatInt(m.ID, 10),
		ActorUserID: actorID,
		After:       how,
		Scope:       m.Anchor(),
		CreatedAt:   at,
	}
}

// AuditTrail returns the audit events of an entity in append order.
func (c *Client) AuditTrail(ctx context.Context, entityType storage.EntityType, entityID string) ([]*AuditEvent, error) {
	events, err := c.store.ListAudit(ctx, &storage.AuditFilter{EntityType: entityType, EntityID: entityID})
	if err != nil {
		return nil, NewMemoryError("AuditTrail", err)
	}
	return events, nil
}

// Wait blocks until background notifications have finished.
func (c *Client) Wait() {
	c.workflow.Wait()
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.workflow.Wait()

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.access.Close()
	return NewMemoryError("Close", errors.Join(errs...))
}

// audit appends events, logging failures.
func (c *Client) audit(ctx context.Context, events ...*storage.AuditEvent) {
	at := c.now()
	for _, e := range events {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = at
		}
	}
	if err := c.store.AppendAudit(ctx, events...); err != nil {
		c.logger.Printf("[scopemem] audit append failed: %v", err)
	}
}
