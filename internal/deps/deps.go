// Package deps builds the process-wide handles every component shares.
package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pbaille/notes/internal/agent"
	"github.com/pbaille/notes/internal/assemble"
	"github.com/pbaille/notes/internal/config"
	"github.com/pbaille/notes/internal/embedding"
	"github.com/pbaille/notes/internal/guardrail"
	"github.com/pbaille/notes/internal/links"
	"github.com/pbaille/notes/internal/llm"
	"github.com/pbaille/notes/internal/retrieval"
	"github.com/pbaille/notes/internal/store"
	"github.com/pbaille/notes/internal/telemetry"
	"go.uber.org/zap"
)

// Context holds the configuration and lazily built collaborators. It is
// immutable after New and safe for concurrent use.
type Context struct {
	cfg    *config.Config
	logger *zap.Logger
	apiKey string
	h      *handles
}

type handles struct {
	metrics *telemetry.Metrics

	llmOnce sync.Once
	llm     *llm.Client
	llmErr  error

	embedOnce sync.Once
	embedder  embedding.Embedder
	embedErr  error

	searchOnce sync.Once
	searcher   *retrieval.Retriever
	memory     *retrieval.MemoryIndex
	searchErr  error

	storeOnce sync.Once
	store     *store.Store
	storeErr  error

	linksOnce sync.Once
	links     *links.Client
	linksErr  error

	runnerOnce sync.Once
	runner     *agent.Runner
	runnerErr  error
}

// New validates cfg and creates a Context
func New(cfg *config.Config, logger *zap.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return nil, err
	}

	return &Context{cfg: cfg, logger: logger, h: &handles{metrics: metrics}}, nil
}

// WithAPIKey returns a Context whose model calls use key. Every other handle is shared.
func (c *Context) WithAPIKey(key string) *Context {
	if key == "" {
		return c
	}
	return &Context{cfg: c.cfg, logger: c.logger, apiKey: key, h: c.h}
}

// Config returns the settings
func (c *Context) Config() *config.Config { return c.cfg }

// Logger returns the process logger
func (c *Context) Logger() *zap.Logger { return c.logger }

// Metrics returns the pipeline instruments
func (c *Context) Metrics() *telemetry.Metrics { return c.h.metrics }

// LLM returns the model client
func (c *Context) LLM() (*llm.Client, error) {
	c.h.llmOnce.Do(func() {
		api := llm.APIChatCompletions
		if c.cfg.LLM.UseResponsesAPI {
			api = llm.APIResponses
		}
		c.h.llm, c.h.llmErr = llm.New(llm.Options{
			BaseURL: c.cfg.LLM.ProxyURL,
			APIKey:  c.cfg.LLM.APIKey,
			Model:   c.cfg.ActiveModel(),
			API:     api,
			Timeout: c.cfg.GetGenerationTimeout(),
		})
	})
	if c.h.llmErr != nil {
		return nil, c.h.llmErr
	}
	if c.apiKey != "" {
		return c.h.llm.WithAPIKey(c.apiKey), nil
	}
	return c.h.llm, nil
}

// Embedder returns the query embedder for the configured provider
func (c *Context) Embedder(ctx context.Context) (embedding.Embedder, error) {
	c.h.embedOnce.Do(func() {
		e := c.cfg.Embedding
		switch e.Provider {
		case config.ProviderGenAI:
			c.h.embedder, c.h.embedErr = embedding.NewGenAI(ctx, e.GenAIKey, e.GenAIModel)
		default:
			c.h.embedder, c.h.embedErr = embedding.NewProxy(c.cfg.LLM.ProxyURL, c.cfg.LLM.APIKey,
				e.Model, e.Dimensions, c.cfg.GetRetrievalTimeout())
		}
	})
	return c.h.embedder, c.h.embedErr
}

// Searcher returns the semantic retriever over the configured backend
func (c *Context) Searcher(ctx context.Context) (*retrieval.Retriever, error) {
	c.h.searchOnce.Do(func() {
		embedder, err := c.Embedder(ctx)
		if err != nil {
			c.h.searchErr = fmt.Errorf("create embedder: %w", err)
			return
		}

		index, err := c.index()
		if err != nil {
			c.h.searchErr = err
			return
		}

		c.h.searcher = retrieval.New(embedder, index, c.cfg.Retrieval.ScoreThreshold, c.logger)
	})
	return c.h.searcher, c.h.searchErr
}

func (c *Context) index() (retrieval.Index, error) {
	r := c.cfg.Retrieval
	switch r.Backend {
	case config.BackendSQLite:
		s, err := c.Store()
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		c.h.memory = retrieval.NewMemoryIndex()
		return c.h.memory, nil
	default:
		q, err := retrieval.NewQdrant(r.QdrantURL, r.Collection, c.cfg.GetRetrievalTimeout())
		if err != nil {
			return nil, fmt.Errorf("create qdrant client: %w", err)
		}
		return q, nil
	}
}

// Store opens the SQLite note index, creating its directory if needed
func (c *Context) Store() (*store.Store, error) {
	c.h.storeOnce.Do(func() {
		path := c.cfg.Retrieval.DatabasePath
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			c.h.storeErr = fmt.Errorf("create db dir: %w", err)
			return
		}
		c.h.store, c.h.storeErr = store.New(path)
		if c.h.storeErr != nil {
			c.h.storeErr = fmt.Errorf("open note index: %w", c.h.storeErr)
		}
	})
	return c.h.store, c.h.storeErr
}

// Links returns the link service client
func (c *Context) Links() (*links.Client, error) {
	c.h.linksOnce.Do(func() {
		c.h.links, c.h.linksErr = links.New(c.cfg.Links.BaseURL, c.cfg.GetLinkTimeout(), c.logger)
	})
	return c.h.links, c.h.linksErr
}

// Runner returns the query runner. Collaborators that cannot be built are
// left out and logged; only a missing model client is an error.
func (c *Context) Runner(ctx context.Context) (*agent.Runner, error) {
	c.h.runnerOnce.Do(func() {
		c.h.runner, c.h.runnerErr = c.buildRunner(ctx)
	})
	if c.h.runnerErr != nil {
		return nil, c.h.runnerErr
	}
	if c.apiKey != "" {
		client, err := c.LLM()
		if err != nil {
			return nil, err
		}
		return c.h.runner.WithCompleter(client), nil
	}
	return c.h.runner, nil
}

func (c *Context) buildRunner(ctx context.Context) (*agent.Runner, error) {
	base := &Context{cfg: c.cfg, logger: c.logger, h: c.h}

	client, err := base.LLM()
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	var searcher retrieval.Searcher
	if s, err := base.Searcher(ctx); err != nil {
		c.logger.Warn("semantic search unavailable", zap.Error(err))
	} else {
		searcher = s
	}

	var (
		deriver  agent.LinkDeriver
		resolver assemble.LinkResolver
	)
	if l, err := base.Links(); err != nil {
		c.logger.Warn("link service unavailable", zap.Error(err))
	} else {
		deriver, resolver = l, l
	}

	guards := guardrail.New(client, guardrail.Settings{
		Timeout:      c.cfg.GetGuardrailTimeout(),
		Temperature:  c.cfg.LLM.Temperature,
		MaxTokens:    c.cfg.LLM.MaxTokens,
		IncludeUsage: c.cfg.LLM.EnableUsageReporting,
	}, c.h.metrics, c.logger)
	gen := agent.NewGenerator(client, deriver, agent.GeneratorOptions{
		MaxTurns:     c.cfg.LLM.MaxTurns,
		Temperature:  c.cfg.LLM.Temperature,
		MaxTokens:    c.cfg.LLM.MaxTokens,
		IncludeUsage: c.cfg.LLM.EnableUsageReporting,
	}, c.logger)

	return agent.New(searcher, guards, gen, assemble.New(resolver, c.logger), c.h.metrics, agent.Options{
		SearchLimit:       c.cfg.Retrieval.Limit,
		RetrievalTimeout:  c.cfg.GetRetrievalTimeout(),
		GenerationTimeout: c.cfg.GetGenerationTimeout(),
		ModelName:         client.Model(),
		APIVariant:        string(client.API()),
		ModelClass:        client.Class(),
		ProxyURL:          client.BaseURL(),
	}, c.logger), nil
}

// MemoryIndex returns the in-memory index when that backend is active
func (c *Context) MemoryIndex() *retrieval.MemoryIndex { return c.h.memory }

// Close releases the handles that hold resources
func (c *Context) Close() error {
	if c.h.store != nil {
		return c.h.store.Close()
	}
	return nil
}
