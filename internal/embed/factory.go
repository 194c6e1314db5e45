package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Aman-CERP/amanmem/internal/config"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// Set holds one embedder per mode. Embedders are built on first use, so a
// remote service that is down only matters once something asks for remote
// vectors.
type Set struct {
	cfg    config.EmbeddingsConfig
	logger *slog.Logger

	mu        sync.Mutex
	embedders map[Mode]Embedder
	queries   map[Mode]*CachedEmbedder
	build     func(ctx context.Context, mode Mode) (Embedder, error)
}

// NewSet creates a Set that builds embedders from configuration.
func NewSet(cfg config.EmbeddingsConfig, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{
		cfg:       cfg,
		logger:    logger.With("component", "embed"),
		embedders: make(map[Mode]Embedder),
		queries:   make(map[Mode]*CachedEmbedder),
	}
	s.build = s.fromConfig
	return s
}

// NewSetOf creates a Set over prebuilt embedders, one per mode.
func NewSetOf(logger *slog.Logger, embedders ...Embedder) *Set {
	s := NewSet(config.EmbeddingsConfig{}, logger)
	for _, e := range embedders {
		s.embedders[e.Mode()] = NewGuardedEmbedder(e, s.logger)
	}
	s.build = func(_ context.Context, mode Mode) (Embedder, error) {
		return nil, fmt.Errorf("no %s embedder configured", mode)
	}
	return s
}

// For returns the guarded embedder used to index content in mode.
func (s *Set) For(ctx context.Context, mode Mode) (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forLocked(ctx, mode)
}

func (s *Set) forLocked(ctx context.Context, mode Mode) (Embedder, error) {
	if e, ok := s.embedders[mode]; ok {
		return e, nil
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, amerrors.ValidationError(err.Error(), nil)
	}
	inner, err := s.build(ctx, mode)
	if err != nil {
		return nil, err
	}
	e := NewGuardedEmbedder(inner, s.logger)
	s.embedders[mode] = e
	s.logger.Info("embedder_ready",
		slog.String("mode", string(mode)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}

// Query returns the cached embedder used for search queries in mode.
func (s *Set) Query(ctx context.Context, mode Mode) (Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queries[mode]; ok {
		return q, nil
	}
	e, err := s.forLocked(ctx, mode)
	if err != nil {
		return nil, err
	}
	q := NewCachedEmbedder(e, s.cfg.QueryCacheSize)
	s.queries[mode] = q
	return q, nil
}

// Close closes every embedder that was built.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for mode, e := range s.embedders {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s embedder: %w", mode, err))
		}
	}
	s.embedders = make(map[Mode]Embedder)
	s.queries = make(map[Mode]*CachedEmbedder)
	return errors.Join(errs...)
}

func (s *Set) fromConfig(ctx context.Context, mode Mode) (Embedder, error) {
	if mode == ModeLocal {
		return NewStaticEmbedder(s.cfg.LocalDimensions), nil
	}
	return NewRemote(ctx, s.cfg.Remote, s.cfg.BatchSize)
}

// NewRemote builds the remote embedder named by cfg.Provider.
func NewRemote(ctx context.Context, cfg config.RemoteConfig, batchSize int) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", config.ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.Host != "" {
			oc.Host = cfg.Host
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		if batchSize > 0 {
			oc.BatchSize = batchSize
		}
		oc.Dimensions = cfg.Dimensions
		return NewOllamaEmbedder(ctx, oc)
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfigFromEnv(OpenAIConfig{
			BaseURL:    cfg.Host,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  batchSize,
			Timeout:    cfg.Timeout,
			MaxRetries: DefaultMaxRetries,
		}, cfg.APIKeyEnv))
	default:
		return nil, amerrors.ConfigError(fmt.Sprintf("unknown remote provider %q", cfg.Provider), nil)
	}
}
