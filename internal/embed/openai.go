package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// DefaultOpenAIModel is used when no remote model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint (empty uses the SDK default).
	BaseURL string

	APIKey string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimensions requests shortened vectors; required so collections can be named.
	Dimensions int

	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// HTTPClient replaces the transport (for testing).
	HTTPClient *http.Client
}

// OpenAIConfigFromEnv fills APIKey from the named environment variable.
func OpenAIConfigFromEnv(cfg OpenAIConfig, keyEnv string) OpenAIConfig {
	if cfg.APIKey == "" && keyEnv != "" {
		cfg.APIKey = os.Getenv(keyEnv)
	}
	return cfg
}

// OpenAIEmbedder generates remote embeddings through the OpenAI embeddings API
// or any server that speaks it.
type OpenAIEmbedder struct {
	client  openai.Client
	config  OpenAIConfig
	breaker *amerrors.CircuitBreaker
	retry   amerrors.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. It performs no network call.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, amerrors.ConfigError("openai embedder requires an API key", nil).
			WithSuggestion("export the variable named by embeddings.remote.api_key_env")
	}
	if cfg.Dimensions <= 0 {
		return nil, amerrors.ConfigError("openai embedder requires embeddings.remote.dimensions", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	// Retries belong to our policy, not the SDK's.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	retry := amerrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.InitialDelay = 500 * time.Millisecond
	retry.MaxDelay = 8 * time.Second
	retry.Jitter = true
	retry.ShouldRetry = isTransient

	return &OpenAIEmbedder{
		client:  openai.NewClient(opts...),
		config:  cfg,
		breaker: amerrors.NewCircuitBreaker("openai", amerrors.WithMaxFailures(5), amerrors.WithResetTimeout(time.Minute)),
		retry:   retry,
	}, nil
}

// Embed implements Embedder. Blank texts get zero vectors without a request.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.config.Dimensions)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := pending[start:min(start+e.config.BatchSize, len(pending))]
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		vecs, err := amerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return amerrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
				return e.doEmbed(ctx, batchTexts)
			})
		})
		if err != nil {
			return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "openai embedding failed", err).
				WithDetail("model", e.config.Model)
		}
		for i, idx := range batch {
			results[idx] = vecs[i]
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.config.Model),
		Dimensions: openai.Int(int64(e.config.Dimensions)),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = toFloat32(d.Embedding)
	}
	return out, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return amerrors.New(amerrors.ErrCodeNetworkUnavailable,
				fmt.Sprintf("openai status %d", apiErr.StatusCode), err)
		}
		return amerrors.New(amerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("openai status %d", apiErr.StatusCode), err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return amerrors.NetworkError("openai request failed", err)
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Mode implements Embedder.
func (e *OpenAIEmbedder) Mode() Mode {
	return ModeRemote
}

// ModelName implements Embedder.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available implements Embedder. It reports the circuit state rather than
// spending a billed request.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.breaker.State() != amerrors.StateOpen
}

// Close implements Embedder.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
