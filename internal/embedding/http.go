package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the OpenAI API base URL.
const DefaultEndpoint = "https://api.openai.com/v1"

// HTTPConfig configures an OpenAI-compatible embeddings client.
type HTTPConfig struct {
	Endpoint   string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	Retry      RetryConfig
}

// HTTPEmbedder calls POST {endpoint}/embeddings on an OpenAI-compatible API.
type HTTPEmbedder struct {
	client *http.Client
	url    string
	model  string
	apiKey string
	dims   int
	retry  RetryConfig
	logger *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) {
		if client != nil {
			e.client = client
		}
	}
}

// NewHTTPEmbedder creates a remote embedder. Dimensions must be set; responses of
// any other length are rejected.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.New("http embedder: dimensions must be positive")
	}
	if cfg.Model == "" {
		return nil, errors.New("http embedder: model is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	e := &HTTPEmbedder{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/") + "/embeddings",
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		dims:   cfg.Dimensions,
		retry:  cfg.Retry,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embeddings request failed: HTTP %d: %s", e.code, e.body)
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts in one request. Rate-limit and server errors are
// retried with backoff; other 4xx responses fail immediately.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts, Dimensions: e.dims})
	if err != nil {
		return nil, err
	}

	var out [][]float32
	attempt := 0
	err = withRetry(ctx, e.retry, func() error {
		attempt++
		vecs, err := e.post(ctx, body, len(texts))
		if err != nil {
			e.logger.Debug("embeddings request failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, body []byte, n int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(truncateBody(data)))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, permanent(serr)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, permanent(fmt.Errorf("invalid embeddings response: %w", err))
	}
	if len(parsed.Data) != n {
		return nil, permanent(fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), n))
	}
	vecs := make([][]float32, n)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, permanent(fmt.Errorf("embeddings response index %d out of range for %d inputs", d.Index, n))
		}
		if vecs[d.Index] != nil {
			return nil, permanent(fmt.Errorf("embeddings response repeats index %d", d.Index))
		}
		if err := checkDimensions(d.Embedding, e.dims); err != nil {
			return nil, permanent(err)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func truncateBody(b []byte) []byte {
	const max = 512
	if len(b) > max {
		return b[:max]
	}
	return b
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dims
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
