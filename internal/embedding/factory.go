package embedding

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/config"
)

// Provider names accepted by New.
const (
	ProviderMock = "mock"
	ProviderONNX = "onnx"
	ProviderHTTP = "http"
)

// New builds the embedder described by cfg and wraps it with throttling and
// caching when those are configured. An ONNX model that cannot be loaded falls
// back to the mock embedder with a warning.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var base Embedder
	switch cfg.Provider {
	case "", ProviderMock:
		base = NewMockEmbedder(cfg.Dimensions)
	case ProviderONNX:
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("onnx embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			base = NewMockEmbedder(cfg.Dimensions)
		} else {
			base = onnx
		}
	case ProviderHTTP:
		retry := DefaultRetryConfig()
		retry.MaxRetries = cfg.MaxRetries
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		httpEmb, err := NewHTTPEmbedder(HTTPConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			APIKey:     apiKey,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			Retry:      retry,
		}, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		base = httpEmb
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	emb := base
	if cfg.RequestsPerSecond > 0 {
		emb = NewRateLimitedEmbedder(emb, cfg.RequestsPerSecond, cfg.Burst)
	}
	if cfg.CacheSize > 0 {
		emb = NewCachedEmbedder(emb, cfg.CacheSize)
	}
	logger.Debug("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", emb.Dimensions()))
	return emb, nil
}
