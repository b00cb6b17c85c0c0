package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/entity-resolution-service/internal/observability"
)

// Default values for the OpenAI provider.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOpenAIModel      = "text-embedding-3-small"
	defaultOpenAITimeout    = 30 * time.Second
	defaultOpenAIRetryDelay = 2 * time.Second
	providerOpenAI          = "openai"
)

// embeddingRequest is the /embeddings request body.
type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the /embeddings response body.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// openAIErrorResponse represents an error response from the OpenAI API.
type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// OpenAIConfig holds the parameters needed to create an OpenAI embedder.
type OpenAIConfig struct {
	// APIKey is the bearer token.
	APIKey string
	// Model is the embedding model identifier.
	Model string
	// BaseURL is the API base URL (empty means the public OpenAI endpoint).
	// Any OpenAI-compatible server works.
	BaseURL string
	// Dimensions requests a shortened vector from models that support it (0 = model default).
	Dimensions int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries is the number of retries on transient errors (0 = fail fast).
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// RateLimitRPS caps requests per second (0 = unlimited).
	RateLimitRPS float64
	// RateLimitBurst is the token bucket size.
	RateLimitBurst int
}

// Compile-time check that OpenAIEmbedder implements Embedder.
var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewOpenAIEmbedder creates an embedder for the OpenAI embeddings API.
func NewOpenAIEmbedder(cfg OpenAIConfig, metrics *observability.Metrics, logger zerolog.Logger) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultOpenAIRetryDelay
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &OpenAIEmbedder{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: cfg.Dimensions,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger.With().Str("component", "openai_embedder").Logger(),
	}
}

// Provider returns "openai".
func (e *OpenAIEmbedder) Provider() string {
	return providerOpenAI
}

// Model returns the embedding model identifier.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed returns the embedding of text. Transient errors (5xx, 429, network)
// are retried up to MaxRetries times with linear backoff.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimensions,
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay * time.Duration(attempt)
			e.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("retrying embedding request")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("openai: context cancelled during retry wait: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("openai: rate limiter: %w", err)
			}
		}

		start := time.Now()
		vec, err := e.doRequest(ctx, req)
		if err == nil {
			e.metrics.RecordEmbeddingRequest(providerOpenAI, time.Since(start))
			return vec, nil
		}
		e.metrics.RecordEmbeddingFailure(providerOpenAI, errorTypeOf(err))

		if !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}

	if e.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("openai: exhausted %d retries: %w", e.maxRetries, lastErr)
}

// doRequest performs a single /embeddings call.
func (e *OpenAIEmbedder) doRequest(ctx context.Context, embReq embeddingRequest) ([]float32, error) {
	body, err := json.Marshal(embReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("openai: request failed: %w", ctx.Err())
		}
		return nil, &APIError{Provider: providerOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned for input")
	}

	return embResp.Data[0].Embedding, nil
}

// parseOpenAIAPIError parses an OpenAI API error from the response status code and body.
func parseOpenAIAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   providerOpenAI,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
