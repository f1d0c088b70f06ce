package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/edanesia/eda/internal/llm"
	"github.com/edanesia/eda/pkg/utils"
)

// Client calls an OpenAI-compatible embeddings endpoint. Returned vectors are
// normalized to unit length so inner product equals cosine similarity, and
// cached by text in an LRU cache.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	cache      *EmbeddingCache
	maxRetries int
}

// ClientConfig configures the embeddings client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	CacheSize  int
	Timeout    time.Duration
}

// NewClient creates an embeddings client. APIKey, BaseURL, Model, and Dimensions are required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing base URL")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
		cache:      NewEmbeddingCache(cacheSize),
		maxRetries: 3,
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if emb, ok := c.cache.Get(text); ok {
		return emb, nil
	}
	embs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, embs[0])
	return embs[0], nil
}

// EmbedBatch embeds texts in one request, consulting the cache per text first.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if emb, ok := c.cache.Get(t); ok {
			out[i] = emb
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	embs, err := c.request(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, emb := range embs {
		out[missingIdx[j]] = emb
		c.cache.Set(missing[j], emb)
	}
	return out, nil
}

// request performs the HTTP call with retries on 429/5xx, honoring Retry-After.
func (c *Client) request(ctx context.Context, input []string) ([][]float32, error) {
	body := embedRequest{Model: c.model, Input: input}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastStatus int
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, ctx.Err())
			}
			if attempt < c.maxRetries {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastStatus = resp.StatusCode
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			if attempt < c.maxRetries {
				time.Sleep(delay)
				continue
			}
			if lastStatus == http.StatusTooManyRequests {
				return nil, llm.ErrRateLimited
			}
			return nil, fmt.Errorf("%w: embeddings returned status %d", llm.ErrUnavailable, lastStatus)
		}

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, b)
		}

		var parsed embedResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(parsed.Data) != len(input) {
			return nil, fmt.Errorf("embeddings response has %d vectors, want %d", len(parsed.Data), len(input))
		}
		out := make([][]float32, len(input))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
			}
			if len(d.Embedding) != c.dimensions {
				return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(d.Embedding), c.dimensions)
			}
			vec := make([]float32, len(d.Embedding))
			copy(vec, d.Embedding)
			utils.NormalizeL2(vec)
			out[d.Index] = vec
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: embeddings retries exhausted", llm.ErrUnavailable)
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * 250 * time.Millisecond
}

// Dimensions returns the embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op for Client.
func (c *Client) Close() error {
	return nil
}
