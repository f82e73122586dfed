package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// HTTPClientOptions configures the HTTP embedder.
type HTTPClientOptions struct {
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client

	// Path is the embed endpoint path on the service.
	Path string
}

// DefaultHTTPClientOptions holds the default HTTP embedder configuration.
var DefaultHTTPClientOptions = HTTPClientOptions{
	Path: "/embed",
}

// HTTPClient calls an embedding service over HTTP. The service accepts a
// JSON body {"text": ...} and answers {"embedding": [...]}.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates an embedder backed by the service at baseURL.
func NewHTTPClient(baseURL string, optFns ...func(o *HTTPClientOptions)) (*HTTPClient, error) {
	opts := DefaultHTTPClientOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("embedding: invalid base url %q: %w", baseURL, err)
	}
	u = u.JoinPath(opts.Path)

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &HTTPClient{endpoint: u.String(), client: client}, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: service returned %s: %s", ErrEmbeddingFailed, resp.Status, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: service returned an empty embedding", ErrEmbeddingFailed)
	}

	return out.Embedding, nil
}
