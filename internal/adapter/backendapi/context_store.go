package backendapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insight-orchestrator/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ContextStoreClient reads previously-saved user context from the backend,
// memoizing results in a small expirable LRU so Regenerate's preference
// check does not hammer the endpoint on every click.
type ContextStoreClient struct {
	baseURL string
	client  *http.Client
	memo    *expirable.LRU[domain.Key, string]
}

// NewContextStoreClient constructs a context store client. ttl bounds how
// long a memoized context answer is trusted.
func NewContextStoreClient(baseURL string, client *http.Client, ttl time.Duration) *ContextStoreClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ContextStoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		memo:    expirable.NewLRU[domain.Key, string](256, nil, ttl),
	}
}

type contextResponseBody struct {
	UserContext string `json:"userContext"`
}

// UserContext returns the saved context for the key, "" when none exists.
func (c *ContextStoreClient) UserContext(ctx context.Context, key domain.Key) (string, error) {
	if cached, ok := c.memo.Get(key); ok {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/api/insight-context/%s/%s?period=%s",
		c.baseURL,
		url.PathEscape(key.ClientID),
		url.PathEscape(key.Metric),
		url.QueryEscape(key.Period))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create context request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call context endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.memo.Add(key, "")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", &domain.GatewayError{StatusCode: resp.StatusCode, Message: "context lookup failed"}
	}

	var body contextResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode context response: %w", err)
	}
	c.memo.Add(key, body.UserContext)
	return body.UserContext, nil
}

// Invalidate drops the memoized context for the key.
func (c *ContextStoreClient) Invalidate(key domain.Key) {
	c.memo.Remove(key)
}

var _ domain.ContextStore = (*ContextStoreClient)(nil)
