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
)

// InsightListClient fetches the shared insight entry for a (client, period)
// from the backend. It is the fetch side of the insight cache.
type InsightListClient struct {
	baseURL string
	client  *http.Client
}

// NewInsightListClient constructs a list client for the backend base URL.
func NewInsightListClient(baseURL string, client *http.Client) *InsightListClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &InsightListClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type insightListResponse struct {
	Status   string                 `json:"status"`
	Insights []domain.InsightRecord `json:"insights"`
}

// Fetch reads the entry, normalizing the response into the one explicit
// schema the rest of the system consumes.
func (c *InsightListClient) Fetch(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	endpoint := fmt.Sprintf("%s/api/ai-insights/%s?period=%s",
		c.baseURL,
		url.PathEscape(key.ClientID),
		url.QueryEscape(key.Period))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create insight list request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call insight list endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &domain.CacheEntry{Status: domain.EntryAvailable, Insights: nil}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.GatewayError{StatusCode: resp.StatusCode, Message: "insight list fetch failed"}
	}

	var body insightListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode insight list response: %w", err)
	}

	entry := &domain.CacheEntry{
		Status:   domain.EntryStatus(body.Status),
		Insights: body.Insights,
	}
	switch entry.Status {
	case domain.EntryPending, domain.EntryGenerating, domain.EntryAvailable:
	default:
		entry.Status = domain.EntryAvailable
	}
	return entry, nil
}
