package backendapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"insight-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsightList_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai-insights/client-1", r.URL.Path)
		assert.Equal(t, "2025-07", r.URL.Query().Get("period"))
		json.NewEncoder(w).Encode(map[string]any{
			"status": "available",
			"insights": []map[string]any{
				{"metricName": "sessions", "insightText": "up"},
				{"metricName": "pageviews", "insightText": "flat"},
			},
		})
	}))
	defer server.Close()

	client := NewInsightListClient(server.URL, server.Client())
	entry, err := client.Fetch(context.Background(), domain.CacheKey{ClientID: "client-1", Period: "2025-07"})
	require.NoError(t, err)

	assert.Equal(t, domain.EntryAvailable, entry.Status)
	require.Len(t, entry.Insights, 2)
	assert.NotNil(t, entry.FindMetric("pageviews"))
}

func TestInsightList_NotFoundIsEmptyEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewInsightListClient(server.URL, server.Client())
	entry, err := client.Fetch(context.Background(), domain.CacheKey{ClientID: "client-1", Period: "2025-07"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryAvailable, entry.Status)
	assert.Empty(t, entry.Insights)
}

func TestInsightList_UnknownStatusNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "somethingNew", "insights": []any{}})
	}))
	defer server.Close()

	client := NewInsightListClient(server.URL, server.Client())
	entry, err := client.Fetch(context.Background(), domain.CacheKey{ClientID: "client-1", Period: "2025-07"})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryAvailable, entry.Status)
}

func TestInsightList_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewInsightListClient(server.URL, server.Client())
	_, err := client.Fetch(context.Background(), domain.CacheKey{ClientID: "client-1", Period: "2025-07"})
	var gatewayErr *domain.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, http.StatusBadGateway, gatewayErr.StatusCode)
}
