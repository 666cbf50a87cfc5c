package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"insight-orchestrator/internal/adapter/api"
	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/typewriter"
	"insight-orchestrator/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu        sync.Mutex
	record    *domain.InsightRecord
	err       error
	delResult *domain.DeleteResult
}

func (s *stubGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.InsightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	clone := *s.record
	clone.MetricName = req.Key.Metric
	return &clone, nil
}

func (s *stubGateway) GenerateWithContext(ctx context.Context, req domain.GenerateRequest) (*domain.InsightRecord, error) {
	rec, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	rec.HasContext = true
	rec.ContextText = req.UserContext
	return rec, nil
}

func (s *stubGateway) Delete(ctx context.Context, key domain.Key) (*domain.DeleteResult, error) {
	// Modest latency so optimistic state is observable before confirmation.
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.delResult != nil {
		return s.delResult, nil
	}
	return &domain.DeleteResult{OK: true, DeletedInsights: 1}, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[domain.CacheKey]domain.CacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[domain.CacheKey]domain.CacheEntry)}
}

func (m *memoryCache) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		entry = domain.CacheEntry{Status: domain.EntryAvailable}
	}
	return &entry, nil
}

func (m *memoryCache) MutateLocal(key domain.CacheKey, mutate func(domain.CacheEntry) domain.CacheEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return
	}
	m.entries[key] = mutate(entry)
}

func (m *memoryCache) Invalidate(ctx context.Context, key domain.CacheKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryCache) ForceRefetch(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	return m.Get(ctx, key)
}

type stubContexts struct {
	mu    sync.Mutex
	saved map[domain.Key]string
}

func (s *stubContexts) UserContext(ctx context.Context, key domain.Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[key], nil
}

func (s *stubContexts) Invalidate(key domain.Key) {}

func newTestServer(gw domain.MutationGateway) (*echo.Echo, *usecase.Registry) {
	registry := usecase.NewRegistry(usecase.ControllerDeps{
		Gateway:   gw,
		Cache:     newMemoryCache(),
		Contexts:  &stubContexts{saved: make(map[domain.Key]string)},
		Animator:  typewriter.New(64, time.Millisecond),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OpTimeout: 2 * time.Second,
	})

	e := echo.New()
	handler := api.NewHandler(registry, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.RegisterRoutes(e)
	return e, registry
}

func doJSON(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) usecase.Snapshot {
	t.Helper()
	var snap usecase.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestHandler_SnapshotFreshKey(t *testing.T) {
	e, _ := newTestServer(&stubGateway{})

	rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
		return decodeSnapshot(t, rec).Phase == usecase.PhaseIdle
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_GenerateFlow(t *testing.T) {
	gw := &stubGateway{record: &domain.InsightRecord{
		InsightText:        "Sessions are trending up.",
		RecommendationText: "Keep publishing weekly.",
		Status:             domain.StatusSuccess,
	}}
	e, _ := newTestServer(gw)

	rec := doJSON(e, http.MethodPost, "/v1/insights/client-1/sessions/generate", map[string]any{
		"timePeriod": "2025-07",
		"metricData": map[string]any{"clientValue": 120, "industryAvg": 100},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, "2025-07", snap.Period)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
		return decodeSnapshot(t, rec).Phase == usecase.PhaseDisplayed
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
	snap = decodeSnapshot(t, rec)
	require.NotNil(t, snap.Record)
	assert.Equal(t, "Sessions are trending up.", snap.Record.InsightText)
	assert.Equal(t, "sessions", snap.Record.MetricName)
}

func TestHandler_GenerateCanonicalizesPeriod(t *testing.T) {
	gw := &stubGateway{record: &domain.InsightRecord{InsightText: "ok", Status: domain.StatusSuccess}}
	e, _ := newTestServer(gw)

	rec := doJSON(e, http.MethodPost, "/v1/insights/client-1/sessions/generate", map[string]any{
		"timePeriod": "Last Month",
		"metricData": map[string]any{"clientValue": 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.Regexp(t, `^\d{4}-\d{2}$`, snap.Period)
}

func TestHandler_DeleteTombstones(t *testing.T) {
	gw := &stubGateway{record: &domain.InsightRecord{InsightText: "gone soon", Status: domain.StatusSuccess}}
	e, _ := newTestServer(gw)

	doJSON(e, http.MethodPost, "/v1/insights/client-1/sessions/generate", map[string]any{
		"timePeriod": "2025-07",
		"metricData": map[string]any{"clientValue": 1},
	})
	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
		return decodeSnapshot(t, rec).Phase == usecase.PhaseDisplayed
	}, 2*time.Second, 10*time.Millisecond)

	rec := doJSON(e, http.MethodDelete, "/v1/insights/client-1/sessions?period=2025-07", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := decodeSnapshot(t, rec)
	assert.True(t, snap.Tombstoned)
	assert.Nil(t, snap.Record)

	// The confirming read shows absence, so the key settles back to idle.
	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
		snap := decodeSnapshot(t, rec)
		return snap.Phase == usecase.PhaseIdle && !snap.Tombstoned
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RegenerateWithContextRequiresContext(t *testing.T) {
	e, _ := newTestServer(&stubGateway{})

	rec := doJSON(e, http.MethodPost, "/v1/insights/client-1/sessions/regenerate-with-context", map[string]any{
		"timePeriod": "2025-07",
		"metricData": map[string]any{"clientValue": 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ActivateSwitchesClient(t *testing.T) {
	e, registry := newTestServer(&stubGateway{record: &domain.InsightRecord{InsightText: "x", Status: domain.StatusSuccess}})

	rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/clients/client-2/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-2", registry.ActiveClient())

	rec = doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_RevealStreamsUntilDone(t *testing.T) {
	gw := &stubGateway{record: &domain.InsightRecord{
		InsightText:        "Reveal me character by character.",
		RecommendationText: "And me too.",
		Status:             domain.StatusSuccess,
	}}

	registry := usecase.NewRegistry(usecase.ControllerDeps{
		Gateway:   gw,
		Cache:     newMemoryCache(),
		Contexts:  &stubContexts{saved: make(map[domain.Key]string)},
		Animator:  typewriter.New(2, 5*time.Millisecond),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OpTimeout: 2 * time.Second,
	})
	e := echo.New()
	api.NewHandler(registry, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(e)

	rec := doJSON(e, http.MethodPost, "/v1/insights/client-1/sessions/generate", map[string]any{
		"timePeriod": "2025-07",
		"metricData": map[string]any{"clientValue": 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/snapshot?period=2025-07", nil)
		return decodeSnapshot(t, rec).Phase == usecase.PhaseRevealing
	}, 2*time.Second, 2*time.Millisecond)

	stream := doJSON(e, http.MethodGet, "/v1/insights/client-1/sessions/reveal?period=2025-07", nil)
	require.Equal(t, http.StatusOK, stream.Code)
	assert.Equal(t, "text/event-stream", stream.Header().Get(echo.HeaderContentType))

	require.NotEmpty(t, stream.Body.Bytes())
	// The final event carries a terminal phase.
	events := bytes.Split(bytes.TrimSpace(stream.Body.Bytes()), []byte("\n\n"))
	last := bytes.TrimPrefix(events[len(events)-1], []byte("data: "))
	var final usecase.Snapshot
	require.NoError(t, json.Unmarshal(last, &final))
	assert.NotEqual(t, usecase.PhaseRevealing, final.Phase,
		fmt.Sprintf("stream should end on a terminal phase, got %s", final.Phase))
}
