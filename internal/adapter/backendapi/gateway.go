// Package backendapi holds the HTTP clients for the insight backend: the
// mutation gateway, the context store, and the insight-list fetch the cache
// layer uses.
package backendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insight-orchestrator/internal/domain"
)

// Gateway implements domain.MutationGateway against the backend's REST
// endpoints. Response bodies are decoded into one explicit schema and
// normalized here, never ad hoc at call sites.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway constructs a gateway for the given backend base URL.
func NewGateway(baseURL string, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

type generateRequestBody struct {
	MetricName  string                  `json:"metricName"`
	TimePeriod  string                  `json:"timePeriod"`
	MetricData  domain.MetricComparison `json:"metricData"`
	UserContext string                  `json:"userContext,omitempty"`
}

type deleteResponseBody struct {
	OK      bool `json:"ok"`
	Deleted struct {
		Insights int `json:"insights"`
		Contexts int `json:"contexts"`
	} `json:"deleted"`
}

type errorResponseBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Blocked bool   `json:"blocked"`
}

// Generate requests a plain narrative for one metric.
func (g *Gateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.InsightRecord, error) {
	endpoint := fmt.Sprintf("%s/api/generate-metric-insight/%s", g.baseURL, url.PathEscape(req.Key.ClientID))
	return g.postGenerate(ctx, endpoint, req, false)
}

// GenerateWithContext requests a narrative grounded on user-supplied context.
func (g *Gateway) GenerateWithContext(ctx context.Context, req domain.GenerateRequest) (*domain.InsightRecord, error) {
	endpoint := fmt.Sprintf("%s/api/generate-metric-insight-with-context/%s", g.baseURL, url.PathEscape(req.Key.ClientID))
	return g.postGenerate(ctx, endpoint, req, true)
}

func (g *Gateway) postGenerate(ctx context.Context, endpoint string, req domain.GenerateRequest, withCtx bool) (*domain.InsightRecord, error) {
	body := generateRequestBody{
		MetricName: req.Key.Metric,
		TimePeriod: req.Key.Period,
		MetricData: req.Metrics,
	}
	if withCtx {
		body.UserContext = req.UserContext
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call generate endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.decodeError(resp, withCtx)
	}

	var rec domain.InsightRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if rec.MetricName == "" {
		rec.MetricName = req.Key.Metric
	}
	if withCtx {
		rec.HasContext = true
	}
	return &rec, nil
}

// Delete removes the insight (and any stored context) for the key.
func (g *Gateway) Delete(ctx context.Context, key domain.Key) (*domain.DeleteResult, error) {
	endpoint := fmt.Sprintf("%s/api/ai-insights/%s/%s?period=%s",
		g.baseURL,
		url.PathEscape(key.ClientID),
		url.PathEscape(key.Metric),
		url.QueryEscape(key.Period))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create delete request: %w", err)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call delete endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.decodeError(resp, false)
	}

	var body deleteResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode delete response: %w", err)
	}
	return &domain.DeleteResult{
		OK:              body.OK,
		DeletedInsights: body.Deleted.Insights,
		DeletedContexts: body.Deleted.Contexts,
	}, nil
}

// decodeError turns a non-2xx response into a recoverable typed error. A
// blocked context submission surfaces as ErrContextBlocked so the controller
// can word the reason distinctly.
func (g *Gateway) decodeError(resp *http.Response, withCtx bool) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body errorResponseBody
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
		if withCtx && (body.Blocked || resp.StatusCode == http.StatusUnprocessableEntity) {
			return fmt.Errorf("%w: %s", domain.ErrContextBlocked, msg)
		}
	}
	return &domain.GatewayError{StatusCode: resp.StatusCode, Message: msg}
}

var _ domain.MutationGateway = (*Gateway)(nil)
