package domain

import "context"

// GenerateRequest carries everything the backend needs to produce a
// narrative for one metric.
type GenerateRequest struct {
	Key         Key
	Metrics     MetricComparison
	UserContext string // only for context-enhanced generation
}

// DeleteResult is the backend's confirmation of a delete call.
type DeleteResult struct {
	OK              bool `json:"ok"`
	DeletedInsights int  `json:"insights"`
	DeletedContexts int  `json:"contexts"`
}

// MutationGateway is the network boundary for the three mutating operations.
// Any non-2xx response surfaces as a recoverable error, never a panic or a
// stuck phase.
type MutationGateway interface {
	Generate(ctx context.Context, req GenerateRequest) (*InsightRecord, error)
	GenerateWithContext(ctx context.Context, req GenerateRequest) (*InsightRecord, error)
	Delete(ctx context.Context, key Key) (*DeleteResult, error)
}

// ContextStore reads previously-saved user context for a metric. Regenerate
// consults it to decide between plain and context-enhanced generation.
type ContextStore interface {
	// UserContext returns the saved context text, or "" when none exists.
	UserContext(ctx context.Context, key Key) (string, error)
	// Invalidate drops any cached context for the key, forcing the next
	// UserContext call back to the backend.
	Invalidate(key Key)
}
