package domain

// InsightStatus is the business status assigned to an insight by the backend.
// The controller treats it as opaque beyond display routing.
type InsightStatus string

const (
	StatusSuccess          InsightStatus = "success"
	StatusNeedsImprovement InsightStatus = "needs_improvement"
	StatusWarning          InsightStatus = "warning"
)

// Key identifies one metric's insight: the (client, metric, canonical period)
// triple is the sole identity at this layer, no separate record id exists.
type Key struct {
	ClientID string
	Metric   string
	Period   string // canonical YYYY-MM
}

// CacheKey returns the shared-cache key for this insight. One cache entry
// holds all metrics of a client for a period.
func (k Key) CacheKey() CacheKey {
	return CacheKey{ClientID: k.ClientID, Period: k.Period}
}

// InsightRecord is the unit of data for one metric in one period.
type InsightRecord struct {
	MetricName         string        `json:"metricName"`
	ContextText        string        `json:"contextText,omitempty"`
	InsightText        string        `json:"insightText,omitempty"`
	RecommendationText string        `json:"recommendationText,omitempty"`
	Status             InsightStatus `json:"status"`
	HasContext         bool          `json:"hasContext"`
}

// MetricComparison carries the numeric values the backend grounds an insight
// on. The controller passes it through without interpreting it.
type MetricComparison struct {
	ClientValue    float64 `json:"clientValue"`
	IndustryAvg    float64 `json:"industryAvg"`
	PortfolioAvg   float64 `json:"portfolioAvg"`
	CompetitorAvg  float64 `json:"competitorAvg"`
	CompetitorName string  `json:"competitorName,omitempty"`
}

// EntryStatus is the lifecycle status of a whole cache entry as reported by
// the insight-list endpoint.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryGenerating EntryStatus = "generating"
	EntryAvailable  EntryStatus = "available"
)

// CacheEntry is the shared remote-cache value for one (client, period):
// every metric shown on the dashboard page reads from the same entry.
type CacheEntry struct {
	Status   EntryStatus     `json:"status"`
	Insights []InsightRecord `json:"insights"`
}

// FindMetric returns the record for the named metric, or nil.
func (e *CacheEntry) FindMetric(metric string) *InsightRecord {
	if e == nil {
		return nil
	}
	for i := range e.Insights {
		if e.Insights[i].MetricName == metric {
			return &e.Insights[i]
		}
	}
	return nil
}

// WithoutMetric returns a copy of the entry with the named metric filtered
// out. Sibling metrics sharing the entry are unaffected.
func (e CacheEntry) WithoutMetric(metric string) CacheEntry {
	filtered := make([]InsightRecord, 0, len(e.Insights))
	for _, rec := range e.Insights {
		if rec.MetricName != metric {
			filtered = append(filtered, rec)
		}
	}
	return CacheEntry{Status: e.Status, Insights: filtered}
}

// WithRecord returns a copy of the entry with the record upserted by metric
// name.
func (e CacheEntry) WithRecord(rec InsightRecord) CacheEntry {
	out := e.WithoutMetric(rec.MetricName)
	out.Insights = append(out.Insights, rec)
	return out
}
