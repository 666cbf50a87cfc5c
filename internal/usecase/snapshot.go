package usecase

import (
	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/typewriter"
)

// RevealProgress is the animator cursor exposed while a reveal runs.
type RevealProgress struct {
	SectionIndex int `json:"sectionIndex"`
	// Chars is the number of characters already revealed across sections.
	Chars int `json:"chars"`
}

// Snapshot is everything the presentation layer sees: a discriminated phase
// plus an optional human-readable error. Gateway errors never propagate past
// this shape.
type Snapshot struct {
	ClientID   string                `json:"clientId"`
	Metric     string                `json:"metric"`
	Period     string                `json:"period"`
	Phase      Phase                 `json:"phase"`
	Record     *domain.InsightRecord `json:"record,omitempty"`
	Sections   []string              `json:"sections,omitempty"` // partial while Revealing, full once Displayed
	Busy       bool                  `json:"busy"`
	WithCtx    bool                  `json:"busyWithContext"`
	Tombstoned bool                  `json:"tombstoned"`
	Progress   *RevealProgress       `json:"revealProgress,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Snapshot returns the current exposed state. While Revealing the text is
// always the animator's partial output, never the raw cache value.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ClientID:   c.key.ClientID,
		Metric:     c.key.Metric,
		Period:     c.key.Period,
		Phase:      c.phase,
		Busy:       c.phase == PhaseLoading || c.phase == PhaseGenerating || c.phase == PhaseDeleting,
		WithCtx:    c.withCtx,
		Tombstoned: c.tombstoned,
		Error:      c.errMsg,
	}

	switch c.phase {
	case PhaseRevealing:
		snap.Sections = append([]string(nil), c.partial...)
		chars := 0
		for _, s := range c.partial {
			chars += len([]rune(s))
		}
		snap.Progress = &RevealProgress{SectionIndex: c.sectionIdx, Chars: chars}
	case PhaseDisplayed:
		if c.displayed != nil {
			clone := *c.displayed
			snap.Record = &clone
			snap.Sections = typewriter.Full(revealSections(&clone))
		}
	}
	return snap
}
