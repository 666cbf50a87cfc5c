package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/typewriter"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const defaultOpTimeout = 60 * time.Second

// ControllerDeps carries the collaborators a Controller needs. The same set
// is shared by every controller of a registry.
type ControllerDeps struct {
	Gateway   domain.MutationGateway
	Cache     domain.InsightCache
	Contexts  domain.ContextStore
	Animator  *typewriter.Animator
	Limiter   *rate.Limiter // generation rate limit, may be nil
	Logger    *slog.Logger
	OpTimeout time.Duration
}

// Controller owns the lifecycle state of one (client, metric, period)
// insight: which record is displayed, what is in flight, and which data
// source is authoritative at any instant. All state changes go through the
// phase reducer under a single mutex, so transitions are serialized the way
// a cooperative event loop serializes them.
type Controller struct {
	mu  sync.Mutex
	key domain.Key

	phase      Phase
	tombstoned bool
	displayed  *domain.InsightRecord
	prior      *domain.InsightRecord // rollback target for failed operations
	partial    []string              // animator output, authoritative while Revealing
	sectionIdx int
	errMsg     string
	withCtx    bool // current generation carries user context

	genOp      string // operation tokens; late responses with stale tokens are dropped
	delOp      string
	ctxCheckOp string
	revealOp   string
	delWanted  bool // a delete intent arrived while the context check ran
	closed     bool

	revealCancel context.CancelFunc

	deps ControllerDeps
}

// NewController creates a controller in the Idle phase.
func NewController(key domain.Key, deps ControllerDeps) *Controller {
	if deps.OpTimeout <= 0 {
		deps.OpTimeout = defaultOpTimeout
	}
	if deps.Animator == nil {
		deps.Animator = typewriter.New(1, 30*time.Millisecond)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		key:   key,
		phase: PhaseIdle,
		deps:  deps,
	}
}

// Key returns the identity this controller owns.
func (c *Controller) Key() domain.Key {
	return c.key
}

// apply runs one reducer step, logging dropped events at debug level. The
// caller must hold c.mu.
func (c *Controller) apply(ev event) bool {
	next, ok := reduce(c.phase, ev)
	if !ok {
		c.deps.Logger.Debug("transition_dropped",
			slog.String("client_id", c.key.ClientID),
			slog.String("metric", c.key.Metric),
			slog.String("phase", string(c.phase)),
			slog.Int("event", int(ev)))
		return false
	}
	c.phase = next
	return true
}

// StartInitialLoad kicks off the first cache read. Only meaningful from
// Idle; a controller that already holds state ignores it.
func (c *Controller) StartInitialLoad() {
	c.mu.Lock()
	if c.closed || !c.apply(evLoad) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
		defer cancel()
		entry, err := c.deps.Cache.Get(ctx, c.key.CacheKey())
		if err != nil {
			c.deps.Logger.Warn("initial_read_failed",
				slog.String("client_id", c.key.ClientID),
				slog.String("metric", c.key.Metric),
				slog.String("error", err.Error()))
			c.mu.Lock()
			c.apply(evHydrateEmpty)
			c.mu.Unlock()
			return
		}
		c.Hydrate(entry)
	}()
}

// Hydrate applies a cache read to local state. The hydration guard is
// enforced here: reads arriving during Generating, Revealing, Deleting, or
// while tombstoned are silently dropped. A read showing the record absent
// with no mutation pending is the authoritative signal that clears a
// tombstone.
func (c *Controller) Hydrate(entry *domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	rec := entry.FindMetric(c.key.Metric)

	if c.tombstoned {
		if rec == nil && c.genOp == "" && c.delOp == "" && c.phase == PhaseTombstoned {
			c.tombstoned = false
			c.apply(evConfirmAbsent)
		}
		return
	}

	if c.phase != PhaseIdle && c.phase != PhaseLoading {
		return
	}
	if rec == nil {
		c.apply(evHydrateEmpty)
		return
	}

	// First-load hydration shows text instantly, never retyped.
	clone := *rec
	c.displayed = &clone
	c.partial = nil
	c.apply(evHydrate)
}

// Generate requests a fresh narrative for this metric. An explicit new
// generation is one of the two ways a tombstone clears.
func (c *Controller) Generate(metrics domain.MetricComparison) error {
	return c.generate(metrics, "", false)
}

// RegenerateWithContext behaves like Generate but submits user-supplied
// context, and invalidates the per-metric context cache entry on success.
// On failure it surfaces the reason and falls back to exactly one plain
// Generate.
func (c *Controller) RegenerateWithContext(metrics domain.MetricComparison, userContext string) error {
	return c.generate(metrics, userContext, true)
}

// Regenerate prefers the context-enhanced variant when a previously-saved
// user context exists for this metric. The preference check is asynchronous;
// its result is discarded if a delete intent arrives in the interim.
func (c *Controller) Regenerate(metrics domain.MetricComparison) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller closed")
	}
	if c.genOp != "" || c.delOp != "" {
		c.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	if _, ok := reduce(c.phase, evGenerate); !ok {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("cannot regenerate while %s", phase)
	}
	c.delWanted = false
	op := uuid.NewString()
	c.ctxCheckOp = op
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
		defer cancel()
		userContext, err := c.deps.Contexts.UserContext(ctx, c.key)

		c.mu.Lock()
		if c.closed || c.ctxCheckOp != op || c.delWanted || c.delOp != "" {
			c.mu.Unlock()
			return
		}
		c.ctxCheckOp = ""
		c.mu.Unlock()

		if err != nil {
			c.deps.Logger.Warn("context_lookup_failed",
				slog.String("client_id", c.key.ClientID),
				slog.String("metric", c.key.Metric),
				slog.String("error", err.Error()))
			userContext = ""
		}
		if userContext == "" {
			_ = c.generateKeepingError(metrics, "", false, false, true)
			return
		}
		_ = c.generateKeepingError(metrics, userContext, true, false, true)
	}()
	return nil
}

func (c *Controller) generate(metrics domain.MetricComparison, userContext string, withCtx bool) error {
	return c.generateKeepingError(metrics, userContext, withCtx, false, false)
}

// generateKeepingError is generate with control over the surfaced error and
// over delete precedence. keepErr makes the automatic fallback after a failed
// context generation keep the context-specific reason visible instead of
// clearing it. yieldToDelete marks the asynchronous regenerate continuation,
// which must stand down when a delete intent arrived after its context check
// passed; an explicit user generate never yields, since a new generation is
// one of the ways a tombstone clears.
func (c *Controller) generateKeepingError(metrics domain.MetricComparison, userContext string, withCtx, keepErr, yieldToDelete bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller closed")
	}
	if yieldToDelete && c.delWanted {
		c.mu.Unlock()
		return nil
	}
	if c.genOp != "" || c.delOp != "" {
		c.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	if !c.apply(evGenerate) {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("cannot generate while %s", phase)
	}

	c.tombstoned = false
	c.prior = c.displayed
	c.displayed = nil // stale content is cleared from view during generation
	c.partial = nil
	if !keepErr {
		c.errMsg = ""
	}
	c.withCtx = withCtx
	op := uuid.NewString()
	c.genOp = op
	c.ctxCheckOp = ""
	c.mu.Unlock()

	c.deps.Logger.Info("generation_started",
		slog.String("client_id", c.key.ClientID),
		slog.String("metric", c.key.Metric),
		slog.String("period", c.key.Period),
		slog.Bool("with_context", withCtx),
		slog.String("operation_id", op))

	go c.runGenerate(op, metrics, userContext, withCtx)
	return nil
}

func (c *Controller) runGenerate(op string, metrics domain.MetricComparison, userContext string, withCtx bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
	defer cancel()

	req := domain.GenerateRequest{Key: c.key, Metrics: metrics, UserContext: userContext}

	var rec *domain.InsightRecord
	var err error
	if c.deps.Limiter != nil {
		err = c.deps.Limiter.Wait(ctx)
	}
	if err == nil {
		if withCtx {
			rec, err = c.deps.Gateway.GenerateWithContext(ctx, req)
		} else {
			rec, err = c.deps.Gateway.Generate(ctx, req)
		}
	}

	c.mu.Lock()
	if c.closed || c.genOp != op {
		// The key was reset or the operation superseded; drop the result.
		c.mu.Unlock()
		return
	}
	c.genOp = ""
	c.withCtx = false

	if err != nil {
		c.apply(evGenerateErr)
		c.errMsg = err.Error()
		c.displayed = c.prior
		c.prior = nil
		if c.displayed != nil {
			c.apply(evRecoverDisplayed)
		} else {
			c.apply(evRecoverIdle)
		}
		c.mu.Unlock()

		c.deps.Logger.Warn("generation_failed",
			slog.String("client_id", c.key.ClientID),
			slog.String("metric", c.key.Metric),
			slog.Bool("with_context", withCtx),
			slog.String("error", err.Error()))

		if withCtx {
			// One automatic plain retry after a failed context generation,
			// never recursive.
			_ = c.generateKeepingError(metrics, "", false, true, false)
		}
		return
	}

	clone := *rec
	if clone.MetricName == "" {
		clone.MetricName = c.key.Metric
	}
	c.displayed = &clone
	c.prior = nil
	c.apply(evGenerateOK)
	c.startRevealLocked(&clone)
	cacheKey := c.key.CacheKey()
	c.mu.Unlock()

	c.deps.Logger.Info("generation_succeeded",
		slog.String("client_id", c.key.ClientID),
		slog.String("metric", c.key.Metric),
		slog.String("status", string(clone.Status)))

	// Refresh the shared entry so sibling metrics on the same page observe
	// the new record. The displayed record was already seeded from the
	// response; this refetch is for everyone else.
	go func() {
		rctx, rcancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
		defer rcancel()
		if withCtx {
			c.deps.Contexts.Invalidate(c.key)
		}
		if err := c.deps.Cache.Invalidate(rctx, cacheKey); err != nil {
			c.deps.Logger.Warn("cache_invalidate_failed", slog.String("error", err.Error()))
		}
		if _, err := c.deps.Cache.ForceRefetch(rctx, cacheKey); err != nil {
			c.deps.Logger.Warn("cache_refetch_failed", slog.String("error", err.Error()))
		}
	}()
}

// Delete optimistically hides the record, filters it out of the shared cache
// entry, and issues the backend delete. The tombstone set here blocks any
// re-appearance from stale reads until absence is confirmed.
func (c *Controller) Delete() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller closed")
	}
	c.delWanted = true
	if c.delOp != "" || c.genOp != "" {
		c.mu.Unlock()
		return domain.ErrOperationInFlight
	}
	if !c.apply(evDelete) {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("nothing to delete while %s", phase)
	}

	// Cancel any running animation immediately; no further characters may
	// appear regardless of pending timers.
	c.cancelRevealLocked()
	c.prior = c.displayed
	c.displayed = nil
	c.partial = nil
	c.errMsg = ""
	c.tombstoned = true
	op := uuid.NewString()
	c.delOp = op
	cacheKey := c.key.CacheKey()
	metric := c.key.Metric
	c.mu.Unlock()

	c.deps.Cache.MutateLocal(cacheKey, func(e domain.CacheEntry) domain.CacheEntry {
		return e.WithoutMetric(metric)
	})

	c.deps.Logger.Info("delete_started",
		slog.String("client_id", c.key.ClientID),
		slog.String("metric", metric),
		slog.String("operation_id", op))

	go c.runDelete(op, cacheKey, metric)
	return nil
}

func (c *Controller) runDelete(op string, cacheKey domain.CacheKey, metric string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
	defer cancel()

	res, err := c.deps.Gateway.Delete(ctx, c.key)
	if err == nil && res != nil && !res.OK {
		err = fmt.Errorf("backend did not confirm delete")
	}

	c.mu.Lock()
	if c.closed || c.delOp != op {
		c.mu.Unlock()
		return
	}
	c.delOp = ""

	if err != nil {
		// Full rollback: tombstone cleared, record restored, optimistic
		// cache edit undone. The record reappears exactly as before.
		restored := c.prior
		c.apply(evDeleteErr)
		c.errMsg = err.Error()
		c.tombstoned = false
		c.displayed = restored
		c.prior = nil
		if restored != nil {
			c.apply(evRecoverDisplayed)
		} else {
			c.apply(evRecoverIdle)
		}
		c.mu.Unlock()

		if restored != nil {
			rec := *restored
			c.deps.Cache.MutateLocal(cacheKey, func(e domain.CacheEntry) domain.CacheEntry {
				return e.WithRecord(rec)
			})
		}
		c.deps.Logger.Warn("delete_failed_rolled_back",
			slog.String("client_id", c.key.ClientID),
			slog.String("metric", metric),
			slog.String("error", err.Error()))
		return
	}

	c.apply(evDeleteOK)
	c.prior = nil
	c.mu.Unlock()

	c.deps.Logger.Info("delete_confirmed",
		slog.String("client_id", c.key.ClientID),
		slog.String("metric", metric),
		slog.Int("deleted_insights", res.DeletedInsights),
		slog.Int("deleted_contexts", res.DeletedContexts))

	c.deps.Contexts.Invalidate(c.key)

	// Authoritative confirming read. Until it shows the record absent the
	// tombstone persists across any number of stale reads.
	rctx, rcancel := context.WithTimeout(context.Background(), c.deps.OpTimeout)
	defer rcancel()
	entry, ferr := c.deps.Cache.ForceRefetch(rctx, cacheKey)
	if ferr != nil {
		c.deps.Logger.Warn("confirming_read_failed",
			slog.String("client_id", c.key.ClientID),
			slog.String("metric", metric),
			slog.String("error", ferr.Error()))
		return
	}
	c.Hydrate(entry)
}

// revealSections orders a record's text blocks for display: saved context
// first, then the narrative, then the recommendation.
func revealSections(rec *domain.InsightRecord) []typewriter.Section {
	return []typewriter.Section{
		{Name: "context", Text: rec.ContextText},
		{Name: "insight", Text: rec.InsightText},
		{Name: "recommendation", Text: rec.RecommendationText},
	}
}

func (c *Controller) startRevealLocked(rec *domain.InsightRecord) {
	// Cancel-then-replace: at most one live animation per key.
	c.cancelRevealLocked()

	sections := revealSections(rec)
	c.partial = make([]string, len(sections))

	ctx, cancel := context.WithCancel(context.Background())
	c.revealCancel = cancel
	op := uuid.NewString()
	c.revealOp = op

	ch := c.deps.Animator.Reveal(ctx, sections)
	go func() {
		defer cancel()
		for snap := range ch {
			c.mu.Lock()
			if c.closed || c.revealOp != op || c.phase != PhaseRevealing {
				c.mu.Unlock()
				return
			}
			c.partial = snap.Sections
			c.sectionIdx = snap.SectionIndex
			if snap.Done {
				c.apply(evRevealDone)
				c.revealCancel = nil
				c.revealOp = ""
			}
			c.mu.Unlock()
		}
	}()
}

func (c *Controller) cancelRevealLocked() {
	if c.revealCancel != nil {
		c.revealCancel()
		c.revealCancel = nil
	}
	c.revealOp = ""
}

// DismissError clears the surfaced error message.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}

// Close discards all state and cancels in-flight work. Late-arriving
// responses for a closed controller are dropped by the token checks.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelRevealLocked()
	c.genOp = ""
	c.delOp = ""
	c.ctxCheckOp = ""
	c.displayed = nil
	c.prior = nil
	c.partial = nil
}
