package usecase

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/typewriter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(ControllerDeps{
		Gateway:   &fakeGateway{record: testRecord},
		Cache:     &fakeCache{},
		Contexts:  &fakeContexts{},
		Animator:  typewriter.New(256, time.Millisecond),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OpTimeout: time.Second,
	})
}

func TestRegistryFirstClientBecomesActive(t *testing.T) {
	r := newTestRegistry()
	assert.Empty(t, r.ActiveClient())

	_, err := r.Controller(domain.Key{ClientID: "client-1", Metric: "sessions", Period: "2025-07"})
	require.NoError(t, err)
	assert.Equal(t, "client-1", r.ActiveClient())
}

func TestRegistryRejectsInactiveClient(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Controller(domain.Key{ClientID: "client-1", Metric: "sessions", Period: "2025-07"})
	require.NoError(t, err)

	_, err = r.Controller(domain.Key{ClientID: "client-2", Metric: "sessions", Period: "2025-07"})
	assert.ErrorIs(t, err, ErrInactiveClient)
}

func TestRegistryReturnsSameControllerPerKey(t *testing.T) {
	r := newTestRegistry()
	key := domain.Key{ClientID: "client-1", Metric: "sessions", Period: "2025-07"}

	a, err := r.Controller(key)
	require.NoError(t, err)
	b, err := r.Controller(key)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.Controller(domain.Key{ClientID: "client-1", Metric: "pageviews", Period: "2025-07"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestRegistryActivateDiscardsPreviousControllers(t *testing.T) {
	r := newTestRegistry()
	key := domain.Key{ClientID: "client-1", Metric: "sessions", Period: "2025-07"}

	old, err := r.Controller(key)
	require.NoError(t, err)
	require.Len(t, r.Controllers(), 1)

	r.Activate("client-2")
	assert.Empty(t, r.Controllers(), "previous client's controllers are dropped")
	assert.Equal(t, "client-2", r.ActiveClient())

	// The old controller is closed; intents on it are rejected.
	assert.Error(t, old.Generate(domain.MetricComparison{}))

	_, err = r.Controller(key)
	assert.ErrorIs(t, err, ErrInactiveClient)
}

func TestRegistryActivateSameClientKeepsState(t *testing.T) {
	r := newTestRegistry()
	key := domain.Key{ClientID: "client-1", Metric: "sessions", Period: "2025-07"}

	a, err := r.Controller(key)
	require.NoError(t, err)

	r.Activate("client-1")
	b, err := r.Controller(key)
	require.NoError(t, err)
	assert.Same(t, a, b, "re-activating the active client is a no-op")
}
