package usecase

import (
	"errors"
	"log/slog"
	"sync"

	"insight-orchestrator/internal/domain"
)

// ErrInactiveClient is returned for intents addressed to a client that is
// not the active one.
var ErrInactiveClient = errors.New("client is not active")

// Registry holds exactly one controller per (client, metric, period) key
// visible on the active dashboard. Switching the active client discards the
// previous client's controllers and cancels their in-flight work, so a late
// response can never apply to a key that is no longer active.
type Registry struct {
	mu          sync.Mutex
	active      string
	controllers map[domain.Key]*Controller
	deps        ControllerDeps
	logger      *slog.Logger
}

// NewRegistry creates an empty registry; the first intent's client becomes
// active implicitly.
func NewRegistry(deps ControllerDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		controllers: make(map[domain.Key]*Controller),
		deps:        deps,
		logger:      logger,
	}
}

// Activate switches the active client, resetting all per-metric state held
// for the previous one.
func (r *Registry) Activate(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clientID == r.active {
		return
	}
	for key, ctrl := range r.controllers {
		ctrl.Close()
		delete(r.controllers, key)
	}
	prev := r.active
	r.active = clientID
	r.logger.Info("client_activated",
		slog.String("client_id", clientID),
		slog.String("previous", prev))
}

// ActiveClient returns the currently active client id, "" when none.
func (r *Registry) ActiveClient() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Controller returns the controller for the key, creating it (and starting
// its initial cache read) on first use. Keys for non-active clients are
// rejected.
func (r *Registry) Controller(key domain.Key) (*Controller, error) {
	r.mu.Lock()
	if r.active == "" {
		r.active = key.ClientID
	}
	if key.ClientID != r.active {
		r.mu.Unlock()
		return nil, ErrInactiveClient
	}
	if ctrl, ok := r.controllers[key]; ok {
		r.mu.Unlock()
		return ctrl, nil
	}
	ctrl := NewController(key, r.deps)
	r.controllers[key] = ctrl
	r.mu.Unlock()

	ctrl.StartInitialLoad()
	return ctrl, nil
}

// Controllers returns a snapshot of the live controllers, used by the
// background cache refresher.
func (r *Registry) Controllers() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		out = append(out, ctrl)
	}
	return out
}
