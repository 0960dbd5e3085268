package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults. These values match
// suture's built-in defaults per pkg.go.dev documentation.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree hosts the dispatch loop and its external collaborators
// under a suture process tree, so a crash outside the dispatch loop itself
// (a collaborator service panicking, an eventbridge publish goroutine dying)
// gets restarted instead of taking the whole process down with it.
//
// The tree has two layers:
//   - core: the ichor.Manager's dispatch loop (Manager.Run wrapped as a
//     suture.Service). There is exactly one of these; if it dies, the
//     supervisor restarts it, which re-enters Run with the manager's
//     registry and queue exactly as it left them.
//   - collaborators: ordinary user services per spec.md §6.4 that run
//     outside the dispatch loop's own goroutine — the eventbridge
//     publisher, a metrics HTTP listener, and any internal/transport
//     service that needs its own background goroutine (the websocket hub,
//     a timer, a circuit-breaker-guarded sink).
type SupervisorTree struct {
	root          *suture.Supervisor
	core          *suture.Supervisor
	collaborators *suture.Supervisor
	logger        *slog.Logger
	config        TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog.Handler.MustHook has a pointer receiver; take the address.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("ichor", rootSpec)
	core := suture.New("core", childSpec)
	collaborators := suture.New("collaborators", childSpec)

	root.Add(core)
	root.Add(collaborators)

	return &SupervisorTree{
		root:          root,
		core:          core,
		collaborators: collaborators,
		logger:        logger,
		config:        config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddCore adds the dispatch loop (or any service that must never be allowed
// to stay down) to the core supervisor.
func (t *SupervisorTree) AddCore(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

// AddCollaborator adds an external collaborator service — eventbridge,
// metrics listener, a transport service — to the collaborators supervisor.
func (t *SupervisorTree) AddCollaborator(svc suture.Service) suture.ServiceToken {
	return t.collaborators.Add(svc)
}

// RemoveCollaborator removes a service previously added with AddCollaborator.
func (t *SupervisorTree) RemoveCollaborator(token suture.ServiceToken) error {
	return t.collaborators.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns information about services that failed to
// stop within the configured shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove removes a service from the tree by its token.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to fully stop.
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}
