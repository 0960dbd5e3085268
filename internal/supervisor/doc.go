/*
Package supervisor provides process supervision for the dispatch loop and
its external collaborators using suture v4. It implements Erlang/OTP-style
supervision: automatic restart, failure isolation, and graceful shutdown.

# Overview

The tree organizes services into two layers for failure isolation:

	RootSupervisor ("ichor")
	├── CoreSupervisor ("core")
	│   └── ManagerService (wraps ichor.Manager.Run)
	└── CollaboratorsSupervisor ("collaborators")
	    ├── eventbridge publisher
	    ├── metrics HTTP listener
	    └── internal/transport services

A crash in a collaborator (an eventbridge publish goroutine, a metrics
listener) is isolated from the dispatch loop: the collaborators supervisor
restarts it independently and the manager's registry and queue are
untouched.

# Usage

	logger := slog.Default()
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    log.Fatal(err)
	}

	mgr := ichor.New(ichor.DefaultConfig(), logging.Logger())
	tree.AddCore(&supervisor.ManagerService{Manager: mgr})
	tree.AddCollaborator(myEventBridgePublisher)

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("supervisor stopped: %v", err)
	}

Background operation:

	errChan := tree.ServeBackground(ctx)
	// ...
	if err := <-errChan; err != nil {
	    log.Printf("supervisor error: %v", err)
	}

# Configuration

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,
	    FailureDecay:     30.0,
	    FailureBackoff:   15 * time.Second,
	    ShutdownTimeout:  10 * time.Second,
	}

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return nil for a clean stop (no restart), an error to be restarted, and
return promptly once ctx is canceled.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("service did not stop: %v", svc)
	}
*/
package supervisor
