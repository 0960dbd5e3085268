package eventbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig controls the embedded NATS server started when
// config.EventBridgeConfig.EmbeddedServer is set, grounded on the teacher's
// ServerConfig — trimmed to the fields a one-way, non-durable observability
// sink needs: no JetStream limits, no clustering, since nothing here
// persists or fans out across processes.
type ServerConfig struct {
	Host string
	Port int
}

// DefaultServerConfig returns a loopback-only server on the default NATS
// port.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Host: "127.0.0.1", Port: 4222}
}

// EmbeddedServer wraps a nats-server instance with lifecycle management, so
// a single-process deployment of Ichor doesn't need an external NATS
// broker just to observe dispatched events.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts an embedded, JetStream-disabled NATS server and
// blocks until it is ready for client connections or 10 seconds elapse.
func NewEmbeddedServer(cfg ServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "ichor-eventbridge",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  false,
		NoLog:      true,
		MaxPayload: 1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the URL publishers should dial.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// Running reports whether the server is still accepting connections.
func (s *EmbeddedServer) Running() bool { return s.server.Running() }

// Shutdown stops the server, returning early if ctx is done before the
// server finishes draining.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
