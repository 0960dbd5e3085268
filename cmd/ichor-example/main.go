// Package main is a runnable demonstration of the Ichor runtime: a
// dependency manager running two services (one depending on the other, per
// spec.md §8 scenario 1) inside a two-layer supervision tree, with its
// external collaborators — a logger, a timer, a WebSocket broadcaster, and
// an outward event bridge — wired in as ordinary supervised services.
//
// # Configuration
//
// Configuration is loaded via internal/config, layered defaults -> config
// file -> environment variables. See internal/config/doc.go.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the dispatch loop's quit
// event runs the reverse-order stop cascade, then the supervisor tree
// reports any service that failed to stop within its configured timeout.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/config"
	"github.com/tomtom215/ichor-go/internal/event"
	"github.com/tomtom215/ichor-go/internal/eventbridge"
	"github.com/tomtom215/ichor-go/internal/ichor"
	"github.com/tomtom215/ichor-go/internal/logging"
	"github.com/tomtom215/ichor-go/internal/registry"
	"github.com/tomtom215/ichor-go/internal/service"
	"github.com/tomtom215/ichor-go/internal/supervisor"
	"github.com/tomtom215/ichor-go/internal/transport"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: cfg.Logging.Timestamp,
	})

	logging.Info().Msg("starting ichor-example")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := ichor.New(ichor.Config{
		PopTimeout:     cfg.Dispatch.PopTimeout(),
		Spinlock:       cfg.Dispatch.Spinlock,
		HardQuitWindow: cfg.Dispatch.HardQuitWindow(),
	}, logging.Logger())

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	tree.AddCore(&supervisor.ManagerService{Manager: manager})

	loggerSvc := transport.NewGlobalLoggerService()
	ichor.RegisterService(manager, loggerSvc, nil, nil)

	timerSvc := transport.NewTimerService(manager.Queue(), time.Second, event.InternalPriority+1)
	timerID := ichor.RegisterService(manager, timerSvc, nil, nil)

	wsSvc := transport.NewWebSocketService(":8081", "/ws")
	ichor.RegisterService(manager, wsSvc, nil, nil)

	manager.Handlers().Subscribe(transport.TimerTypeID, timerID, 0, func(ev *event.Event) *async.Generator[registry.HandlerBehaviour] {
		return async.New(func(ctx context.Context, yield async.Yield[registry.HandlerBehaviour]) error {
			tick := ev.Payload.(transport.TickPayload)
			wsSvc.Broadcast("tick", tick)
			return nil
		})
	})

	wireExampleServices(manager)

	if cfg.EventBridge.Enabled {
		bridge, err := wireEventBridge(manager, cfg.EventBridge)
		if err != nil {
			logging.Error().Err(err).Msg("failed to wire event bridge, continuing without it")
		} else {
			tree.AddCollaborator(bridge)
		}
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
	}

	logging.Info().Msg("ichor-example stopped gracefully")
}

// wireEventBridge builds the optional embedded NATS server (if configured)
// and the publisher/bridge pair that republishes dispatched events onto it.
func wireEventBridge(manager *ichor.Manager, cfg config.EventBridgeConfig) (*eventbridge.Bridge, error) {
	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := eventbridge.NewEmbeddedServer(eventbridge.DefaultServerConfig())
		if err != nil {
			return nil, err
		}
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("embedded NATS server started for event bridge")
	}

	pub, err := eventbridge.NewPublisher(eventbridge.DefaultPublisherConfig(url), nil)
	if err != nil {
		return nil, err
	}

	return eventbridge.New(manager, pub, cfg.SubjectPrefix), nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logging.Info().Str("addr", addr).Msg("metrics listener starting")
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // example binary, no need for timeouts tuning
		logging.Error().Err(err).Msg("metrics listener stopped")
	}
}

// exampleConsumer depends on exampleProvider's interface and logs every
// injection it receives, demonstrating spec.md §8 scenario 1's "service
// with one required dependency" wiring end to end.
type exampleConsumer struct {
	service.BaseService
}

func newExampleConsumer() *exampleConsumer {
	return &exampleConsumer{BaseService: service.NewBaseService(0)}
}

func (s *exampleConsumer) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}

func (s *exampleConsumer) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}

func (s *exampleConsumer) OnDependencyAdded(ifaceID uint64, provider any) {
	logging.Info().Uint64("service", s.ID()).Uint64("interface", ifaceID).Msg("example consumer received dependency")
}

func (s *exampleConsumer) OnDependencyRemoved(ifaceID uint64, provider any) {
	logging.Info().Uint64("service", s.ID()).Uint64("interface", ifaceID).Msg("example consumer lost dependency")
}

// exampleProviderIface is the interface type exampleProvider advertises and
// exampleConsumer requires.
type exampleProviderIface interface {
	Greeting() string
}

var exampleProviderTypeID = service.TypeID[exampleProviderIface]()

type exampleProvider struct {
	service.BaseService
}

func newExampleProvider() *exampleProvider {
	return &exampleProvider{BaseService: service.NewBaseService(0)}
}

func (s *exampleProvider) Greeting() string { return "hello from the example provider" }

func (s *exampleProvider) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}

func (s *exampleProvider) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}

// wireExampleServices registers the demonstration consumer/provider pair:
// the consumer is registered first but will not reach ACTIVE until the
// provider does, per the dependency manager's injection protocol.
func wireExampleServices(manager *ichor.Manager) {
	consumer := newExampleConsumer()
	ichor.RegisterService(manager, consumer, []service.Dependency{
		{InterfaceID: exampleProviderTypeID, Required: true},
	}, nil)

	provider := newExampleProvider()
	ichor.RegisterService(manager, provider, nil, []uint64{exampleProviderTypeID})
}
