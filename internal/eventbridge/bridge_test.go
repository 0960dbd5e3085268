package eventbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/ichor"
	"github.com/tomtom215/ichor-go/internal/service"
	"github.com/tomtom215/ichor-go/internal/transport"
)

// stubPublisher records every message published to it, implementing
// watermill's message.Publisher without dialing a real NATS server.
type stubPublisher struct {
	mu       sync.Mutex
	subjects []string
	failNext bool
	closed   bool
}

func (s *stubPublisher) Publish(topic string, messages ...*message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("stub publish failure")
	}
	s.subjects = append(s.subjects, topic)
	return nil
}

func (s *stubPublisher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubPublisher) Subjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subjects))
	copy(out, s.subjects)
	return out
}

func newTestPublisher(stub message.Publisher) *Publisher {
	return &Publisher{
		publisher: stub,
		breaker:   transport.NewBreaker(transport.DefaultBreakerConfig("test")),
	}
}

func newTestManager(t *testing.T) *ichor.Manager {
	t.Helper()
	cfg := ichor.DefaultConfig()
	cfg.PopTimeout = 10 * time.Millisecond
	return ichor.New(cfg, zerolog.Nop())
}

func TestBridge_PublishesDispatchedEvents(t *testing.T) {
	mgr := newTestManager(t)
	stub := &stubPublisher{}
	bridge := New(mgr, newTestPublisher(stub), "ichor.events")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Serve(ctx) }()
	go func() { errCh <- mgr.Run(ctx) }()

	svc := newTestService()
	ichor.RegisterService(mgr, svc, nil, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(stub.Subjects()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(stub.Subjects()) == 0 {
		t.Fatal("expected at least one event republished onto the bridge")
	}

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Fatal("bridge or manager did not stop in time")
		}
	}
}

func TestBridge_DropsOnPublishFailureWithoutBlockingDispatch(t *testing.T) {
	mgr := newTestManager(t)
	stub := &stubPublisher{failNext: true}
	bridge := New(mgr, newTestPublisher(stub), "ichor.events")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Serve(ctx) }()
	go func() { errCh <- mgr.Run(ctx) }()

	svc := newTestService()
	ichor.RegisterService(mgr, svc, nil, nil)

	time.Sleep(50 * time.Millisecond)

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Fatal("bridge or manager did not stop in time")
		}
	}
}

type testService struct {
	service.BaseService
}

func newTestService() *testService {
	return &testService{BaseService: service.NewBaseService(0)}
}

func (s *testService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}

func (s *testService) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		return nil
	})
}
