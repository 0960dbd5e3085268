package transport

import (
	"context"
	"time"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/event"
	"github.com/tomtom215/ichor-go/internal/service"
)

// TimerTypeID is the event type a TimerService pushes onto the queue on
// every tick. Handlers subscribe to it through internal/registry like any
// other event type.
var TimerTypeID = service.TypeID[TickPayload]()

// TickPayload carries the tick's wall-clock time and how many ticks this
// timer has produced since it started.
type TickPayload struct {
	At    time.Time
	Count uint64
}

// TimerService is the Timer external collaborator (§6.4): a periodic
// producer built on stdlib time.Ticker, wired the way any producer pushes
// onto the dispatch loop's queue rather than calling handlers directly.
type TimerService struct {
	service.BaseService
	queue    *event.Queue
	interval time.Duration
	priority uint64
	count    uint64
	stop     chan struct{}
	done     chan struct{}
}

// NewTimerService builds a TimerService that pushes a TickPayload event
// onto queue every interval, at the given priority.
func NewTimerService(queue *event.Queue, interval time.Duration, priority uint64) *TimerService {
	return &TimerService{
		BaseService: service.NewBaseService(priority),
		queue:       queue,
		interval:    interval,
		priority:    priority,
	}
}

// Start launches the ticker goroutine and returns immediately; the ticker
// itself runs for the service's active lifetime, stopped from Stop.
func (s *TimerService) Start(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run()
		return nil
	})
}

func (s *TimerService) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case t := <-ticker.C:
			s.count++
			s.queue.Push(event.New(TimerTypeID, s.priority, TickPayload{At: t, Count: s.count}))
		}
	}
}

// Stop signals the ticker goroutine and waits for it to exit.
func (s *TimerService) Stop(ctx context.Context) *async.Generator[service.StartBehaviour] {
	return async.New(func(ctx context.Context, yield async.Yield[service.StartBehaviour]) error {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
		return nil
	})
}
