package transport

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/ichor-go/internal/event"
)

func TestTimerService_TicksOntoQueue(t *testing.T) {
	q := event.NewQueue(event.QueueConfig{PopTimeout: 20 * time.Millisecond})
	svc := NewTimerService(q, 10*time.Millisecond, 1)

	if err := drainGenerator(t, svc.Start(context.Background())); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	ev, ok := q.Pop()
	if !ok {
		t.Fatal("expected a tick event, got none")
	}
	if ev.Type != TimerTypeID {
		t.Errorf("expected TimerTypeID, got %d", ev.Type)
	}
	payload, ok := ev.Payload.(TickPayload)
	if !ok {
		t.Fatalf("expected TickPayload, got %T", ev.Payload)
	}
	if payload.Count == 0 {
		t.Error("expected a positive tick count")
	}

	if err := drainGenerator(t, svc.Stop(context.Background())); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
