package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerService_StartStop(t *testing.T) {
	var buf bytes.Buffer
	svc := NewLoggerService(zerolog.New(&buf))

	gen := svc.Start(context.Background())
	if err := drainGenerator(t, gen); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("logger service started")) {
		t.Errorf("expected start log, got %q", buf.String())
	}

	gen = svc.Stop(context.Background())
	if err := drainGenerator(t, gen); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("logger service stopped")) {
		t.Errorf("expected stop log, got %q", buf.String())
	}
}

func TestLoggerService_Logger(t *testing.T) {
	svc := NewGlobalLoggerService()
	if svc.Logger().GetLevel() == zerolog.Disabled {
		t.Error("expected global logger service to inherit an enabled level by default")
	}
}
