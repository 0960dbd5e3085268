package transport

import (
	"context"
	"testing"

	"github.com/tomtom215/ichor-go/internal/async"
	"github.com/tomtom215/ichor-go/internal/service"
)

// drainGenerator pumps a Start/Stop generator to completion, mirroring
// internal/ichor.Manager's own Next-until-!ok draining loop, and returns the
// final error. None of this package's services ever yield, so one Next call
// always suffices; the loop only guards against that assumption changing.
func drainGenerator(t *testing.T, gen *async.Generator[service.StartBehaviour]) error {
	t.Helper()
	ctx := context.Background()
	for {
		_, ok, err := gen.Next(ctx)
		if !ok {
			return err
		}
	}
}
