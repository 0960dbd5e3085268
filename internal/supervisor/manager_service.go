package supervisor

import (
	"context"
	"errors"

	"github.com/tomtom215/ichor-go/internal/ichor"
)

// ManagerService adapts an *ichor.Manager's dispatch loop to suture.Service,
// so AddCore can supervise it like any other service. A clean shutdown
// (context cancellation, or ichor.ErrHardQuit after a drain-deadline
// overrun) is translated to nil so suture does not treat an intentional
// shutdown as a crash to restart.
type ManagerService struct {
	Manager *ichor.Manager
}

// Serve implements suture.Service.
func (s *ManagerService) Serve(ctx context.Context) error {
	err := s.Manager.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ichor.ErrHardQuit) {
		return nil
	}
	return err
}
