package transport

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	qerrors "qnc/internal/errors"
	"qnc/util"
)

// Supervisor runs driving tasks in the background.  Tasks are never
// restarted and never joined by the caller; their failures are only
// logged.
type Supervisor struct {
	sup    *suture.Supervisor
	logger *util.Logger
	done   <-chan error
}

// NewSupervisor returns a stopped supervisor.  Tasks spawned before
// Start begin running when it starts.
func NewSupervisor(logger *util.Logger) *Supervisor {
	s := &Supervisor{logger: logger}
	s.sup = suture.New("qnc", suture.Spec{
		EventHook: s.onEvent,
	})
	return s
}

// Start runs the supervisor until ctx is done.  It must be called once.
func (s *Supervisor) Start(ctx context.Context) {
	s.done = s.sup.ServeBackground(ctx)
}

// Spawn starts d's driving task under name.
func (s *Supervisor) Spawn(name string, d Driver) {
	s.sup.Add(&driverService{name: name, driver: d, logger: s.logger})
}

// Done is closed (after delivering the supervisor's exit error) once
// the supervisor has stopped.  It is nil before Start.
func (s *Supervisor) Done() <-chan error { return s.done }

func (s *Supervisor) onEvent(e suture.Event) {
	switch e.Type() {
	case suture.EventTypeServicePanic:
		s.logger.Debug("driving task panicked: %s", e)
	case suture.EventTypeStopTimeout:
		s.logger.Debug("driving task did not stop in time: %s", e)
	}
}

// driverService adapts a Driver to suture.Service.
type driverService struct {
	name   string
	driver Driver
	logger *util.Logger
}

func (d *driverService) Serve(ctx context.Context) error {
	d.logger.Debug("%s driver started", d.name)
	if err := d.driver.Drive(ctx); err != nil && ctx.Err() == nil {
		d.logger.With("errClass", qerrors.Class(err)).Debug("%s driver failed: %v", d.name, err)
	}
	return suture.ErrDoNotRestart
}

func (d *driverService) String() string { return fmt.Sprintf("%s-driver", d.name) }
