package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type SupervisorConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is how long a failing layer waits before restarting.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long each service may take to stop.
	ShutdownTimeout time.Duration
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// supervisorTree keeps watchers and pushers in separate layers so a pusher
// crashing in a loop never throttles watcher restarts.
type supervisorTree struct {
	root     *suture.Supervisor
	watchers *suture.Supervisor
	pushers  *suture.Supervisor
}

func newSupervisorTree(logger *slog.Logger, config SupervisorConfig) *supervisorTree {
	defaults := DefaultSupervisorConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logger}

	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = handler.MustHook()

	root := suture.New("freebooter", rootSpec)
	watchers := suture.New("watchers", childSpec)
	pushers := suture.New("pushers", childSpec)
	root.Add(watchers)
	root.Add(pushers)

	return &supervisorTree{root: root, watchers: watchers, pushers: pushers}
}

func (t *supervisorTree) AddWatcher(svc suture.Service) suture.ServiceToken {
	return t.watchers.Add(svc)
}

func (t *supervisorTree) AddPusher(svc suture.Service) suture.ServiceToken {
	return t.pushers.Add(svc)
}

// Serve blocks until ctx is cancelled and every service has stopped or timed
// out. Cancellation is not an error.
func (t *supervisorTree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (t *supervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
