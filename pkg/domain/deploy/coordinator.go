package deploy

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Run is a phase of a deployment at a polling tick.
type Run struct {
	Deployment domain.Deployment
	Phase      domain.Phase
	Target     configvar.Target

	// deployment output. Lines written here move steps of the phase.
	Output *output.Writer

	// Interrupted reports whether someone has asked to stop the phase since the tick began.
	Interrupted func(context.Context) (bool, error)
}

// Runner advances a phase.
//
// Tick is called once per polling tick while the phase is pending,
// with the deployment locked. Tick should not block for long;
// long running jobs should be started in background and observed in later ticks.
//
// Returning an error fails the phase, unless the error is retryable (see domerr.IsRetryable).
type Runner interface {
	Tick(ctx context.Context, run Run) (Result, error)
}

// Interrupter is a Runner which stops its job by itself when interruption is requested.
//
// Runners not implementing this are interrupted at the beginning of the next tick.
type Interrupter interface {
	Interrupt(ctx context.Context, run Run) (Result, error)
}

// Aborter is a Runner which cleans up its job when the phase is timed out.
type Aborter interface {
	Abort(ctx context.Context, run Run) error
}

// Coordinator polls a phase of deployments.
type Coordinator struct {
	manager   *Manager
	phase     domain.PhaseType
	runner    Runner
	interval  time.Duration
	timeout   time.Duration
	heartbeat time.Duration
	now       func() time.Time
	logger    *log.Logger
}

type CoordinatorOption func(*Coordinator) *Coordinator

func WithCoordinatorLogger(logger *log.Logger) CoordinatorOption {
	return func(c *Coordinator) *Coordinator {
		c.logger = logger
		return c
	}
}

// WithHeartbeat fails phases which are silent longer than d.
//
// A phase is silent when it writes no output lines.
func WithHeartbeat(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) *Coordinator {
		c.heartbeat = d
		return c
	}
}

// WithClock replaces the clock to tell timeouts.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) *Coordinator {
		c.now = now
		return c
	}
}

func NewCoordinator(
	manager *Manager,
	phase domain.PhaseType,
	runner Runner,
	conf *platform.DeployConfig,
	options ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		manager:  manager,
		phase:    phase,
		runner:   runner,
		interval: conf.PollInterval(),
		timeout:  conf.PollingTimeout(phase.String()),
		now:      time.Now,
		logger:   log.New(log.Writer(), "[deploy/"+phase.String()+"] ", log.LstdFlags),
	}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

// Seed is the initial cursor of Poll.
func (c *Coordinator) Seed() kdb.Cursor {
	return kdb.Cursor{Phase: c.phase, Debounce: c.interval}
}

// Poll runs a tick of the phase of a pending deployment.
//
// Returns
//
// - kdb.Cursor: cursor to be passed to the next Poll.
//
// - bool: true when a deployment is polled, and more deployments can be waiting.
//
// - error: error which the polling loop should stop on.
func (c *Coordinator) Poll(ctx context.Context, cursor kdb.Cursor) (kdb.Cursor, bool, error) {
	finished := ""
	next, ok, err := c.manager.db.PickAndSetStatus(
		ctx, cursor,
		func(d domain.Deployment) (kdb.Transition, error) {
			result := c.tick(ctx, d)
			if result.Status.Terminal() && c.last(d, result) {
				finished = d.ID
			}
			return c.manager.transition(c.phase, result), nil
		},
	)

	if err == nil && finished != "" {
		if d, err := c.manager.db.Get(ctx, finished); err != nil {
			c.logger.Printf("failed to get deployment %s: %v", finished, err)
		} else {
			c.manager.finished(ctx, d)
		}
	}

	// these will be retried.
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domerr.ErrPreconditionFailed) {
		if err != nil {
			c.logger.Printf("polling %s phase: %v", c.phase, err)
		}
		return next, ok, nil
	}
	return next, ok, err
}

// last reports whether the result finishes the deployment.
func (c *Coordinator) last(d domain.Deployment, result Result) bool {
	if result.Status != domain.Successful {
		return true
	}
	if c.phase == domain.PhaseBuild && d.Options.BuildOnly {
		return true
	}
	_, ok := c.phase.Next()
	return !ok
}

// expired returns the limit which the phase has exceeded. It is nil when the phase is in time.
func (c *Coordinator) expired(p domain.Phase) *PollingTimeout {
	if p.StartTime == nil {
		return nil
	}
	now := c.now()
	if c.timeout > 0 && now.Sub(*p.StartTime) > c.timeout {
		return &PollingTimeout{Phase: c.phase.String(), Limit: "wall clock", Timeout: c.timeout}
	}
	if c.heartbeat > 0 {
		last := *p.StartTime
		if p.ProgressAt != nil && p.ProgressAt.After(last) {
			last = *p.ProgressAt
		}
		if now.Sub(last) > c.heartbeat {
			return &PollingTimeout{Phase: c.phase.String(), Limit: "heartbeat", Timeout: c.heartbeat}
		}
	}
	return nil
}

func (c *Coordinator) interrupted(d domain.Deployment) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		latest, err := c.manager.db.Get(ctx, d.ID)
		if err != nil {
			return false, err
		}
		p, ok := latest.Phase(c.phase)
		return ok && p.InterruptionRequested(), nil
	}
}

// tick runs the runner once. Errors are turned into Results.
func (c *Coordinator) tick(ctx context.Context, d domain.Deployment) Result {
	phase, ok := d.Phase(c.phase)
	if !ok {
		return Failure(xe.Errorf("deployment %s has no %s phase", d.ID, c.phase))
	}

	target, err := c.manager.Target(ctx, d)
	if err != nil {
		if domerr.IsRetryable(err) || errors.Is(err, context.Canceled) {
			c.logger.Printf("deployment %s: %v", d.ID, err)
			return Result{Status: domain.Pending}
		}
		return Failure(err)
	}

	run := Run{
		Deployment:  d,
		Phase:       *phase,
		Target:      target,
		Output:      c.manager.Writer(d, c.phase, target.Module),
		Interrupted: c.interrupted(d),
	}
	if limit := c.expired(*phase); limit != nil {
		if a, ok := c.runner.(Aborter); ok {
			if err := a.Abort(ctx, run); err != nil {
				c.logger.Printf("failed to abort %s phase of deployment %s: %v", c.phase, d.ID, err)
			}
		}
		c.write(ctx, run, limit.Error())
		return Failure(xe.Wrap(limit))
	}

	var result Result
	if phase.InterruptionRequested() {
		if i, ok := c.runner.(Interrupter); ok {
			result, err = i.Interrupt(ctx, run)
		} else {
			result = Result{Status: domain.Interrupted, Err: ErrInterrupted}
		}
	} else {
		result, err = c.runner.Tick(ctx, run)
	}

	if err != nil {
		if domerr.IsRetryable(err) || errors.Is(err, context.Canceled) {
			c.logger.Printf("deployment %s will be retried: %v", d.ID, err)
			return Result{Status: domain.Pending}
		}
		if errors.Is(err, ErrInterrupted) {
			c.write(ctx, run, c.phase.String()+" phase is interrupted")
			return Result{Status: domain.Interrupted, Err: err}
		}
		result = Failure(err)
	}

	switch result.Status {
	case domain.Successful:
		c.write(ctx, run, c.phase.String()+" phase is successful")
	case domain.Interrupted:
		c.write(ctx, run, c.phase.String()+" phase is interrupted")
	case domain.Failed:
		if kindOf(result.Err) == domerr.KindInternal.String() {
			c.logger.Printf("%s phase of deployment %s failed: %+v", c.phase, d.ID, result.Err)
		}
		c.write(ctx, run, c.phase.String()+" phase failed: "+describe(c.phase, result.Err))
	}
	return result
}

func (c *Coordinator) write(ctx context.Context, run Run, line string) {
	if err := run.Output.WriteLine(context.WithoutCancel(ctx), output.System, line); err != nil {
		c.logger.Printf("failed to write log of deployment %s: %v", run.Deployment.ID, err)
	}
}
