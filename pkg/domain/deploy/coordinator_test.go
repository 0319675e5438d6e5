package deploy_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	deploymock "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db/mock"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	outmock "github.com/TencentBlueKing/bkpaas/pkg/domain/output/db/mock"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type runnerFunc func(ctx context.Context, run deploy.Run) (deploy.Result, error)

func (f runnerFunc) Tick(ctx context.Context, run deploy.Run) (deploy.Result, error) {
	return f(ctx, run)
}

type abortable struct {
	runnerFunc
	aborted []string
}

func (a *abortable) Abort(_ context.Context, run deploy.Run) error {
	a.aborted = append(a.aborted, run.Deployment.ID)
	return nil
}

func notTicked(context.Context, deploy.Run) (deploy.Result, error) {
	return deploy.Result{}, errNotCalled
}

// polling is a deployment database holding one deployment.
type polling struct {
	d           domain.Deployment
	db          *deploymock.DeployInterface
	mem         *outmock.Memory
	transitions []kdb.Transition
}

func newPolling(d domain.Deployment, phase domain.PhaseType) *polling {
	p := &polling{d: d, db: deploymock.NewDeployInterface(), mem: outmock.NewMemory()}
	acceptSteps(p.db)
	p.db.Impl.Get = func(context.Context, string) (domain.Deployment, error) {
		return p.d, nil
	}
	p.db.Impl.PickAndSetStatus = func(
		_ context.Context, cursor kdb.Cursor, task func(domain.Deployment) (kdb.Transition, error),
	) (kdb.Cursor, bool, error) {
		tr, err := task(p.d)
		if err != nil {
			return cursor, false, err
		}
		p.transitions = append(p.transitions, tr)
		p.apply(phase, tr)
		return kdb.Cursor{Phase: cursor.Phase, Head: p.d.ID, Debounce: cursor.Debounce}, true, nil
	}
	return p
}

func (p *polling) apply(phase domain.PhaseType, tr kdb.Transition) {
	if !tr.Status.Terminal() {
		return
	}
	ph, _ := p.d.Phase(phase)
	ph.Status = tr.Status
	if _, hasNext := phase.Next(); tr.Status != domain.Successful || !hasNext {
		p.d.Status = tr.Status
		p.d.ErrDetail, p.d.ErrKind, p.d.TipsURL = tr.ErrDetail, tr.ErrKind, tr.TipsURL
	}
}

func TestCoordinator_Poll(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	type when struct {
		phase   domain.PhaseType
		modify  func(*domain.Deployment)
		runner  deploy.Runner
		elapsed time.Duration
		options []deploy.CoordinatorOption
	}
	type then struct {
		transition kdb.Transition
		lines      []string
	}
	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			d := deployment(when.phase, start)
			if when.modify != nil {
				when.modify(&d)
			}
			p := newPolling(d, when.phase)
			manager := deploy.NewManager(
				p.db, appsOf(target), output.New(p.mem), deployConfig(), deploy.WithLogger(quiet),
			)
			options := append([]deploy.CoordinatorOption{
				deploy.WithCoordinatorLogger(quiet),
				deploy.WithClock(func() time.Time { return start.Add(when.elapsed) }),
			}, when.options...)
			testee := deploy.NewCoordinator(manager, when.phase, when.runner, deployConfig(), options...)

			seed := testee.Seed()
			if seed.Phase != when.phase || seed.Debounce != time.Second {
				t.Errorf("seed: actual=%+v", seed)
			}
			cursor, ok, err := testee.Poll(ctx, seed)
			if err != nil {
				t.Fatal(err)
			}
			if !ok || cursor.Head != d.ID {
				t.Errorf("cursor: actual=(%+v, %v), expect=(head=%s, true)", cursor, ok, d.ID)
			}

			if len(p.transitions) != 1 {
				t.Fatalf("transitions: actual=%+v", p.transitions)
			}
			if got := p.transitions[0]; got != then.transition {
				t.Errorf("transition: actual=%+v, expect=%+v", got, then.transition)
			}
			if got := p.mem.Texts("stream-1"); !slices.Equal(got, then.lines) {
				t.Errorf("output: actual=%q, expect=%q", got, then.lines)
			}
		}
	}

	t.Run("when a phase succeeds and the next is waiting", theory(
		when{
			phase: domain.PhasePreparation,
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Succeeded(), nil
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Successful},
			lines:      []string{"preparation phase is successful"},
		},
	))
	t.Run("when the last phase succeeds", theory(
		when{
			phase: domain.PhaseRelease,
			runner: runnerFunc(func(ctx context.Context, run deploy.Run) (deploy.Result, error) {
				if err := run.Output.WriteLine(ctx, output.System, "Processes are ready"); err != nil {
					return deploy.Result{}, err
				}
				return deploy.Succeeded(), nil
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Successful},
			lines:      []string{"Processes are ready", "release phase is successful", "Deployment is successful"},
		},
	))
	t.Run("when the build phase of a build-only deployment succeeds", theory(
		when{
			phase:  domain.PhaseBuild,
			modify: func(d *domain.Deployment) { d.Options.BuildOnly = true },
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Result{Status: domain.Successful, BuildProcessID: "bp-1", BuildID: "build-1"}, nil
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Successful, BuildProcessID: "bp-1", BuildID: "build-1"},
			lines:      []string{"build phase is successful"},
		},
	))
	t.Run("when a phase is still running", theory(
		when{
			phase: domain.PhaseBuild,
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Result{Status: domain.Pending, BuildProcessID: "bp-1"}, nil
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Pending, BuildProcessID: "bp-1"},
			lines:      []string{},
		},
	))
	t.Run("when a phase meets a retryable error", theory(
		when{
			phase: domain.PhaseBuild,
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Result{}, xe.Wrap(&domerr.Upstream{Service: "pipeline", Retryable: true})
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Pending},
			lines:      []string{},
		},
	))
	t.Run("when a phase meets an error", theory(
		when{
			phase: domain.PhasePreparation,
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Result{}, xe.Wrap(domerr.Invalid("app_desc", "module web is not described"))
			}),
		},
		then{
			transition: kdb.Transition{
				Status:    domain.Failed,
				ErrDetail: "invalid app_desc: module web is not described",
				ErrKind:   "validation",
			},
			lines: []string{
				"preparation phase failed: invalid app_desc: module web is not described",
				"Deployment failed: invalid app_desc: module web is not described",
			},
		},
	))
	t.Run("when a phase is interrupted by itself", theory(
		when{
			phase: domain.PhasePreparation,
			runner: runnerFunc(func(context.Context, deploy.Run) (deploy.Result, error) {
				return deploy.Result{}, xe.Wrap(deploy.ErrInterrupted)
			}),
		},
		then{
			transition: kdb.Transition{Status: domain.Interrupted, ErrDetail: "preparation phase is interrupted"},
			lines:      []string{"preparation phase is interrupted", "Deployment is interrupted"},
		},
	))
	t.Run("when interruption is requested to a runner which can not stop by itself", theory(
		when{
			phase: domain.PhaseBuild,
			modify: func(d *domain.Deployment) {
				at := start.Add(time.Minute)
				d.Phases[1].IntRequestedAt = &at
			},
			runner:  runnerFunc(notTicked),
			elapsed: 2 * time.Minute,
		},
		then{
			transition: kdb.Transition{Status: domain.Interrupted, ErrDetail: "build phase is interrupted"},
			lines:      []string{"build phase is interrupted", "Deployment is interrupted"},
		},
	))
	t.Run("when a phase exceeds the polling timeout", theory(
		when{
			phase:   domain.PhaseBuild,
			runner:  &abortable{runnerFunc: notTicked},
			elapsed: 31 * time.Minute,
		},
		then{
			transition: kdb.Transition{
				Status:    domain.Failed,
				ErrDetail: "polling timeout: build phase has exceeded wall clock limit (30m0s)",
				ErrKind:   "polling_timeout",
			},
			lines: []string{
				"polling timeout: build phase has exceeded wall clock limit (30m0s)",
				"Deployment failed: polling timeout: build phase has exceeded wall clock limit (30m0s)",
			},
		},
	))
	t.Run("when a phase is silent longer than the heartbeat", theory(
		when{
			phase: domain.PhaseBuild,
			modify: func(d *domain.Deployment) {
				at := start.Add(time.Minute)
				d.Phases[1].ProgressAt = &at
			},
			runner:  runnerFunc(notTicked),
			elapsed: 4 * time.Minute,
			options: []deploy.CoordinatorOption{deploy.WithHeartbeat(2 * time.Minute)},
		},
		then{
			transition: kdb.Transition{
				Status:    domain.Failed,
				ErrDetail: "polling timeout: build phase has exceeded heartbeat limit (2m0s)",
				ErrKind:   "polling_timeout",
			},
			lines: []string{
				"polling timeout: build phase has exceeded heartbeat limit (2m0s)",
				"Deployment failed: polling timeout: build phase has exceeded heartbeat limit (2m0s)",
			},
		},
	))
}

func TestCoordinator_Poll_AbortsExpiredPhase(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	d := deployment(domain.PhaseBuild, start)
	p := newPolling(d, domain.PhaseBuild)
	manager := deploy.NewManager(p.db, appsOf(target), output.New(p.mem), deployConfig(), deploy.WithLogger(quiet))
	runner := &abortable{runnerFunc: notTicked}
	testee := deploy.NewCoordinator(
		manager, domain.PhaseBuild, runner, deployConfig(),
		deploy.WithCoordinatorLogger(quiet),
		deploy.WithClock(func() time.Time { return start.Add(time.Hour) }),
	)

	if _, _, err := testee.Poll(context.Background(), testee.Seed()); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(runner.aborted, []string{d.ID}) {
		t.Errorf("aborted: actual=%v, expect=%v", runner.aborted, []string{d.ID})
	}
}

func TestCoordinator_Poll_SwallowsLockContention(t *testing.T) {
	db := deploymock.NewDeployInterface()
	db.Impl.PickAndSetStatus = func(
		_ context.Context, cursor kdb.Cursor, _ func(domain.Deployment) (kdb.Transition, error),
	) (kdb.Cursor, bool, error) {
		return cursor, false, xe.Wrap(domerr.Precondition("transition is not allowed"))
	}
	manager := deploy.NewManager(db, appsOf(target), output.New(outmock.NewMemory()), deployConfig(), deploy.WithLogger(quiet))
	testee := deploy.NewCoordinator(
		manager, domain.PhaseRelease, runnerFunc(notTicked), deployConfig(), deploy.WithCoordinatorLogger(quiet),
	)

	cursor, ok, err := testee.Poll(context.Background(), testee.Seed())
	if err != nil {
		t.Errorf("error: actual=%v, expect=nil", err)
	}
	if ok || !cursor.Equal(testee.Seed()) {
		t.Errorf("cursor: actual=(%+v, %v)", cursor, ok)
	}
}

func TestCoordinator_Poll_StopsOnDatabaseError(t *testing.T) {
	expectErr := errors.New("connection refused")
	db := deploymock.NewDeployInterface()
	db.Impl.PickAndSetStatus = func(
		_ context.Context, cursor kdb.Cursor, _ func(domain.Deployment) (kdb.Transition, error),
	) (kdb.Cursor, bool, error) {
		return cursor, false, expectErr
	}
	manager := deploy.NewManager(db, appsOf(target), output.New(outmock.NewMemory()), deployConfig(), deploy.WithLogger(quiet))
	testee := deploy.NewCoordinator(
		manager, domain.PhaseRelease, runnerFunc(notTicked), deployConfig(), deploy.WithCoordinatorLogger(quiet),
	)

	if _, _, err := testee.Poll(context.Background(), testee.Seed()); !errors.Is(err, expectErr) {
		t.Errorf("error: actual=%v, expect=%v", err, expectErr)
	}
}
