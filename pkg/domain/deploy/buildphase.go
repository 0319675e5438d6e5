package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/build"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
)

// Builder runs build processes. *build.Orchestrator implements this.
type Builder interface {
	Start(ctx context.Context, req build.StartBuild) (domain.BuildProcess, error)
	Run(ctx context.Context, bpID string, target configvar.Target) (build.Result, error)
	Result(ctx context.Context, bpID string) (build.Result, error)
	RequestInterruption(ctx context.Context, bpID string) error
}

// ImageResolver records builds of custom images. *build.ImageResolver implements this.
type ImageResolver interface {
	Resolve(ctx context.Context, t configvar.Target, tag string) (domain.Build, error)
}

// BuildPhase builds the source uploaded in the preparation phase.
//
// The first tick records a build process, and the next tick starts it in background.
// Later ticks observe the build process until it is finished.
//
// Running builds are tracked in memory. When a pending build process is not running here
// (for example, after restarts), it is started again.
// So, only one BuildPhase should work for a database at a time.
type BuildPhase struct {
	builder Builder
	images  ImageResolver
	logger  *log.Logger

	mu       sync.Mutex
	inflight map[string]bool
	causes   map[string]error
	running  sync.WaitGroup
}

var (
	_ Runner      = &BuildPhase{}
	_ Interrupter = &BuildPhase{}
	_ Aborter     = &BuildPhase{}
)

type BuildPhaseOption func(*BuildPhase) *BuildPhase

func WithBuildPhaseLogger(logger *log.Logger) BuildPhaseOption {
	return func(b *BuildPhase) *BuildPhase {
		b.logger = logger
		return b
	}
}

func NewBuildPhase(builder Builder, images ImageResolver, options ...BuildPhaseOption) *BuildPhase {
	b := &BuildPhase{
		builder:  builder,
		images:   images,
		logger:   log.New(log.Writer(), "[deploy/build] ", log.LstdFlags),
		inflight: map[string]bool{},
		causes:   map[string]error{},
	}
	for _, opt := range options {
		b = opt(b)
	}
	return b
}

// Wait blocks until builds started by this BuildPhase are finished.
func (b *BuildPhase) Wait() {
	b.running.Wait()
}

// launch runs the build process in background, unless it is running.
//
// Builds are not bound to ticks; they keep running while polling loops restart.
func (b *BuildPhase) launch(ctx context.Context, bpID string, target configvar.Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight[bpID] {
		return
	}
	b.inflight[bpID] = true
	b.running.Add(1)

	go func() {
		defer b.running.Done()
		_, err := b.builder.Run(context.WithoutCancel(ctx), bpID, target)

		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.inflight, bpID)
		if err != nil {
			b.logger.Printf("build process %s: %v", bpID, err)
			b.causes[bpID] = err
		}
	}()
}

// cause pops the error which the build process failed with.
func (b *BuildPhase) cause(bpID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err, ok := b.causes[bpID]
	if !ok {
		return fmt.Errorf("build process %s failed: %w", bpID, domerr.ErrBuilderFailure)
	}
	delete(b.causes, bpID)
	return err
}

func (b *BuildPhase) Tick(ctx context.Context, run Run) (Result, error) {
	if run.Target.Module.BuildConfig.Method == domain.BuildMethodCustomImage {
		return b.resolveImage(ctx, run)
	}

	d := run.Deployment
	if d.BuildProcessID == "" {
		if err := run.Output.WriteLine(ctx, output.System, "Starting build process"); err != nil {
			return Result{}, err
		}
		t := run.Target
		bp, err := b.builder.Start(ctx, build.StartBuild{
			Target:         t,
			DeploymentID:   d.ID,
			SourceTarball:  blob.SourceKey(t.App.Region, t.App.Code, t.Module.Name, d.ID),
			Revision:       d.Source.Revision,
			Branch:         d.Source.Name,
			OutputStreamID: d.OutputStreamID,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Status: domain.Pending, BuildProcessID: bp.ID}, nil
	}

	return b.observe(ctx, run)
}

// observe reads the build process, and starts it when it is not running.
func (b *BuildPhase) observe(ctx context.Context, run Run) (Result, error) {
	bpID := run.Deployment.BuildProcessID
	res, err := b.builder.Result(ctx, bpID)
	if err != nil {
		return Result{}, err
	}

	switch res.Process.Status {
	case domain.Successful:
		if res.Build == nil {
			return Result{}, fmt.Errorf("build process %s has no build", bpID)
		}
		return Result{Status: domain.Successful, BuildProcessID: bpID, BuildID: res.Build.ID}, nil
	case domain.Interrupted:
		return Result{Status: domain.Interrupted, Err: ErrInterrupted, BuildProcessID: bpID}, nil
	case domain.Failed:
		return Result{Status: domain.Failed, Err: b.cause(bpID), BuildProcessID: bpID}, nil
	default:
		b.launch(ctx, bpID, run.Target)
		return Result{Status: domain.Pending}, nil
	}
}

// Interrupt forwards the request to the build process, and waits it to stop.
func (b *BuildPhase) Interrupt(ctx context.Context, run Run) (Result, error) {
	bpID := run.Deployment.BuildProcessID
	if bpID == "" {
		return Result{Status: domain.Interrupted, Err: ErrInterrupted}, nil
	}
	if err := b.builder.RequestInterruption(ctx, bpID); err != nil && !errors.Is(err, domerr.ErrPreconditionFailed) {
		return Result{}, err
	}
	return b.observe(ctx, run)
}

// Abort stops the build process of the phase.
func (b *BuildPhase) Abort(ctx context.Context, run Run) error {
	bpID := run.Deployment.BuildProcessID
	if bpID == "" {
		return nil
	}
	if err := b.builder.RequestInterruption(ctx, bpID); err != nil && !errors.Is(err, domerr.ErrPreconditionFailed) {
		return err
	}
	return nil
}

func (b *BuildPhase) resolveImage(ctx context.Context, run Run) (Result, error) {
	tag := run.Deployment.Source.Name
	repo := run.Target.Module.BuildConfig.ImageRepository
	if err := run.Output.WriteLine(ctx, output.System, "Resolving image "+repo+":"+tag); err != nil {
		return Result{}, err
	}
	resolved, err := b.images.Resolve(ctx, run.Target, tag)
	if err != nil {
		return Result{}, err
	}
	if err := run.Output.WriteLine(ctx, output.System, "Image "+resolved.Image+" is resolved"); err != nil {
		return Result{}, err
	}
	return Result{Status: domain.Successful, BuildID: resolved.ID}, nil
}
