// Package build runs builds of modules and records their products.
//
// A build runs on one of backends: builder pods in the cluster (PodBackend),
// or an external pipeline engine (PipelineBackend).
// Modules built from custom images skip builders, and their images are resolved by ImageResolver.
package build

import (
	"context"
	"errors"
	"log"

	"github.com/TencentBlueKing/bkpaas/pkg/blob"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Output receives log lines of builders.
type Output interface {
	WriteLine(ctx context.Context, stream output.Stream, line string) error
}

// Job is a build to be run by a Backend.
type Job struct {
	Process domain.BuildProcess

	// environment variables passed to the builder.
	Env map[string]string

	Output Output

	// Interrupted reports whether someone asks to stop the build.
	Interrupted func(context.Context) (bool, error)
}

// Backend runs builders.
type Backend interface {
	// Run runs the job until the builder finishes.
	//
	// It returns ErrInterrupted when the build is stopped by request,
	// and errors of domerr.ErrBuilderFailure when the builder fails.
	Run(ctx context.Context, job Job) error
}

// EnvResolver resolves layered environment variables. *configvar.Resolver satisfies it.
type EnvResolver interface {
	Resolve(ctx context.Context, t configvar.Target, point configvar.Point) (configvar.Env, error)
}

// StartBuild is a request to build a module.
type StartBuild struct {
	Target       configvar.Target
	DeploymentID string

	// key of the source tarball in the blob store.
	SourceTarball string

	Revision string
	Branch   string

	// id of the output stream where builder logs go.
	OutputStreamID string
}

// Result is the outcome of a build process.
type Result struct {
	Process domain.BuildProcess

	// nil unless the build process is successful.
	Build *domain.Build
}

type Orchestrator struct {
	db       kdb.Interface
	store    blob.Store
	resolver EnvResolver
	outputs  *output.Store
	backend  Backend
	conf     *platform.BuildConfig
	region   string
	logger   *log.Logger

	listeners func(domain.BuildProcess) []output.Listener
}

type Option func(*Orchestrator) *Orchestrator

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) *Orchestrator {
		o.logger = logger
		return o
	}
}

// WithOutputListeners sets listeners of output lines of each build process.
func WithOutputListeners(listeners func(bp domain.BuildProcess) []output.Listener) Option {
	return func(o *Orchestrator) *Orchestrator {
		o.listeners = listeners
		return o
	}
}

func NewOrchestrator(
	db kdb.Interface,
	store blob.Store,
	resolver EnvResolver,
	outputs *output.Store,
	backend Backend,
	conf *platform.BuildConfig,
	region string,
	options ...Option,
) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		store:    store,
		resolver: resolver,
		outputs:  outputs,
		backend:  backend,
		conf:     conf,
		region:   region,
		logger:   log.New(log.Writer(), "[build] ", log.LstdFlags),
	}
	for _, opt := range options {
		o = opt(o)
	}
	return o
}

// builderOf decides the builder image and metadata of a build of the module.
func (o *Orchestrator) builderOf(app domain.Application, module domain.Module) (string, domain.BuildMetadata, error) {
	conf := module.BuildConfig
	switch conf.Method {
	case domain.BuildMethodDockerfile:
		return o.conf.DockerBuilderImage(), domain.BuildMetadata{UseDockerfile: true}, nil
	case domain.BuildMethodBuildpack:
		if app.Type == domain.AppTypeCloudNative && o.conf.CNBBuilderImage() != "" {
			image := conf.BuilderImage
			if image == "" {
				image = o.conf.CNBBuilderImage()
			}
			return image, domain.BuildMetadata{UseCNB: true}, nil
		}
		image := conf.BuilderImage
		if image == "" {
			image = o.conf.SlugBuilderImage()
		}
		return image, domain.BuildMetadata{}, nil
	default:
		return "", domain.BuildMetadata{}, xe.Wrap(domerr.Invalid(
			"build_method", "modules of %s are not built by builders", conf.Method,
		))
	}
}

// Start records a pending BuildProcess.
func (o *Orchestrator) Start(ctx context.Context, req StartBuild) (domain.BuildProcess, error) {
	image, metadata, err := o.builderOf(req.Target.App, req.Target.Module)
	if err != nil {
		return domain.BuildProcess{}, err
	}
	if image == "" {
		return domain.BuildProcess{}, xe.Wrap(domerr.Precondition(
			"no builder image is configured for %s builds", req.Target.Module.BuildConfig.Method,
		))
	}
	streamID := req.OutputStreamID
	if streamID == "" {
		streamID = output.NewStreamID()
	}
	return o.db.NewProcess(ctx, domain.BuildProcess{
		ModuleID:       req.Target.Module.ID,
		WorkloadApp:    req.Target.Env.WorkloadApp,
		DeploymentID:   req.DeploymentID,
		SourceTarball:  req.SourceTarball,
		BuilderImage:   image,
		Buildpacks:     req.Target.Module.BuildConfig.Buildpacks,
		Metadata:       metadata,
		Revision:       req.Revision,
		Branch:         req.Branch,
		OutputStreamID: streamID,
	})
}

// RequestInterruption asks the running build to stop.
func (o *Orchestrator) RequestInterruption(ctx context.Context, bpID string) error {
	return o.db.RequestInterruption(ctx, bpID)
}

func (o *Orchestrator) interrupted(bpID string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		bp, err := o.db.GetProcess(ctx, bpID)
		if err != nil {
			return false, err
		}
		return bp.InterruptionRequested(), nil
	}
}

// Run runs the BuildProcess to its end.
//
// A BuildProcess which has been finished is not run again; Run returns its result as is.
// When the builder fails, Run records the failure and returns the error with the result.
func (o *Orchestrator) Run(ctx context.Context, bpID string, target configvar.Target) (Result, error) {
	bp, err := o.db.GetProcess(ctx, bpID)
	if err != nil {
		return Result{}, err
	}
	if bp.Status.Terminal() {
		return o.resultOf(ctx, bp)
	}

	var listeners []output.Listener
	if o.listeners != nil {
		listeners = o.listeners(bp)
	}
	out := o.outputs.Writer(bp.OutputStreamID, listeners...)
	if bp.InterruptionRequested() {
		return o.finish(ctx, bp, out, xe.Wrap(ErrInterrupted))
	}

	artifacts := ArtifactsOf(o.region, o.conf.OutputRepository(), bp)
	vars, err := o.resolver.Resolve(ctx, target, configvar.PointBuild)
	if err != nil {
		return o.finish(ctx, bp, out, err)
	}
	env, err := EnvDictionary(ctx, o.store, bp, target.Module.BuildConfig, artifacts, vars)
	if err != nil {
		return o.finish(ctx, bp, out, err)
	}

	runErr := o.backend.Run(ctx, Job{
		Process:     bp,
		Env:         env,
		Output:      out,
		Interrupted: o.interrupted(bp.ID),
	})
	if runErr != nil {
		return o.finish(ctx, bp, out, runErr)
	}

	build, err := o.db.Succeed(ctx, bp.ID, domain.Build{
		ModuleID:     bp.ModuleID,
		WorkloadApp:  bp.WorkloadApp,
		ArtifactType: domain.ArtifactTypeFor(bp.Metadata.UseDockerfile, bp.Metadata.UseCNB),
		Image:        artifacts.OutputImage,
		SlugPath:     artifacts.SlugKey,
		Revision:     bp.Revision,
		Branch:       bp.Branch,
		Metadata:     bp.Metadata,
	})
	if err != nil {
		return Result{Process: bp}, err
	}
	if err := out.WriteLine(ctx, output.System, "build succeeded"); err != nil {
		o.logger.Printf("failed to write log of build process %s: %v", bp.ID, err)
	}

	bp, err = o.db.GetProcess(ctx, bp.ID)
	if err != nil {
		return Result{Build: &build}, err
	}
	return Result{Process: bp, Build: &build}, nil
}

// Result returns the current state of the BuildProcess.
func (o *Orchestrator) Result(ctx context.Context, bpID string) (Result, error) {
	bp, err := o.db.GetProcess(ctx, bpID)
	if err != nil {
		return Result{}, err
	}
	return o.resultOf(ctx, bp)
}

func (o *Orchestrator) resultOf(ctx context.Context, bp domain.BuildProcess) (Result, error) {
	if bp.Status != domain.Successful || bp.BuildID == "" {
		return Result{Process: bp}, nil
	}
	build, err := o.db.GetBuild(ctx, bp.BuildID)
	if err != nil {
		return Result{Process: bp}, err
	}
	return Result{Process: bp, Build: &build}, nil
}

// finish records the failure cause.
func (o *Orchestrator) finish(ctx context.Context, bp domain.BuildProcess, out Output, cause error) (Result, error) {
	status := domain.Failed
	message := "build failed: " + xe.Root(cause).Error()
	if errors.Is(cause, ErrInterrupted) {
		status = domain.Interrupted
		message = "build is interrupted"
	} else if domerr.KindOf(cause) == domerr.KindInternal {
		o.logger.Printf("build process %s failed: %+v", bp.ID, cause)
		message = "build failed by an internal error"
	}

	// the cause is recorded even if the context is done.
	ctx = context.WithoutCancel(ctx)
	if err := out.WriteLine(ctx, output.System, message); err != nil {
		o.logger.Printf("failed to write log of build process %s: %v", bp.ID, err)
	}
	if err := o.db.SetProcessStatus(ctx, bp.ID, status); err != nil {
		return Result{Process: bp}, errors.Join(cause, err)
	}
	if updated, err := o.db.GetProcess(ctx, bp.ID); err == nil {
		bp = updated
	} else {
		bp.Status = status
	}
	return Result{Process: bp}, cause
}
