// Package deploy drives deployments through preparation, build and release.
//
// Deployments are persisted state machines. Each phase is polled by a Coordinator,
// which picks a pending deployment, runs one tick of the phase Runner and saves the outcome.
// Progress inside phases is surfaced as steps, moved by output lines matching StepDefinitions.
package deploy

import (
	"context"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/output"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Result is the outcome of a phase.
type Result struct {
	// Pending keeps the phase polled.
	Status domain.JobStatus

	// cause of Failed or Interrupted.
	Err error

	BuildProcessID string
	BuildID        string
}

// Succeeded is a successful Result.
func Succeeded() Result {
	return Result{Status: domain.Successful}
}

// Failure is a failed Result caused by err.
func Failure(err error) Result {
	return Result{Status: domain.Failed, Err: err}
}

// StartDeployment is a request to deploy a module into an environment.
type StartDeployment struct {
	Target   configvar.Target
	Operator string
	Source   domain.SourceVersion
	Options  domain.AdvancedOptions
}

// Manager keeps states of deployments.
type Manager struct {
	db      kdb.Interface
	apps    appdb.Interface
	outputs *output.Store
	tips    []platform.Tip
	metrics *Metrics
	logger  *log.Logger

	// interval of recording progress of phases.
	progressInterval time.Duration
}

type Option func(*Manager) *Manager

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) *Manager {
		m.logger = logger
		return m
	}
}

// WithMetrics records finished deployments into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) *Manager {
		m.metrics = metrics
		return m
	}
}

// WithProgressInterval sets how often output lines are recorded as progress of phases.
func WithProgressInterval(d time.Duration) Option {
	return func(m *Manager) *Manager {
		m.progressInterval = d
		return m
	}
}

func NewManager(db kdb.Interface, apps appdb.Interface, outputs *output.Store, conf *platform.DeployConfig, options ...Option) *Manager {
	m := &Manager{
		db:               db,
		apps:             apps,
		outputs:          outputs,
		tips:             conf.Tips(),
		logger:           log.New(log.Writer(), "[deploy] ", log.LstdFlags),
		progressInterval: 5 * time.Second,
	}
	for _, opt := range options {
		m = opt(m)
	}
	return m
}

var imagePullPolicies = []string{"", "Always", "IfNotPresent", "Never"}

func validate(req StartDeployment) error {
	t := req.Target
	errs := domerr.ValidationErrors{}
	if t.Module.ApplicationID != t.App.ID {
		errs = append(errs, domerr.ValidationError{Field: "module", Reason: "module does not belong to the application"})
	}
	if t.Env.ModuleID != t.Module.ID {
		errs = append(errs, domerr.ValidationError{Field: "environment", Reason: "environment does not belong to the module"})
	}
	if req.Source.Name == "" {
		errs = append(errs, domerr.ValidationError{Field: "version", Reason: "version to be deployed is required"})
	}
	if !slices.Contains(imagePullPolicies, req.Options.ImagePullPolicy) {
		errs = append(errs, domerr.ValidationError{
			Field: "image_pull_policy", Reason: "one of Always, IfNotPresent or Never is expected",
		})
	}
	if dir := req.Options.SourceDir; dir != "" && !filepath.IsLocal(dir) {
		errs = append(errs, domerr.ValidationError{Field: "source_dir", Reason: "it should be a relative path in the repository"})
	}
	if req.Options.BuildOnly && t.Module.BuildConfig.Method == domain.BuildMethodCustomImage {
		errs = append(errs, domerr.ValidationError{Field: "build_only", Reason: "modules with custom images are not built"})
	}
	return errs.OrNil()
}

// procfileOf returns process name -> command.
func procfileOf(specs []domain.ProcessSpec) map[string]string {
	procfile := map[string]string{}
	for _, s := range specs {
		if s.ProcCommand != "" {
			procfile[s.Name] = s.ProcCommand
			continue
		}
		procfile[s.Name] = strings.Join(append(slices.Clone(s.Command), s.Args...), " ")
	}
	return procfile
}

// Start records a new deployment, and queues it to the preparation phase.
//
// Returns
//
// - error: *kdb.InProgress (ErrDeploymentInProgress) when another deployment of the environment is running.
// Errors of domerr.ErrValidation when the request is invalid.
func (m *Manager) Start(ctx context.Context, req StartDeployment) (domain.Deployment, error) {
	t := req.Target
	if !t.App.IsActive {
		return domain.Deployment{}, xe.Wrap(domerr.Precondition("application %s is offline", t.App.Code))
	}
	if err := validate(req); err != nil {
		return domain.Deployment{}, xe.Wrap(err)
	}

	specs, err := m.apps.ListProcessSpecs(ctx, t.Module.ID)
	if err != nil {
		return domain.Deployment{}, err
	}
	hooks, err := m.apps.ListDeployHooks(ctx, t.Module.ID)
	if err != nil {
		return domain.Deployment{}, err
	}

	d, err := m.db.New(ctx, domain.Deployment{
		ApplicationID: t.App.ID,
		ModuleID:      t.Module.ID,
		EnvironmentID: t.Env.ID,
		WorkloadApp:   t.Env.WorkloadApp,
		Operator:      req.Operator,
		Source:        req.Source,
		Options:       req.Options,
		Procfile:      procfileOf(specs),
		Hooks:         hooks,
		Phases:        domain.NewPhases(StepNames(StepsFor(t.Module))),
	})
	if err != nil {
		return domain.Deployment{}, err
	}

	if err := m.outputs.Writer(d.OutputStreamID).WriteLine(
		ctx, output.System,
		"Deployment "+d.ID+" of "+t.Env.Stage.String()+" is queued by "+req.Operator,
	); err != nil {
		m.logger.Printf("failed to write log of deployment %s: %v", d.ID, err)
	}
	return d, nil
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Deployment, error) {
	return m.db.Get(ctx, id)
}

// Latest returns the most recent deployment of the environment.
func (m *Manager) Latest(ctx context.Context, environmentID string) (domain.Deployment, error) {
	return m.db.Latest(ctx, environmentID)
}

// Target returns the application, module and environment of the deployment.
func (m *Manager) Target(ctx context.Context, d domain.Deployment) (configvar.Target, error) {
	app, err := m.apps.GetApplicationByID(ctx, d.ApplicationID)
	if err != nil {
		return configvar.Target{}, err
	}
	module, err := m.apps.GetModuleByID(ctx, d.ModuleID)
	if err != nil {
		return configvar.Target{}, err
	}
	env, err := m.apps.GetEnvironment(ctx, d.EnvironmentID)
	if err != nil {
		return configvar.Target{}, err
	}
	return configvar.Target{App: app, Module: module, Env: env}, nil
}

// RequestInterruption asks the phase of the deployment to stop.
//
// Requesting twice is not an error. The release phase can not be interrupted,
// since workloads have been applied to the cluster at that time.
func (m *Manager) RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error {
	if phase == domain.PhaseRelease {
		return xe.Wrap(domerr.Precondition("release phase can not be interrupted"))
	}
	d, err := m.db.Get(ctx, id)
	if err != nil {
		return err
	}
	if p, ok := d.Phase(phase); ok && p.InterruptionRequested() {
		return nil
	}
	if err := m.db.RequestInterruption(ctx, id, phase); err != nil {
		return err
	}
	if err := m.outputs.Writer(d.OutputStreamID).WriteLine(
		ctx, output.System, "Interruption of "+phase.String()+" phase is requested",
	); err != nil {
		m.logger.Printf("failed to write log of deployment %s: %v", d.ID, err)
	}
	return nil
}

// Finish finishes the phase with the result, out of polling.
//
// Finishing a phase again with the same status is not an error, and changes nothing.
func (m *Manager) Finish(ctx context.Context, id string, phase domain.PhaseType, result Result) (domain.Deployment, error) {
	if !result.Status.Terminal() {
		return domain.Deployment{}, xe.Wrap(domerr.Invalid("status", "%s is not a terminal status", result.Status))
	}
	d, err := m.db.Get(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	if p, ok := d.Phase(phase); ok && p.Status == result.Status {
		return d, nil
	}

	if result.Status == domain.Failed && kindOf(result.Err) == domerr.KindInternal.String() {
		m.logger.Printf("%s phase of deployment %s failed: %+v", phase, id, result.Err)
	}
	finished, err := m.db.Finish(ctx, id, phase, m.transition(phase, result))
	if err != nil {
		return domain.Deployment{}, err
	}
	m.finished(ctx, finished)
	return finished, nil
}

// describe makes a user readable message of the cause.
func describe(phase domain.PhaseType, err error) string {
	if err == nil {
		return phase.String() + " phase failed"
	}
	if kindOf(err) == domerr.KindInternal.String() {
		return phase.String() + " phase failed by an internal error"
	}
	return xe.Root(err).Error()
}

// tipFor returns the document for the failure. The first matching tip wins.
func (m *Manager) tipFor(detail string) string {
	for _, t := range m.tips {
		if t.Pattern.MatchString(detail) {
			return t.URL
		}
	}
	return ""
}

// transition makes what is saved for the result.
func (m *Manager) transition(phase domain.PhaseType, result Result) kdb.Transition {
	t := kdb.Transition{
		Status:         result.Status,
		BuildProcessID: result.BuildProcessID,
		BuildID:        result.BuildID,
	}
	switch result.Status {
	case domain.Failed:
		t.ErrDetail = describe(phase, result.Err)
		t.ErrKind = kindOf(result.Err)
		t.TipsURL = m.tipFor(t.ErrDetail)
	case domain.Interrupted:
		t.ErrDetail = phase.String() + " phase is interrupted"
	}
	return t
}

// finished reports the deployment, when it has been finished.
func (m *Manager) finished(ctx context.Context, d domain.Deployment) {
	if !d.Status.Terminal() {
		return
	}
	m.metrics.Observe(d)

	lines := []string{}
	switch d.Status {
	case domain.Successful:
		lines = append(lines, "Deployment is successful")
	case domain.Interrupted:
		lines = append(lines, "Deployment is interrupted")
	default:
		lines = append(lines, "Deployment failed: "+d.ErrDetail)
		if d.TipsURL != "" {
			lines = append(lines, "See "+d.TipsURL+" for help")
		}
	}
	if err := m.outputs.Writer(d.OutputStreamID).WriteLines(
		context.WithoutCancel(ctx), output.System, lines...,
	); err != nil {
		m.logger.Printf("failed to write log of deployment %s: %v", d.ID, err)
	}
}

// Listeners returns output listeners moving steps of the phase and recording its progress.
func (m *Manager) Listeners(deploymentID string, phase domain.PhaseType, steps []StepDefinition) []output.Listener {
	matcher := NewStepMatcher(steps)
	progress := &rate.Sometimes{Interval: m.progressInterval}
	return []output.Listener{
		func(ctx context.Context, line string) {
			updates := matcher.Feed(line)
			if len(updates) == 0 {
				return
			}
			if err := m.db.UpdateSteps(ctx, deploymentID, phase, updates); err != nil {
				m.logger.Printf("failed to update steps of deployment %s: %v", deploymentID, err)
			}
		},
		func(ctx context.Context, _ string) {
			progress.Do(func() {
				if err := m.db.Progress(ctx, deploymentID, phase); err != nil {
					m.logger.Printf("failed to record progress of deployment %s: %v", deploymentID, err)
				}
			})
		},
	}
}

// Writer returns a writer of the deployment output, following steps of the phase.
func (m *Manager) Writer(d domain.Deployment, phase domain.PhaseType, module domain.Module) *output.Writer {
	return m.outputs.Writer(d.OutputStreamID, m.Listeners(d.ID, phase, StepsFor(module)[phase])...)
}

// BuildOutputListeners returns listeners of builder outputs of the build process.
//
// Pass this to build.WithOutputListeners, so that builder logs move steps of the build phase.
func (m *Manager) BuildOutputListeners(bp domain.BuildProcess) []output.Listener {
	if bp.DeploymentID == "" {
		return nil
	}
	return m.Listeners(bp.DeploymentID, domain.PhaseBuild, []StepDefinition{stepInitBuild, stepBuild})
}
