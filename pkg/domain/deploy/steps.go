package deploy

import (
	"regexp"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
)

// StepDefinition tells how a step is observed in output lines.
type StepDefinition struct {
	Name string

	// a line matching this starts the step.
	Started *regexp.Regexp

	// a line matching this finishes the step successfully.
	Finished *regexp.Regexp
}

func step(name, started, finished string) StepDefinition {
	return StepDefinition{
		Name:     name,
		Started:  regexp.MustCompile(started),
		Finished: regexp.MustCompile(finished),
	}
}

var (
	stepParseProcesses = step("Parse process info", `^Parsing process info`, `^Process info is parsed`)
	stepUploadSource   = step("Upload source code", `^Uploading source code`, `^Source code is uploaded`)
	stepProvision      = step("Provision add-on instances", `^Provisioning add-on instances`, `^Add-on instances are ready`)

	stepInitBuild = step(
		"Initialize build environment",
		`^Starting build process`,
		`^(builder pod \S+ is running|pipeline build \S+ is started)`,
	)
	stepBuild = step(
		"Build application",
		`^(builder pod \S+ is running|pipeline build \S+ is started)`,
		`^build succeeded$`,
	)
	stepResolveImage = step("Resolve image", `^Resolving image`, `^Image \S+ is resolved`)

	stepApply = step("Apply workloads", `^Applying workloads`, `^Workloads are applied`)
	stepCheck = step("Check deployment result", `^Waiting for processes to be ready`, `^Processes are ready`)
)

// StepsFor returns steps of each phase in a deployment of the module.
func StepsFor(module domain.Module) map[domain.PhaseType][]StepDefinition {
	if module.BuildConfig.Method == domain.BuildMethodCustomImage {
		return map[domain.PhaseType][]StepDefinition{
			domain.PhasePreparation: {stepProvision},
			domain.PhaseBuild:       {stepResolveImage},
			domain.PhaseRelease:     {stepApply, stepCheck},
		}
	}
	return map[domain.PhaseType][]StepDefinition{
		domain.PhasePreparation: {stepParseProcesses, stepUploadSource, stepProvision},
		domain.PhaseBuild:       {stepInitBuild, stepBuild},
		domain.PhaseRelease:     {stepApply, stepCheck},
	}
}

// StepNames returns names of steps, keeping the order.
func StepNames(defs map[domain.PhaseType][]StepDefinition) map[domain.PhaseType][]string {
	names := map[domain.PhaseType][]string{}
	for phase, steps := range defs {
		for _, s := range steps {
			names[phase] = append(names[phase], s.Name)
		}
	}
	return names
}

// StepMatcher follows output lines of a phase and tells which steps have moved.
//
// Each step is started and finished at most once. Safe to be used concurrently.
type StepMatcher struct {
	defs []StepDefinition

	mu       sync.Mutex
	started  map[string]bool
	finished map[string]bool
}

func NewStepMatcher(defs []StepDefinition) *StepMatcher {
	return &StepMatcher{
		defs:     defs,
		started:  map[string]bool{},
		finished: map[string]bool{},
	}
}

// Feed matches a line against steps.
//
// A line finishing a step which has not been started starts it, too.
// It returns nil when no steps move.
func (m *StepMatcher) Feed(line string) []kdb.StepUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updates []kdb.StepUpdate
	for _, d := range m.defs {
		if m.finished[d.Name] {
			continue
		}
		if d.Finished.MatchString(line) {
			m.started[d.Name] = true
			m.finished[d.Name] = true
			updates = append(updates, kdb.StepUpdate{Name: d.Name, Status: domain.Successful, Started: true})
			continue
		}
		if !m.started[d.Name] && d.Started.MatchString(line) {
			m.started[d.Name] = true
			updates = append(updates, kdb.StepUpdate{Name: d.Name, Status: domain.Pending, Started: true})
		}
	}
	return updates
}
