package domain

import (
	"fmt"
	"time"
)

type PhaseType string

const (
	PhasePreparation PhaseType = "preparation"
	PhaseBuild       PhaseType = "build"
	PhaseRelease     PhaseType = "release"
)

// PhaseTypes returns all phases in the order they run.
func PhaseTypes() []PhaseType {
	return []PhaseType{PhasePreparation, PhaseBuild, PhaseRelease}
}

func (p PhaseType) String() string {
	return string(p)
}

func AsPhaseType(s string) (PhaseType, error) {
	switch PhaseType(s) {
	case PhasePreparation, PhaseBuild, PhaseRelease:
		return PhaseType(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a deploy phase", s)
	}
}

// Next returns the phase after p. ok is false for the last phase.
func (p PhaseType) Next() (PhaseType, bool) {
	switch p {
	case PhasePreparation:
		return PhaseBuild, true
	case PhaseBuild:
		return PhaseRelease, true
	default:
		return "", false
	}
}

type SourceVersion struct {
	// "branch", "tag", "trunk", "image", ...
	Type     string
	Name     string
	Revision string
}

type AdvancedOptions struct {
	// sub directory of the repository where the app lives.
	SourceDir string

	// IfNotPresent, Always or Never
	ImagePullPolicy string

	// ask to build only, skipping the release phase.
	BuildOnly bool
}

type Step struct {
	Name         string
	Status       JobStatus
	StartTime    *time.Time
	CompleteTime *time.Time
}

type Phase struct {
	Type           PhaseType
	Status         JobStatus
	IntRequestedAt *time.Time
	StartTime      *time.Time
	CompleteTime   *time.Time

	// last time when the phase wrote logs.
	ProgressAt *time.Time

	Steps []Step
}

// InterruptionRequested reports whether someone asks to stop this phase.
func (p Phase) InterruptionRequested() bool {
	return p.IntRequestedAt != nil
}

// Started reports whether the phase has been picked by a worker.
func (p Phase) Started() bool {
	return p.StartTime != nil
}

type Deployment struct {
	ID            string
	ApplicationID string
	ModuleID      string
	EnvironmentID string
	WorkloadApp   string
	Operator      string

	Source  SourceVersion
	Options AdvancedOptions

	// process name -> command, snapshot at the time of deploy.
	Procfile map[string]string

	// hooks snapshot at the time of deploy.
	Hooks []DeployHook

	Status JobStatus

	// stream where logs of all phases go.
	OutputStreamID string

	// exactly 3 phases, in the order of PhaseTypes().
	Phases []Phase

	BuildProcessID string
	BuildID        string

	ErrDetail string
	ErrKind   string
	TipsURL   string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompleteTime *time.Time
}

// Phase returns the phase of the type. ok is false when it is missing.
func (d *Deployment) Phase(t PhaseType) (*Phase, bool) {
	for i := range d.Phases {
		if d.Phases[i].Type == t {
			return &d.Phases[i], true
		}
	}
	return nil, false
}

// CurrentPhase returns the first phase which is not successful.
//
// ok is false when all phases are successful.
func (d *Deployment) CurrentPhase() (*Phase, bool) {
	for i := range d.Phases {
		if d.Phases[i].Status != Successful {
			return &d.Phases[i], true
		}
	}
	return nil, false
}

// NewPhases creates pending phases with pending steps.
func NewPhases(steps map[PhaseType][]string) []Phase {
	phases := make([]Phase, 0, 3)
	for _, t := range PhaseTypes() {
		p := Phase{Type: t, Status: Pending}
		for _, name := range steps[t] {
			p.Steps = append(p.Steps, Step{Name: name, Status: Pending})
		}
		phases = append(phases, p)
	}
	return phases
}

// LogLine is a line of an output stream.
type LogLine struct {
	StreamID string
	Offset   int64

	// "STDOUT", "STDERR" or "SYSTEM"
	Stream    string
	Line      string
	CreatedAt time.Time
}
