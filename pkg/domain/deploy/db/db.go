package db

import (
	"context"
	"errors"
	"time"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

// Cursor points a deployment to be polled in a phase.
type Cursor struct {
	// phase to be polled.
	Phase domain.PhaseType

	// id of the deployment polled last time.
	Head string

	// deployments polled within this duration are not picked.
	Debounce time.Duration
}

func (c Cursor) Equal(o Cursor) bool {
	return c.Phase == o.Phase && c.Head == o.Head && c.Debounce == o.Debounce
}

// Transition is what a polling tick decided for a phase.
type Transition struct {
	// Pending keeps the phase polled.
	Status domain.JobStatus

	// recorded when not empty.
	BuildProcessID string
	BuildID        string

	// meaningful only when Status is Failed or Interrupted.
	ErrDetail string
	ErrKind   string
	TipsURL   string
}

// StepUpdate is a change of a step.
type StepUpdate struct {
	Name   string
	Status domain.JobStatus

	// set the start time of the step, if it is not set yet.
	Started bool
}

type Interface interface {
	// New records a deployment with phases and steps given.
	//
	// ID and OutputStreamID are assigned when they are empty.
	// Status of the deployment and phases are Pending.
	//
	// Returns
	//
	// - error: *InProgress when another deployment of the environment is pending.
	New(ctx context.Context, d domain.Deployment) (domain.Deployment, error)

	Get(ctx context.Context, id string) (domain.Deployment, error)

	// Latest returns the most recent deployment of the environment.
	Latest(ctx context.Context, environmentID string) (domain.Deployment, error)

	// RequestInterruption stamps int_requested_at of the phase, if it is not stamped yet.
	//
	// Returns
	//
	// - error: PreconditionFailed when the deployment or the phase has been finished.
	RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error

	// UpdateSteps updates steps of the phase.
	//
	// Steps which have been finished are not changed. Unknown steps are ignored.
	UpdateSteps(ctx context.Context, id string, phase domain.PhaseType, updates []StepUpdate) error

	// Progress records that the phase is making progress now.
	Progress(ctx context.Context, id string, phase domain.PhaseType) error

	// PickAndSetStatus picks a pending deployment whose current phase is cursor.Phase,
	// and changes the phase with the Transition returned by task.
	//
	// The deployment is locked while task is running, so each phase is polled by one worker at a time.
	// Start time of the phase is recorded on its first pick.
	//
	// When the Transition is terminal, the phase is finished. The deployment is also finished
	// when the phase is not successful, or when it is the last phase to run.
	//
	// Returns
	//
	// - Cursor: cursor pointing the picked deployment. When nothing is picked, it is as it was.
	//
	// - bool: true when a deployment is picked and its transition is saved.
	//
	// - error: error from task, or from database.
	PickAndSetStatus(
		ctx context.Context, cursor Cursor,
		task func(domain.Deployment) (Transition, error),
	) (Cursor, bool, error)

	// Finish finishes the phase with the Transition, out of polling.
	//
	// Returns
	//
	// - domain.Deployment: the deployment after finished.
	//
	// - error: PreconditionFailed when the phase has been finished with another status.
	Finish(ctx context.Context, id string, phase domain.PhaseType, t Transition) (domain.Deployment, error)
}

var ErrInProgress = errors.New("another deployment is in progress")

// InProgress is returned when a deployment is requested while another one is pending.
type InProgress struct {
	EnvironmentID string
	DeploymentID  string
}

func (e *InProgress) Error() string {
	return "deployment " + e.DeploymentID + " of the environment is in progress"
}

func (e *InProgress) Unwrap() []error {
	return []error{ErrInProgress, domerr.ErrPreconditionFailed}
}
