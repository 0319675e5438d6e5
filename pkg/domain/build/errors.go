package build

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

// ErrDuplicateBuild tells that another build of the same workload app is running.
var ErrDuplicateBuild = errors.New("another build is running")

// DuplicateBuild is returned when a builder pod of the workload app is still running.
type DuplicateBuild struct {
	Pod string

	// the running pod is treated as stale after this time.
	Until time.Time
}

func (d *DuplicateBuild) Error() string {
	return fmt.Sprintf(
		"another build is running in pod %s. retry after it finishes, or %s",
		d.Pod, humanize.Time(d.Until),
	)
}

func (d *DuplicateBuild) Unwrap() []error {
	return []error{ErrDuplicateBuild, domerr.ErrPreconditionFailed}
}

// ReadTargetStatusTimeout is returned when the builder pod does not become ready in time.
type ReadTargetStatusTimeout struct {
	Pod     string
	Timeout time.Duration
}

func (r *ReadTargetStatusTimeout) Error() string {
	return fmt.Sprintf("builder pod %s is not ready in %s. the cluster may lack resources", r.Pod, r.Timeout)
}

func (r *ReadTargetStatusTimeout) Unwrap() error {
	return domerr.ErrBuilderFailure
}

// PodNotSucceeded is returned when the builder pod exits with non-zero code.
type PodNotSucceeded struct {
	Pod      string
	ExitCode int32
	Message  string
}

func (p *PodNotSucceeded) Error() string {
	if p.Message == "" {
		return fmt.Sprintf("builder pod %s exited with code %d", p.Pod, p.ExitCode)
	}
	return fmt.Sprintf("builder pod %s exited with code %d: %s", p.Pod, p.ExitCode, p.Message)
}

func (p *PodNotSucceeded) Unwrap() error {
	return domerr.ErrBuilderFailure
}

// PipelineNotSucceeded is returned when a pipeline build finishes without success.
type PipelineNotSucceeded struct {
	BuildID string
	Status  string
}

func (p *PipelineNotSucceeded) Error() string {
	return fmt.Sprintf("pipeline build %s finished as %s", p.BuildID, p.Status)
}

func (p *PipelineNotSucceeded) Unwrap() error {
	return domerr.ErrBuilderFailure
}

// ErrPipelineTimeout is returned when a pipeline build does not finish in time.
var ErrPipelineTimeout = fmt.Errorf("%w: pipeline build timed out", domerr.ErrBuilderFailure)

// ErrEnvTooLarge is returned when environment variables do not fit in pipeline parameters.
var ErrEnvTooLarge = domerr.PreconditionFailed{Reason: "environment variables are too large to be passed to the pipeline"}

// ErrInterrupted is returned when a build stops because it is requested.
var ErrInterrupted = errors.New("build is interrupted")
