package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

type Interface interface {
	// NewProcess records a pending BuildProcess. ID is assigned when it is empty.
	NewProcess(ctx context.Context, bp domain.BuildProcess) (domain.BuildProcess, error)

	GetProcess(ctx context.Context, id string) (domain.BuildProcess, error)

	// SetProcessStatus changes the status of a BuildProcess.
	//
	// Terminal statuses are final. Changing them is PreconditionFailed.
	SetProcessStatus(ctx context.Context, id string, status domain.JobStatus) error

	// RequestInterruption stamps int_requested_at of the BuildProcess, if it is not stamped yet.
	RequestInterruption(ctx context.Context, id string) error

	// Succeed records the Build produced by the BuildProcess, marks it the latest of the module,
	// and makes the BuildProcess successful, in one transaction.
	//
	// When the BuildProcess has been succeeded, the existing Build is returned.
	Succeed(ctx context.Context, bpID string, build domain.Build) (domain.Build, error)

	// NewBuild records a Build without a BuildProcess, and marks it the latest.
	NewBuild(ctx context.Context, build domain.Build) (domain.Build, error)

	GetBuild(ctx context.Context, id string) (domain.Build, error)

	// LatestBuild returns the latest Build of the module with the artifact type.
	LatestBuild(ctx context.Context, moduleID string, artifactType domain.ArtifactType) (domain.Build, error)
}
