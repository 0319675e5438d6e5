package deploy

import (
	"errors"
	"fmt"
	"time"

	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

// ErrDeploymentInProgress is returned when a deployment is requested while another one of the environment is running.
var ErrDeploymentInProgress = kdb.ErrInProgress

// ErrInterrupted is the cause of phases stopped by request.
var ErrInterrupted = errors.New("interrupted by request")

// ErrPollingTimeout is the cause of phases which do not finish in time.
var ErrPollingTimeout = errors.New("polling timeout")

// ErrWorkloadFailure is the cause of releases whose processes can not get ready.
var ErrWorkloadFailure = errors.New("workload failure")

// PollingTimeout tells which limit a phase has exceeded.
type PollingTimeout struct {
	Phase string

	// "wall clock" or "heartbeat"
	Limit   string
	Timeout time.Duration
}

func (p *PollingTimeout) Error() string {
	return fmt.Sprintf("polling timeout: %s phase has exceeded %s limit (%s)", p.Phase, p.Limit, p.Timeout)
}

func (p *PollingTimeout) Unwrap() error {
	return ErrPollingTimeout
}

const (
	// kind of failures caused by polling timeout.
	KindPollingTimeout = "polling_timeout"

	// kind of failures reported by workloads in the cluster.
	KindWorkloadFailure = "workload_failure"
)

// kindOf classifies causes of failures.
func kindOf(err error) string {
	if errors.Is(err, ErrPollingTimeout) {
		return KindPollingTimeout
	}
	if errors.Is(err, ErrWorkloadFailure) {
		return KindWorkloadFailure
	}
	if errors.Is(err, ErrInterrupted) {
		return ""
	}
	return domerr.KindOf(err).String()
}
