package domain

import "fmt"

// JobStatus is the status of long running jobs: deployments, phases, steps and builds.
type JobStatus string

const (
	Pending     JobStatus = "pending"
	Successful  JobStatus = "successful"
	Failed      JobStatus = "failed"
	Interrupted JobStatus = "interrupted"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status never changes.
func (s JobStatus) Terminal() bool {
	switch s {
	case Successful, Failed, Interrupted:
		return true
	default:
		return false
	}
}

// CanTransitTo reports whether the status can become next.
//
// Statuses only move forward: pending -> {successful, failed, interrupted}.
// Staying at the same status is allowed.
func (s JobStatus) CanTransitTo(next JobStatus) bool {
	if s == next {
		return true
	}
	return s == Pending && next.Terminal()
}

func AsJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case Pending, Successful, Failed, Interrupted:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a job status", s)
	}
}
