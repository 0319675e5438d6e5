package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/deploy/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type PhaseArgs struct {
	ID    string
	Phase domain.PhaseType
}

type UpdateStepsArgs struct {
	ID      string
	Phase   domain.PhaseType
	Updates []kdb.StepUpdate
}

type FinishArgs struct {
	ID         string
	Phase      domain.PhaseType
	Transition kdb.Transition
}

// DeployInterface is safe to be called concurrently, as long as Impl is.
type DeployInterface struct {
	mu sync.Mutex

	Impl struct {
		New                 func(ctx context.Context, d domain.Deployment) (domain.Deployment, error)
		Get                 func(ctx context.Context, id string) (domain.Deployment, error)
		Latest              func(ctx context.Context, environmentID string) (domain.Deployment, error)
		RequestInterruption func(ctx context.Context, id string, phase domain.PhaseType) error
		UpdateSteps         func(ctx context.Context, id string, phase domain.PhaseType, updates []kdb.StepUpdate) error
		Progress            func(ctx context.Context, id string, phase domain.PhaseType) error
		PickAndSetStatus    func(ctx context.Context, cursor kdb.Cursor, task func(domain.Deployment) (kdb.Transition, error)) (kdb.Cursor, bool, error)
		Finish              func(ctx context.Context, id string, phase domain.PhaseType, t kdb.Transition) (domain.Deployment, error)
	}
	Calls struct {
		New                 dbmock.CallLog[domain.Deployment]
		Get                 dbmock.CallLog[string]
		Latest              dbmock.CallLog[string]
		RequestInterruption dbmock.CallLog[PhaseArgs]
		UpdateSteps         dbmock.CallLog[UpdateStepsArgs]
		Progress            dbmock.CallLog[PhaseArgs]
		PickAndSetStatus    dbmock.CallLog[kdb.Cursor]
		Finish              dbmock.CallLog[FinishArgs]
	}
}

func NewDeployInterface() *DeployInterface {
	return &DeployInterface{}
}

var _ kdb.Interface = &DeployInterface{}

func (m *DeployInterface) New(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	m.mu.Lock()
	m.Calls.New = append(m.Calls.New, d)
	m.mu.Unlock()
	if m.Impl.New != nil {
		return m.Impl.New(ctx, d)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) Get(ctx context.Context, id string) (domain.Deployment, error) {
	m.mu.Lock()
	m.Calls.Get = append(m.Calls.Get, id)
	m.mu.Unlock()
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) Latest(ctx context.Context, environmentID string) (domain.Deployment, error) {
	m.mu.Lock()
	m.Calls.Latest = append(m.Calls.Latest, environmentID)
	m.mu.Unlock()
	if m.Impl.Latest != nil {
		return m.Impl.Latest(ctx, environmentID)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error {
	m.mu.Lock()
	m.Calls.RequestInterruption = append(m.Calls.RequestInterruption, PhaseArgs{ID: id, Phase: phase})
	m.mu.Unlock()
	if m.Impl.RequestInterruption != nil {
		return m.Impl.RequestInterruption(ctx, id, phase)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) UpdateSteps(ctx context.Context, id string, phase domain.PhaseType, updates []kdb.StepUpdate) error {
	m.mu.Lock()
	m.Calls.UpdateSteps = append(m.Calls.UpdateSteps, UpdateStepsArgs{ID: id, Phase: phase, Updates: updates})
	m.mu.Unlock()
	if m.Impl.UpdateSteps != nil {
		return m.Impl.UpdateSteps(ctx, id, phase, updates)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) Progress(ctx context.Context, id string, phase domain.PhaseType) error {
	m.mu.Lock()
	m.Calls.Progress = append(m.Calls.Progress, PhaseArgs{ID: id, Phase: phase})
	m.mu.Unlock()
	if m.Impl.Progress != nil {
		return m.Impl.Progress(ctx, id, phase)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) PickAndSetStatus(
	ctx context.Context, cursor kdb.Cursor,
	task func(domain.Deployment) (kdb.Transition, error),
) (kdb.Cursor, bool, error) {
	m.mu.Lock()
	m.Calls.PickAndSetStatus = append(m.Calls.PickAndSetStatus, cursor)
	m.mu.Unlock()
	if m.Impl.PickAndSetStatus != nil {
		return m.Impl.PickAndSetStatus(ctx, cursor, task)
	}
	panic(errors.New("it should not be called"))
}

func (m *DeployInterface) Finish(ctx context.Context, id string, phase domain.PhaseType, t kdb.Transition) (domain.Deployment, error) {
	m.mu.Lock()
	m.Calls.Finish = append(m.Calls.Finish, FinishArgs{ID: id, Phase: phase, Transition: t})
	m.mu.Unlock()
	if m.Impl.Finish != nil {
		return m.Impl.Finish(ctx, id, phase, t)
	}
	panic(errors.New("it should not be called"))
}
