package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/build/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type SetProcessStatusArgs struct {
	ID     string
	Status domain.JobStatus
}

type SucceedArgs struct {
	BuildProcessID string
	Build          domain.Build
}

// BuildInterface is safe to be called concurrently, as long as Impl is.
type BuildInterface struct {
	mu sync.Mutex

	Impl struct {
		NewProcess          func(ctx context.Context, bp domain.BuildProcess) (domain.BuildProcess, error)
		GetProcess          func(ctx context.Context, id string) (domain.BuildProcess, error)
		SetProcessStatus    func(ctx context.Context, id string, status domain.JobStatus) error
		RequestInterruption func(ctx context.Context, id string) error
		Succeed             func(ctx context.Context, bpID string, build domain.Build) (domain.Build, error)
		NewBuild            func(ctx context.Context, build domain.Build) (domain.Build, error)
		GetBuild            func(ctx context.Context, id string) (domain.Build, error)
		LatestBuild         func(ctx context.Context, moduleID string, artifactType domain.ArtifactType) (domain.Build, error)
	}
	Calls struct {
		NewProcess          dbmock.CallLog[domain.BuildProcess]
		GetProcess          dbmock.CallLog[string]
		SetProcessStatus    dbmock.CallLog[SetProcessStatusArgs]
		RequestInterruption dbmock.CallLog[string]
		Succeed             dbmock.CallLog[SucceedArgs]
		NewBuild            dbmock.CallLog[domain.Build]
		GetBuild            dbmock.CallLog[string]
		LatestBuild         dbmock.CallLog[[2]string]
	}
}

func NewBuildInterface() *BuildInterface {
	return &BuildInterface{}
}

var _ kdb.Interface = &BuildInterface{}

func (m *BuildInterface) NewProcess(ctx context.Context, bp domain.BuildProcess) (domain.BuildProcess, error) {
	m.mu.Lock()
	m.Calls.NewProcess = append(m.Calls.NewProcess, bp)
	m.mu.Unlock()
	if m.Impl.NewProcess != nil {
		return m.Impl.NewProcess(ctx, bp)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) GetProcess(ctx context.Context, id string) (domain.BuildProcess, error) {
	m.mu.Lock()
	m.Calls.GetProcess = append(m.Calls.GetProcess, id)
	m.mu.Unlock()
	if m.Impl.GetProcess != nil {
		return m.Impl.GetProcess(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) SetProcessStatus(ctx context.Context, id string, status domain.JobStatus) error {
	m.mu.Lock()
	m.Calls.SetProcessStatus = append(m.Calls.SetProcessStatus, SetProcessStatusArgs{ID: id, Status: status})
	m.mu.Unlock()
	if m.Impl.SetProcessStatus != nil {
		return m.Impl.SetProcessStatus(ctx, id, status)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) RequestInterruption(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Calls.RequestInterruption = append(m.Calls.RequestInterruption, id)
	m.mu.Unlock()
	if m.Impl.RequestInterruption != nil {
		return m.Impl.RequestInterruption(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) Succeed(ctx context.Context, bpID string, build domain.Build) (domain.Build, error) {
	m.mu.Lock()
	m.Calls.Succeed = append(m.Calls.Succeed, SucceedArgs{BuildProcessID: bpID, Build: build})
	m.mu.Unlock()
	if m.Impl.Succeed != nil {
		return m.Impl.Succeed(ctx, bpID, build)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) NewBuild(ctx context.Context, build domain.Build) (domain.Build, error) {
	m.mu.Lock()
	m.Calls.NewBuild = append(m.Calls.NewBuild, build)
	m.mu.Unlock()
	if m.Impl.NewBuild != nil {
		return m.Impl.NewBuild(ctx, build)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) GetBuild(ctx context.Context, id string) (domain.Build, error) {
	m.mu.Lock()
	m.Calls.GetBuild = append(m.Calls.GetBuild, id)
	m.mu.Unlock()
	if m.Impl.GetBuild != nil {
		return m.Impl.GetBuild(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) LatestBuild(ctx context.Context, moduleID string, artifactType domain.ArtifactType) (domain.Build, error) {
	m.mu.Lock()
	m.Calls.LatestBuild = append(m.Calls.LatestBuild, [2]string{moduleID, string(artifactType)})
	m.mu.Unlock()
	if m.Impl.LatestBuild != nil {
		return m.Impl.LatestBuild(ctx, moduleID, artifactType)
	}
	panic(errors.New("it should not be called"))
}
