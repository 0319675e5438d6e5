package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/addon/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type SetInstanceArgs struct {
	AttachmentID string
	Instance     domain.ServiceInstance
}

// AddonInterface is safe to be called concurrently, as long as Impl is.
type AddonInterface struct {
	mu sync.Mutex

	Impl struct {
		ListServices             func(ctx context.Context) ([]domain.AddonService, error)
		GetService               func(ctx context.Context, id string) (domain.AddonService, error)
		GetPolicy                func(ctx context.Context, serviceID string, tenantID string) (domain.BindingPolicy, error)
		NewBinding               func(ctx context.Context, binding domain.AddonBinding, environments []domain.Environment) (domain.AddonBinding, []domain.Attachment, error)
		GetBinding               func(ctx context.Context, moduleID string, serviceID string) (domain.AddonBinding, error)
		ListBindings             func(ctx context.Context, moduleID string) ([]domain.AddonBinding, error)
		ListAttachments          func(ctx context.Context, moduleID string, stage domain.Stage) ([]domain.Attachment, error)
		ListAttachmentsOfBinding func(ctx context.Context, bindingID string) ([]domain.Attachment, error)
		SetInstance              func(ctx context.Context, attachmentID string, instance domain.ServiceInstance) (domain.Attachment, error)
		GetInstance              func(ctx context.Context, id string) (domain.ServiceInstance, error)
		ChangePlans              func(ctx context.Context, bindingID string, planIDs map[domain.Stage]string) error
		Unbind                   func(ctx context.Context, bindingID string) ([]domain.UnboundAttachment, error)
		ListUnbound              func(ctx context.Context, moduleID string) ([]domain.UnboundAttachment, error)
		GetUnbound               func(ctx context.Context, id string) (domain.UnboundAttachment, error)
		NextUnbound              func(ctx context.Context, afterID string) (domain.UnboundAttachment, error)
		DeleteUnbound            func(ctx context.Context, id string) error
		NewShare                 func(ctx context.Context, share domain.SharedAttachment) (domain.SharedAttachment, error)
		DeleteShare              func(ctx context.Context, moduleID string, serviceID string) error
		ListShares               func(ctx context.Context, moduleID string) ([]domain.SharedAttachment, error)
		ListSharedBy             func(ctx context.Context, refModuleID string, serviceID string) ([]domain.SharedAttachment, error)
		AllocatePreCreated       func(ctx context.Context, planID string) (domain.PreCreatedInstance, error)
	}
	Calls struct {
		GetService               dbmock.CallLog[string]
		GetPolicy                dbmock.CallLog[[2]string]
		NewBinding               dbmock.CallLog[domain.AddonBinding]
		GetBinding               dbmock.CallLog[[2]string]
		ListBindings             dbmock.CallLog[string]
		ListAttachments          dbmock.CallLog[[2]string]
		ListAttachmentsOfBinding dbmock.CallLog[string]
		SetInstance              dbmock.CallLog[SetInstanceArgs]
		GetInstance              dbmock.CallLog[string]
		ChangePlans              dbmock.CallLog[string]
		Unbind                   dbmock.CallLog[string]
		ListUnbound              dbmock.CallLog[string]
		GetUnbound               dbmock.CallLog[string]
		NextUnbound              dbmock.CallLog[string]
		DeleteUnbound            dbmock.CallLog[string]
		NewShare                 dbmock.CallLog[domain.SharedAttachment]
		DeleteShare              dbmock.CallLog[[2]string]
		ListShares               dbmock.CallLog[string]
		ListSharedBy             dbmock.CallLog[[2]string]
		AllocatePreCreated       dbmock.CallLog[string]
	}
}

func NewAddonInterface() *AddonInterface {
	return &AddonInterface{}
}

var _ kdb.Interface = &AddonInterface{}

func (m *AddonInterface) ListServices(ctx context.Context) ([]domain.AddonService, error) {
	if m.Impl.ListServices != nil {
		return m.Impl.ListServices(ctx)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) GetService(ctx context.Context, id string) (domain.AddonService, error) {
	m.mu.Lock()
	m.Calls.GetService = append(m.Calls.GetService, id)
	m.mu.Unlock()
	if m.Impl.GetService != nil {
		return m.Impl.GetService(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) GetPolicy(ctx context.Context, serviceID string, tenantID string) (domain.BindingPolicy, error) {
	m.mu.Lock()
	m.Calls.GetPolicy = append(m.Calls.GetPolicy, [2]string{serviceID, tenantID})
	m.mu.Unlock()
	if m.Impl.GetPolicy != nil {
		return m.Impl.GetPolicy(ctx, serviceID, tenantID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) NewBinding(ctx context.Context, binding domain.AddonBinding, environments []domain.Environment) (domain.AddonBinding, []domain.Attachment, error) {
	m.mu.Lock()
	m.Calls.NewBinding = append(m.Calls.NewBinding, binding)
	m.mu.Unlock()
	if m.Impl.NewBinding != nil {
		return m.Impl.NewBinding(ctx, binding, environments)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) GetBinding(ctx context.Context, moduleID string, serviceID string) (domain.AddonBinding, error) {
	m.mu.Lock()
	m.Calls.GetBinding = append(m.Calls.GetBinding, [2]string{moduleID, serviceID})
	m.mu.Unlock()
	if m.Impl.GetBinding != nil {
		return m.Impl.GetBinding(ctx, moduleID, serviceID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListBindings(ctx context.Context, moduleID string) ([]domain.AddonBinding, error) {
	m.mu.Lock()
	m.Calls.ListBindings = append(m.Calls.ListBindings, moduleID)
	m.mu.Unlock()
	if m.Impl.ListBindings != nil {
		return m.Impl.ListBindings(ctx, moduleID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListAttachments(ctx context.Context, moduleID string, stage domain.Stage) ([]domain.Attachment, error) {
	m.mu.Lock()
	m.Calls.ListAttachments = append(m.Calls.ListAttachments, [2]string{moduleID, string(stage)})
	m.mu.Unlock()
	if m.Impl.ListAttachments != nil {
		return m.Impl.ListAttachments(ctx, moduleID, stage)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListAttachmentsOfBinding(ctx context.Context, bindingID string) ([]domain.Attachment, error) {
	m.mu.Lock()
	m.Calls.ListAttachmentsOfBinding = append(m.Calls.ListAttachmentsOfBinding, bindingID)
	m.mu.Unlock()
	if m.Impl.ListAttachmentsOfBinding != nil {
		return m.Impl.ListAttachmentsOfBinding(ctx, bindingID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) SetInstance(ctx context.Context, attachmentID string, instance domain.ServiceInstance) (domain.Attachment, error) {
	m.mu.Lock()
	m.Calls.SetInstance = append(m.Calls.SetInstance, SetInstanceArgs{AttachmentID: attachmentID, Instance: instance})
	m.mu.Unlock()
	if m.Impl.SetInstance != nil {
		return m.Impl.SetInstance(ctx, attachmentID, instance)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) GetInstance(ctx context.Context, id string) (domain.ServiceInstance, error) {
	m.mu.Lock()
	m.Calls.GetInstance = append(m.Calls.GetInstance, id)
	m.mu.Unlock()
	if m.Impl.GetInstance != nil {
		return m.Impl.GetInstance(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ChangePlans(ctx context.Context, bindingID string, planIDs map[domain.Stage]string) error {
	m.mu.Lock()
	m.Calls.ChangePlans = append(m.Calls.ChangePlans, bindingID)
	m.mu.Unlock()
	if m.Impl.ChangePlans != nil {
		return m.Impl.ChangePlans(ctx, bindingID, planIDs)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) Unbind(ctx context.Context, bindingID string) ([]domain.UnboundAttachment, error) {
	m.mu.Lock()
	m.Calls.Unbind = append(m.Calls.Unbind, bindingID)
	m.mu.Unlock()
	if m.Impl.Unbind != nil {
		return m.Impl.Unbind(ctx, bindingID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListUnbound(ctx context.Context, moduleID string) ([]domain.UnboundAttachment, error) {
	m.mu.Lock()
	m.Calls.ListUnbound = append(m.Calls.ListUnbound, moduleID)
	m.mu.Unlock()
	if m.Impl.ListUnbound != nil {
		return m.Impl.ListUnbound(ctx, moduleID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) GetUnbound(ctx context.Context, id string) (domain.UnboundAttachment, error) {
	m.mu.Lock()
	m.Calls.GetUnbound = append(m.Calls.GetUnbound, id)
	m.mu.Unlock()
	if m.Impl.GetUnbound != nil {
		return m.Impl.GetUnbound(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) NextUnbound(ctx context.Context, afterID string) (domain.UnboundAttachment, error) {
	m.mu.Lock()
	m.Calls.NextUnbound = append(m.Calls.NextUnbound, afterID)
	m.mu.Unlock()
	if m.Impl.NextUnbound != nil {
		return m.Impl.NextUnbound(ctx, afterID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) DeleteUnbound(ctx context.Context, id string) error {
	m.mu.Lock()
	m.Calls.DeleteUnbound = append(m.Calls.DeleteUnbound, id)
	m.mu.Unlock()
	if m.Impl.DeleteUnbound != nil {
		return m.Impl.DeleteUnbound(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) NewShare(ctx context.Context, share domain.SharedAttachment) (domain.SharedAttachment, error) {
	m.mu.Lock()
	m.Calls.NewShare = append(m.Calls.NewShare, share)
	m.mu.Unlock()
	if m.Impl.NewShare != nil {
		return m.Impl.NewShare(ctx, share)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) DeleteShare(ctx context.Context, moduleID string, serviceID string) error {
	m.mu.Lock()
	m.Calls.DeleteShare = append(m.Calls.DeleteShare, [2]string{moduleID, serviceID})
	m.mu.Unlock()
	if m.Impl.DeleteShare != nil {
		return m.Impl.DeleteShare(ctx, moduleID, serviceID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListShares(ctx context.Context, moduleID string) ([]domain.SharedAttachment, error) {
	m.mu.Lock()
	m.Calls.ListShares = append(m.Calls.ListShares, moduleID)
	m.mu.Unlock()
	if m.Impl.ListShares != nil {
		return m.Impl.ListShares(ctx, moduleID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) ListSharedBy(ctx context.Context, refModuleID string, serviceID string) ([]domain.SharedAttachment, error) {
	m.mu.Lock()
	m.Calls.ListSharedBy = append(m.Calls.ListSharedBy, [2]string{refModuleID, serviceID})
	m.mu.Unlock()
	if m.Impl.ListSharedBy != nil {
		return m.Impl.ListSharedBy(ctx, refModuleID, serviceID)
	}
	panic(errors.New("it should not be called"))
}

func (m *AddonInterface) AllocatePreCreated(ctx context.Context, planID string) (domain.PreCreatedInstance, error) {
	m.mu.Lock()
	m.Calls.AllocatePreCreated = append(m.Calls.AllocatePreCreated, planID)
	m.mu.Unlock()
	if m.Impl.AllocatePreCreated != nil {
		return m.Impl.AllocatePreCreated(ctx, planID)
	}
	panic(errors.New("it should not be called"))
}
