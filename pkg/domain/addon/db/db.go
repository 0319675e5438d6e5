package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

type Interface interface {
	// ListServices returns services with their plans, ordered by name.
	ListServices(ctx context.Context) ([]domain.AddonService, error)

	GetService(ctx context.Context, id string) (domain.AddonService, error)

	// GetPolicy returns the binding policy of the service for the tenant.
	//
	// The error is *domerr.Missing when no policy is set.
	GetPolicy(ctx context.Context, serviceID string, tenantID string) (domain.BindingPolicy, error)

	// NewBinding records a binding with one attachment for each of environments, atomically.
	//
	// The error is domerr.Conflict when the module already binds the service.
	NewBinding(ctx context.Context, binding domain.AddonBinding, environments []domain.Environment) (domain.AddonBinding, []domain.Attachment, error)

	GetBinding(ctx context.Context, moduleID string, serviceID string) (domain.AddonBinding, error)
	ListBindings(ctx context.Context, moduleID string) ([]domain.AddonBinding, error)

	// ListAttachments returns attachments of the module in the stage.
	ListAttachments(ctx context.Context, moduleID string, stage domain.Stage) ([]domain.Attachment, error)

	// ListAttachmentsOfBinding returns attachments of the binding, ordered by stage.
	ListAttachmentsOfBinding(ctx context.Context, bindingID string) ([]domain.Attachment, error)

	// SetInstance records a provisioned instance and links it to the attachment.
	//
	// The error is domerr.Conflict when the attachment is already provisioned.
	SetInstance(ctx context.Context, attachmentID string, instance domain.ServiceInstance) (domain.Attachment, error)

	GetInstance(ctx context.Context, id string) (domain.ServiceInstance, error)

	// ChangePlans replaces plans of the binding and its attachments.
	//
	// The error is domerr.PreconditionFailed when any attachment is provisioned.
	ChangePlans(ctx context.Context, bindingID string, planIDs map[domain.Stage]string) error

	// Unbind deletes the binding with its attachments, atomically.
	//
	// Provisioned instances are kept as UnboundAttachments, which are returned.
	Unbind(ctx context.Context, bindingID string) ([]domain.UnboundAttachment, error)

	ListUnbound(ctx context.Context, moduleID string) ([]domain.UnboundAttachment, error)
	GetUnbound(ctx context.Context, id string) (domain.UnboundAttachment, error)

	// NextUnbound returns the unbound attachment next to afterID, in the order of id.
	//
	// The error is *domerr.Missing when no more attachments are there.
	NextUnbound(ctx context.Context, afterID string) (domain.UnboundAttachment, error)

	// DeleteUnbound deletes the unbound attachment and its instance.
	DeleteUnbound(ctx context.Context, id string) error

	NewShare(ctx context.Context, share domain.SharedAttachment) (domain.SharedAttachment, error)
	DeleteShare(ctx context.Context, moduleID string, serviceID string) error

	// ListShares returns services the module shares from others.
	ListShares(ctx context.Context, moduleID string) ([]domain.SharedAttachment, error)

	// ListSharedBy returns shares referring the service bound to the module.
	ListSharedBy(ctx context.Context, refModuleID string, serviceID string) ([]domain.SharedAttachment, error)

	// AllocatePreCreated takes one free pre-created instance of the plan.
	//
	// Rows locked by others are skipped. The error is *domerr.Missing when none is free.
	AllocatePreCreated(ctx context.Context, planID string) (domain.PreCreatedInstance, error)
}
