package bkapp

import (
	"context"

	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
)

// Source is a writer of module manifests.
type Source string

const (
	SourceWebForm Source = "web_form"
	SourceAppDesc Source = "app_desc"
)

// Field is a top-level field of module manifests with an owner.
type Field string

const (
	FieldProcesses        Field = "processes"
	FieldHooks            Field = "hooks"
	FieldEnvVars          Field = "env_vars"
	FieldMounts           Field = "mounts"
	FieldSvcDiscovery     Field = "svc_discovery"
	FieldDomainResolution Field = "domain_resolution"
)

// Fields returns all managed fields.
func Fields() []Field {
	return []Field{
		FieldProcesses, FieldHooks, FieldEnvVars, FieldMounts, FieldSvcDiscovery, FieldDomainResolution,
	}
}

// FieldManager tracks which source owns each field of a module.
type FieldManager struct {
	db kdb.Interface
}

func NewFieldManager(db kdb.Interface) *FieldManager {
	return &FieldManager{db: db}
}

// Owner returns the source which owns the field. Empty means no owner.
func (f *FieldManager) Owner(ctx context.Context, moduleID string, field Field) (Source, error) {
	m, err := f.db.GetFieldManager(ctx, moduleID, string(field))
	if err != nil {
		return "", err
	}
	return Source(m), nil
}

// CanSet reports whether source may write the field.
func (f *FieldManager) CanSet(ctx context.Context, moduleID string, field Field, source Source) (bool, error) {
	owner, err := f.Owner(ctx, moduleID, field)
	if err != nil {
		return false, err
	}
	return owner == "" || owner == source, nil
}

// Set makes source the owner of the field, if it is not owned by others.
//
// Return:
//
// - bool: false if the field is owned by another source.
func (f *FieldManager) Set(ctx context.Context, moduleID string, field Field, source Source) (bool, error) {
	return f.db.CompareAndSetFieldManager(ctx, moduleID, field.String(), string(source))
}

// Take makes source the owner of the field, even if it is owned by others.
//
// Edits from the web form take fields over with this.
func (f *FieldManager) Take(ctx context.Context, moduleID string, field Field, source Source) error {
	return f.db.SetFieldManager(ctx, moduleID, field.String(), string(source))
}

// Reset makes the field unowned, only if source owns it.
func (f *FieldManager) Reset(ctx context.Context, moduleID string, field Field, source Source) (bool, error) {
	return f.db.ResetFieldManager(ctx, moduleID, field.String(), string(source))
}

func (f Field) String() string {
	return string(f)
}
