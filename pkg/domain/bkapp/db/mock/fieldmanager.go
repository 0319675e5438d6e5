package mock

import (
	"context"
	"errors"

	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type FieldManagerCall struct {
	ModuleID string
	Field    string
	Manager  string
}

type FieldManagerInterface struct {
	Impl struct {
		GetFieldManager           func(ctx context.Context, moduleID string, field string) (string, error)
		CompareAndSetFieldManager func(ctx context.Context, moduleID string, field string, manager string) (bool, error)
		SetFieldManager           func(ctx context.Context, moduleID string, field string, manager string) error
		ResetFieldManager         func(ctx context.Context, moduleID string, field string, manager string) (bool, error)
	}
	Calls struct {
		GetFieldManager           dbmock.CallLog[FieldManagerCall]
		CompareAndSetFieldManager dbmock.CallLog[FieldManagerCall]
		SetFieldManager           dbmock.CallLog[FieldManagerCall]
		ResetFieldManager         dbmock.CallLog[FieldManagerCall]
	}
}

func NewFieldManagerInterface() *FieldManagerInterface {
	return &FieldManagerInterface{}
}

var _ kdb.Interface = &FieldManagerInterface{}

func (m *FieldManagerInterface) GetFieldManager(ctx context.Context, moduleID string, field string) (string, error) {
	m.Calls.GetFieldManager = append(m.Calls.GetFieldManager, FieldManagerCall{ModuleID: moduleID, Field: field})
	if m.Impl.GetFieldManager != nil {
		return m.Impl.GetFieldManager(ctx, moduleID, field)
	}
	panic(errors.New("it should not be called"))
}

func (m *FieldManagerInterface) CompareAndSetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
	m.Calls.CompareAndSetFieldManager = append(
		m.Calls.CompareAndSetFieldManager, FieldManagerCall{ModuleID: moduleID, Field: field, Manager: manager},
	)
	if m.Impl.CompareAndSetFieldManager != nil {
		return m.Impl.CompareAndSetFieldManager(ctx, moduleID, field, manager)
	}
	panic(errors.New("it should not be called"))
}

func (m *FieldManagerInterface) SetFieldManager(ctx context.Context, moduleID string, field string, manager string) error {
	m.Calls.SetFieldManager = append(
		m.Calls.SetFieldManager, FieldManagerCall{ModuleID: moduleID, Field: field, Manager: manager},
	)
	if m.Impl.SetFieldManager != nil {
		return m.Impl.SetFieldManager(ctx, moduleID, field, manager)
	}
	panic(errors.New("it should not be called"))
}

func (m *FieldManagerInterface) ResetFieldManager(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
	m.Calls.ResetFieldManager = append(
		m.Calls.ResetFieldManager, FieldManagerCall{ModuleID: moduleID, Field: field, Manager: manager},
	)
	if m.Impl.ResetFieldManager != nil {
		return m.Impl.ResetFieldManager(ctx, moduleID, field, manager)
	}
	panic(errors.New("it should not be called"))
}

// InMemory returns a mock which keeps managers in a map.
func InMemory() *FieldManagerInterface {
	managers := map[[2]string]string{}
	m := NewFieldManagerInterface()
	m.Impl.GetFieldManager = func(ctx context.Context, moduleID string, field string) (string, error) {
		return managers[[2]string{moduleID, field}], nil
	}
	m.Impl.CompareAndSetFieldManager = func(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
		key := [2]string{moduleID, field}
		if cur, ok := managers[key]; ok && cur != manager {
			return false, nil
		}
		managers[key] = manager
		return true, nil
	}
	m.Impl.SetFieldManager = func(ctx context.Context, moduleID string, field string, manager string) error {
		managers[[2]string{moduleID, field}] = manager
		return nil
	}
	m.Impl.ResetFieldManager = func(ctx context.Context, moduleID string, field string, manager string) (bool, error) {
		key := [2]string{moduleID, field}
		if cur, ok := managers[key]; !ok || cur != manager {
			return false, nil
		}
		delete(managers, key)
		return true, nil
	}
	return m
}
