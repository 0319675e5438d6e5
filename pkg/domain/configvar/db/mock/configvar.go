package mock

import (
	"context"
	"errors"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/configvar/db"
	dbmock "github.com/TencentBlueKing/bkpaas/pkg/domain/internal/db/mock"
)

type ConfigVarInterface struct {
	Impl struct {
		List   func(ctx context.Context, moduleID string) ([]domain.ConfigVar, error)
		Get    func(ctx context.Context, id string) (domain.ConfigVar, error)
		Upsert func(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, error)
		Delete func(ctx context.Context, id string) error
	}
	Calls struct {
		List   dbmock.CallLog[string]
		Get    dbmock.CallLog[string]
		Upsert dbmock.CallLog[domain.ConfigVar]
		Delete dbmock.CallLog[string]
	}
}

func NewConfigVarInterface() *ConfigVarInterface {
	return &ConfigVarInterface{}
}

var _ kdb.Interface = &ConfigVarInterface{}

func (m *ConfigVarInterface) List(ctx context.Context, moduleID string) ([]domain.ConfigVar, error) {
	m.Calls.List = append(m.Calls.List, moduleID)
	if m.Impl.List != nil {
		return m.Impl.List(ctx, moduleID)
	}
	panic(errors.New("it should not be called"))
}

func (m *ConfigVarInterface) Get(ctx context.Context, id string) (domain.ConfigVar, error) {
	m.Calls.Get = append(m.Calls.Get, id)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, id)
	}
	panic(errors.New("it should not be called"))
}

func (m *ConfigVarInterface) Upsert(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, error) {
	m.Calls.Upsert = append(m.Calls.Upsert, v)
	if m.Impl.Upsert != nil {
		return m.Impl.Upsert(ctx, v)
	}
	panic(errors.New("it should not be called"))
}

func (m *ConfigVarInterface) Delete(ctx context.Context, id string) error {
	m.Calls.Delete = append(m.Calls.Delete, id)
	if m.Impl.Delete != nil {
		return m.Impl.Delete(ctx, id)
	}
	panic(errors.New("it should not be called"))
}
