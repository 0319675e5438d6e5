package db

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
)

type Interface interface {
	// List returns config vars of the module, in all scopes.
	List(ctx context.Context, moduleID string) ([]domain.ConfigVar, error)

	Get(ctx context.Context, id string) (domain.ConfigVar, error)

	// Upsert creates or updates a config var keyed by (module, key, scope).
	//
	// ID of the argument is ignored.
	Upsert(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, error)

	// Delete deletes a config var. Missing one is not an error.
	Delete(ctx context.Context, id string) error
}
