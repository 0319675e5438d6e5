package postgres

import (
	"context"

	"github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/twophase"
	appdb "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db"
	apppg "github.com/TencentBlueKing/bkpaas/pkg/domain/application/db/postgres"
	kdb "github.com/TencentBlueKing/bkpaas/pkg/domain/bkapp/db"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Manifests runs writes of a module manifest in a transaction of the main database.
type Manifests struct {
	dbs twophase.Pair
}

func NewManifests(dbs twophase.Pair) *Manifests {
	return &Manifests{dbs: dbs}
}

// InTx calls f with repositories bound to a single transaction.
//
// The transaction is committed when f returns nil, and rolled back otherwise.
func (m *Manifests) InTx(ctx context.Context, f func(apps appdb.Interface, fields kdb.Interface) error) error {
	tx, err := m.dbs.Main.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	apps := apppg.New(twophase.Pair{Main: twophase.Nested(tx), Workloads: m.dbs.Workloads})
	if err := f(apps, New(tx)); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit(ctx))
}
