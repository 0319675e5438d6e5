// Package twophase brackets writes across two PostgreSQL databases.
//
// Aggregates of the application model live in the "main" database,
// and workload apps (and their builds) live in the "workloads" database.
// Writes touching both go through Bracket so that they commit or roll back together.
//
// Both servers must allow prepared transactions (max_prepared_transactions > 0).
package twophase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Database is a pool which can both begin transactions and send standalone commands.
type Database interface {
	kpool.BeginTx
	kpool.Queryer
}

// Pair is a pair of databases written together.
type Pair struct {
	Main      Database
	Workloads Database
}

// Nested returns a Database running in tx.
//
// Transactions begun from it are savepoints of tx, so writes through it
// are committed or rolled back together with tx.
// Bracket can not be used over it.
func Nested(tx kpool.Tx) Database {
	return nested{Tx: tx}
}

type nested struct {
	kpool.Tx
}

func (n nested) BeginTx(ctx context.Context, _ pgx.TxOptions) (kpool.Tx, error) {
	return n.Tx.Begin(ctx)
}

// ErrInDoubt is returned when one side is committed and the other could not be.
//
// The prepared transaction stays on the server; operators resolve it with
// COMMIT PREPARED or ROLLBACK PREPARED using the gid in the error message.
var ErrInDoubt = errors.New("two-phase commit is in doubt")

// Bracket runs f with a transaction on each database.
//
// When f returns an error, both transactions are rolled back and the error is returned.
// Otherwise both transactions are prepared, then committed.
func (p Pair) Bracket(ctx context.Context, f func(main kpool.Tx, workloads kpool.Tx) error) error {
	mainTx, err := p.Main.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer mainTx.Rollback(ctx)

	wlTx, err := p.Workloads.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer wlTx.Rollback(ctx)

	if err := f(mainTx, wlTx); err != nil {
		return err
	}

	gid := uuid.NewString()
	mainGid := "bkpaas-main-" + gid
	wlGid := "bkpaas-wl-" + gid

	if _, err := mainTx.Exec(ctx, fmt.Sprintf(`prepare transaction '%s'`, mainGid)); err != nil {
		return xe.Wrap(err)
	}
	// the session is out of transaction. commit just returns the connection.
	mainTx.Commit(ctx)

	if _, err := wlTx.Exec(ctx, fmt.Sprintf(`prepare transaction '%s'`, wlGid)); err != nil {
		if _, rerr := p.Main.Exec(ctx, fmt.Sprintf(`rollback prepared '%s'`, mainGid)); rerr != nil {
			return xe.Wrap(fmt.Errorf("%w: %s is left prepared: %w", ErrInDoubt, mainGid, errors.Join(err, rerr)))
		}
		return xe.Wrap(err)
	}
	wlTx.Commit(ctx)

	if _, err := p.Main.Exec(ctx, fmt.Sprintf(`commit prepared '%s'`, mainGid)); err != nil {
		if _, rerr := p.Workloads.Exec(ctx, fmt.Sprintf(`rollback prepared '%s'`, wlGid)); rerr != nil {
			return xe.Wrap(fmt.Errorf("%w: %s and %s are left prepared: %w", ErrInDoubt, mainGid, wlGid, errors.Join(err, rerr)))
		}
		if _, rerr := p.Main.Exec(ctx, fmt.Sprintf(`rollback prepared '%s'`, mainGid)); rerr != nil {
			return xe.Wrap(fmt.Errorf("%w: %s is left prepared: %w", ErrInDoubt, mainGid, errors.Join(err, rerr)))
		}
		return xe.Wrap(err)
	}
	if _, err := p.Workloads.Exec(ctx, fmt.Sprintf(`commit prepared '%s'`, wlGid)); err != nil {
		return xe.Wrap(fmt.Errorf("%w: %s is committed but %s is not: %w", ErrInDoubt, mainGid, wlGid, err))
	}
	return nil
}
