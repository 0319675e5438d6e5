// Package postgres converts errors from PostgreSQL into domain error kinds.
package postgres

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Classify converts err from a query on table into domain errors.
//
// - pgx.ErrNoRows becomes domerr.Missing
//
// - unique violation becomes domerr.Conflict
//
// - serialization failure, deadlock and connection failures become retryable domerr.Upstream
//
// Other errors are returned with the caller location.
func Classify(err error, table string, identity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return xe.WrapAsOuter(domerr.Missing{Table: table, Identity: identity}, 1)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return xe.WrapAsOuter(domerr.Conflict{Table: table, Identity: identity}, 1)
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected,
			pgerrcode.LockNotAvailable:
			return xe.WrapAsOuter(&domerr.Upstream{Service: "database", Retryable: true, Cause: err}, 1)
		}
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return xe.WrapAsOuter(&domerr.Upstream{Service: "database", Retryable: true, Cause: err}, 1)
		}
	}
	return xe.WrapAsOuter(err, 1)
}

// IsUniqueViolation reports whether err is caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
