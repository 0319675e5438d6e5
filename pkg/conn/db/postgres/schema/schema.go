// Package schema upgrades database schemas from a schema repository.
//
// A schema repository is a directory with a subdirectory per version, named by its number.
// Each version directory has SQL files applied in lexical order:
//
//	schema/main/1/00_schema_version.sql
//	schema/main/1/10_application.sql
//	schema/main/2/...
//
// Each database has its own repository.
package schema

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Schema is a schema of a database.
type Schema interface {
	// Upgrade applies versions newer than the current one, in a transaction.
	Upgrade(ctx context.Context) error

	// Version returns the version of the schema in the database.
	//
	// It is 0 for databases which have never been upgraded.
	Version(ctx context.Context) (int, error)

	// Context returns a context which is canceled when the schema in the database
	// gets older than the repository.
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}

type Database interface {
	kpool.Begin
	kpool.Queryer
}

type pgSchema struct {
	db         Database
	repository string
}

var _ Schema = &pgSchema{}

// New returns a Schema of db, whose versions are in repository.
func New(db Database, repository string) Schema {
	return &pgSchema{db: db, repository: repository}
}

type version struct {
	Version int
	Root    string
}

func (v version) apply(ctx context.Context, q kpool.Queryer) error {
	return filepath.WalkDir(v.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, string(query)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
}

func (s *pgSchema) Version(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

func currentVersion(ctx context.Context, q kpool.Queryer) (int, error) {
	var version *int
	if err := q.QueryRow(ctx, `select max("version") from "schema_version"`).Scan(&version); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable {
			return 0, nil
		}
		return -1, xe.Wrap(err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func (s *pgSchema) Upgrade(ctx context.Context) error {
	versions, err := s.versions()
	if err != nil {
		return err
	}
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	for _, v := range versions {
		if v.Version <= current {
			continue
		}
		if err := v.apply(ctx, tx); err != nil {
			return xe.WrapWithNote(fmt.Sprintf("version %d", v.Version), err)
		}
		if _, err := tx.Exec(ctx, `delete from "schema_version"`); err != nil {
			return xe.Wrap(err)
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v.Version,
		); err != nil {
			return xe.Wrap(err)
		}
	}
	return xe.Wrap(tx.Commit(ctx))
}

func (s *pgSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return cctx, func() {}
	}
	if err := w.Add(s.repository); err != nil {
		w.Close()
		cancel(err)
		return cctx, func() {}
	}

	check := func() {
		versions, err := s.versions()
		if err != nil {
			cancel(fmt.Errorf("failed to read schema repository: %w", err))
			return
		}
		current, err := s.Version(cctx)
		if err != nil {
			cancel(fmt.Errorf("failed to get current schema version: %w", err))
			return
		}
		if latest := latestOf(versions); current < latest {
			cancel(fmt.Errorf("%w: %d (in db) < %d (in repository)", ErrOutdated, current, latest))
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if filepath.Dir(ev.Name) != filepath.Clean(s.repository) {
					continue
				}
				check()
			}
		}
	}()

	check()
	return cctx, func() { cancel(nil) }
}

// ErrOutdated is the cause of contexts from Context when the database needs upgrades.
var ErrOutdated = errors.New("schema is outdated")

func latestOf(versions []version) int {
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1].Version
}

// versions lists versions in the repository, in ascending order.
func (s *pgSchema) versions() ([]version, error) {
	entries, err := os.ReadDir(s.repository)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	versions := make([]version, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		versions = append(versions, version{Version: v, Root: filepath.Join(s.repository, e.Name())})
	}
	slices.SortFunc(versions, func(a, b version) int { return cmp.Compare(a.Version, b.Version) })
	return versions, nil
}

// Null is a Schema for processes without schema repositories.
//
// It never upgrades, and never cancels contexts.
func Null() Schema {
	return nullSchema{}
}

type nullSchema struct{}

func (nullSchema) Upgrade(context.Context) error {
	return xe.New("no schema repository is configured")
}

func (nullSchema) Version(context.Context) (int, error) {
	return -1, nil
}

func (nullSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return ctx, func() {}
}
