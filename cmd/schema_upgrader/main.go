package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/schema"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/try"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Host     string `flag:"host" help:"The host of the database server."`
	Port     int    `flag:"port" help:"The port of the database server."`
	User     string `flag:"user" help:"The user of the database."`
	Password string `flag:"pass" help:"The password of the database."`

	Main      string `flag:"main" help:"The name of the main database."`
	Workloads string `flag:"workloads" help:"The name of the workloads database."`

	Schema string `flag:"schema" help:"The path to the schema repository directory. It has \"main\" and \"workloads\" directories."`
}

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	port := 5432
	if sp := os.Getenv("DB_PORT"); sp != "" {
		p, err := strconv.Atoi(sp)
		if err == nil {
			port = p
		}
	}

	cmd := try.To(flarc.NewCommand(
		"database schema upgrader",
		Flag{
			Host:     os.Getenv("DB_HOST"),
			Port:     port,
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),

			Main:      os.Getenv("DB_MAIN_NAME"),
			Workloads: os.Getenv("DB_WORKLOADS_NAME"),

			Schema: os.Getenv("PAAS_SCHEMA"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flag], _ []any) error {
			flags := c.Flags()

			for _, target := range []struct{ repository, database string }{
				{repository: "main", database: flags.Main},
				{repository: "workloads", database: flags.Workloads},
			} {
				pool, err := kpool.Connect(ctx, fmt.Sprintf(
					"postgres://%s:%s@%s:%d/%s",
					flags.User, flags.Password, flags.Host, flags.Port, target.database,
				))
				if err != nil {
					return fmt.Errorf("%s: %w", target.repository, err)
				}

				logger.Printf("upgrading %s database (%s)...", target.repository, target.database)
				err = schema.New(pool, filepath.Join(flags.Schema, target.repository)).Upgrade(ctx)
				pool.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", target.repository, err)
				}
			}
			logger.Println("schemas are up to date")
			return nil
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}
