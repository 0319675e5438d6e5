package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TencentBlueKing/bkpaas/cmd/loops/recurring"
	bkpaas "github.com/TencentBlueKing/bkpaas/pkg"
	"github.com/TencentBlueKing/bkpaas/pkg/buildtime"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/schema"
	"github.com/TencentBlueKing/bkpaas/pkg/kubeutil"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/args"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/filewatch"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("PAAS_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("PAAS_SCHEMA"), `schema repository path, which has "main" and "workloads" directories`,
	)
	pmetrics := flag.String(
		"metrics", os.Getenv("PAAS_METRICS_ADDR"), "address to serve /metrics (e.g. :9090). empty means no metrics endpoint",
	)
	loopType := args.Parser(AsLoopType)
	flag.Var(loopType, "type", "one of loop type (preparation|build|release|recycle)")
	policy := args.Parser(recurring.ParsePolicy)
	flag.Var(
		policy, "policy",
		`loop policy (syntax: forever[:COOLDOWN]|backlog).`+
			` "forever[:COOLDOWN]" = run forever until error. When backlog is over, `+
			`wait COOLDOWN (optional duration. default: 0) as inteval.`+
			` "backlog" = run until error or backlog is over.`,
	)
	flag.Parse()

	if !loopType.IsSet() {
		logger.Fatal("-type is required")
	}
	if !policy.IsSet() {
		logger.Fatal("-policy is required")
	}

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(platform.LoadPlatformConfig(*pconfig)).OrFatal(logger)
	clients := try.To(kubeutil.Connect(
		conf.Kubernetes().Kubeconfig(), int(conf.Kubernetes().Timeout().Seconds()),
	)).OrFatal(logger)

	mainDB := try.To(kpool.Connect(ctx, conf.Databases().Main())).OrFatal(logger)
	defer mainDB.Close()
	workloads := try.To(kpool.Connect(ctx, conf.Databases().Workloads())).OrFatal(logger)
	defer workloads.Close()

	// stop when a database is left behind the schema repository.
	for _, s := range []schema.Schema{
		schemaOf(mainDB, *pSchemaRepo, "main"),
		schemaOf(workloads, *pSchemaRepo, "workloads"),
	} {
		sctx, scancel := s.Context(ctx)
		defer scancel()
		ctx = sctx
	}

	paas := try.To(bkpaas.Attach(ctx, conf, clients, mainDB, workloads)).OrFatal(logger)

	if addr := *pmetrics; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Printf("metrics endpoint is down: %v", err)
			}
		}()
	}

	logger.Printf(
		`bkpaas %s: start loop "%s" /w policy "%s"`,
		buildtime.VersionString(), loopType.Get().String(), policy.Get().String(),
	)

	err := StartLoop(
		ctx, logger, paas,
		LoopManifest{
			Type:   loopType.Get(),
			Policy: recurring.UntilError(policy.Get()),
		},
	)

	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		logger.Fatal(err, "(loop context is cancelled by:", context.Cause(ctx), ")")
	}
	logger.Fatal(err)
}

func schemaOf(db kpool.Pool, repository string, name string) schema.Schema {
	if repository == "" {
		return schema.Null()
	}
	return schema.New(db, filepath.Join(repository, name))
}
