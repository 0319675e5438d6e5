package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/TencentBlueKing/bkpaas/cmd/paasd/handlers"
	bkpaas "github.com/TencentBlueKing/bkpaas/pkg"
	"github.com/TencentBlueKing/bkpaas/pkg/buildtime"
	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	kpool "github.com/TencentBlueKing/bkpaas/pkg/conn/db/postgres/pool"
	"github.com/TencentBlueKing/bkpaas/pkg/kubeutil"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/echoutil"
	"github.com/TencentBlueKing/bkpaas/pkg/utils/filewatch"
)

// header telling who calls APIs. It is set by the API gateway in front of this server.
const operatorHeader = "X-Bkpaas-Username"

func main() {
	configPath := flag.String("config", os.Getenv("PAAS_CONFIG"), "path to config file")
	loglevel := flag.String("loglevel", "", "log level. debug|info|warn|error|off. (default: server.logLevel in config)")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()
	log.Printf("paasd %s", buildtime.VersionString())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conf, err := platform.LoadPlatformConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configration: %s", err)
	}

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	level := *loglevel
	if level == "" {
		level = conf.Server().LogLevel()
	}
	echoutil.SetLevel(e, level)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(handlers.AsHTTPError(err), c)
		e.Logger.Error(err)
	}
	e.Use(echoutil.AccessLog(operatorHeader))

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *configPath)
		if err != nil {
			log.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		ctx = wctx
	}
	context.AfterFunc(ctx, func() {
		log.Printf("quit to restart server (%v)", context.Cause(ctx))
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			log.Printf("error on shutdown: %s", err)
		}
	})

	clients, err := kubeutil.Connect(conf.Kubernetes().Kubeconfig(), int(conf.Kubernetes().Timeout().Seconds()))
	if err != nil {
		log.Fatalf("can not connect to kubernetes: %s", err)
	}
	mainDB, err := kpool.Connect(ctx, conf.Databases().Main())
	if err != nil {
		log.Fatalf("can not connect to main database: %s", err)
	}
	defer mainDB.Close()
	workloads, err := kpool.Connect(ctx, conf.Databases().Workloads())
	if err != nil {
		log.Fatalf("can not connect to workloads database: %s", err)
	}
	defer workloads.Close()

	paas, err := bkpaas.Attach(ctx, conf, clients, mainDB, workloads)
	if err != nil {
		log.Fatalf("can not start: %s", err)
	}

	api := func(p ...string) string {
		return path.Join(append([]string{"/api"}, p...)...) + "/"
	}
	operator := func(c echo.Context) string {
		return c.Request().Header.Get(operatorHeader)
	}
	locator := handlers.Locator{
		Apps: paas.Apps(), Envs: paas.Apps().Database(),
		AppCode: "code", Module: "module", Stage: "stage",
	}
	module := "applications/:code/modules/:module"

	{
		e.POST(api("applications"), handlers.CreateApplicationHandler(paas.Apps(), operator))
		e.GET(api("applications/:code"), handlers.GetApplicationHandler(paas.Apps(), "code"))
		e.GET(api("applications/:code/modules"), handlers.ListModulesHandler(paas.Apps(), "code"))
		e.POST(api("applications/:code/modules"), handlers.CreateModuleHandler(paas.Apps(), "code"))
	}

	{
		e.POST(
			api(module, "envs/:stage/deployments"),
			handlers.StartDeploymentHandler(locator, paas.Deploys(), operator),
		)
		e.GET(api("deployments/:id"), handlers.GetDeploymentHandler(paas.Deploys(), "id"))
		e.PUT(api("deployments/:id/interruption"), handlers.InterruptDeploymentHandler(paas.Deploys(), "id"))
		e.GET(api("deployments/:id/logs"), handlers.DeploymentLogsHandler(paas.Deploys(), paas.Outputs(), "id"))
	}

	{
		e.GET(api(module, "addons"), handlers.ListAddonsHandler(locator, paas.Addons()))
		e.POST(api(module, "addons/:service"), handlers.BindAddonHandler(locator, paas.Addons(), "service"))
		e.DELETE(api(module, "addons/:service"), handlers.UnbindAddonHandler(locator, paas.Addons(), "service"))
		e.POST(api(module, "addons/:service/share"), handlers.ShareAddonHandler(locator, paas.Addons(), "service"))
	}

	{
		e.GET(api(module, "config_vars"), handlers.ListConfigVarsHandler(locator, paas.ConfigVars()))
		e.POST(api(module, "config_vars"), handlers.UpsertConfigVarHandler(locator, paas.ConfigVars()))
		e.DELETE(api(module, "config_vars/:var"), handlers.DeleteConfigVarHandler(locator, paas.ConfigVars(), "var"))
	}

	log.Println("registred routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	addr := fmt.Sprintf(":%d", conf.Server().Port())
	cert, key := *pcert, *pkey
	if cert != "" && key != "" {
		err = e.StartTLS(addr, cert, key)
	} else {
		err = e.Start(addr)
	}
	paas.Addons().Wait()
	if ctx.Err() == nil {
		e.Logger.Fatal(err)
	}
}
