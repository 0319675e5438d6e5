package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TencentBlueKing/bkpaas/cmd/paasd/handlers"
	httptestutil "github.com/TencentBlueKing/bkpaas/internal/testutils/http"
	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

type fakeApps struct {
	GetApplicationImpl func(ctx context.Context, code string) (domain.Application, error)
	GetModuleImpl      func(ctx context.Context, appCode string, name string) (domain.Module, error)
}

func (f *fakeApps) CreateApplication(context.Context, application.NewApplication) (domain.Application, error) {
	panic("it should not be called")
}

func (f *fakeApps) GetApplication(ctx context.Context, code string) (domain.Application, error) {
	if f.GetApplicationImpl == nil {
		panic("it should not be called")
	}
	return f.GetApplicationImpl(ctx, code)
}

func (f *fakeApps) CreateModule(context.Context, application.NewModule) (domain.Module, []domain.Environment, error) {
	panic("it should not be called")
}

func (f *fakeApps) GetModule(ctx context.Context, appCode string, name string) (domain.Module, error) {
	if f.GetModuleImpl == nil {
		panic("it should not be called")
	}
	return f.GetModuleImpl(ctx, appCode, name)
}

func (f *fakeApps) ListModules(context.Context, string) ([]domain.Module, error) {
	panic("it should not be called")
}

type fakeEnvs []domain.Environment

func (f fakeEnvs) ListEnvironments(_ context.Context, moduleID string) ([]domain.Environment, error) {
	ret := []domain.Environment{}
	for _, e := range f {
		if e.ModuleID == moduleID {
			ret = append(ret, e)
		}
	}
	return ret, nil
}

type fakeDeploys struct {
	StartImpl               func(ctx context.Context, req deploy.StartDeployment) (domain.Deployment, error)
	GetImpl                 func(ctx context.Context, id string) (domain.Deployment, error)
	RequestInterruptionImpl func(ctx context.Context, id string, phase domain.PhaseType) error
}

func (f *fakeDeploys) Start(ctx context.Context, req deploy.StartDeployment) (domain.Deployment, error) {
	if f.StartImpl == nil {
		panic("it should not be called")
	}
	return f.StartImpl(ctx, req)
}

func (f *fakeDeploys) Get(ctx context.Context, id string) (domain.Deployment, error) {
	if f.GetImpl == nil {
		panic("it should not be called")
	}
	return f.GetImpl(ctx, id)
}

func (f *fakeDeploys) RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error {
	if f.RequestInterruptionImpl == nil {
		panic("it should not be called")
	}
	return f.RequestInterruptionImpl(ctx, id, phase)
}

type fakeLogs struct {
	LinesImpl func(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error)
}

func (f *fakeLogs) Lines(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error) {
	if f.LinesImpl == nil {
		panic("it should not be called")
	}
	return f.LinesImpl(ctx, streamID, fromOffset, limit)
}

var (
	shop = domain.Application{ID: "app-1", Code: "shop", Type: domain.AppTypeCloudNative}
	web  = domain.Module{ID: "mod-1", ApplicationID: "app-1", Name: "default", IsDefault: true}
	stag = domain.Environment{ID: "env-1", ModuleID: "mod-1", Stage: domain.StageStag}
	prod = domain.Environment{ID: "env-2", ModuleID: "mod-1", Stage: domain.StageProd}
)

func locator() handlers.Locator {
	return handlers.Locator{
		Apps: &fakeApps{
			GetApplicationImpl: func(_ context.Context, code string) (domain.Application, error) {
				if code != shop.Code {
					return domain.Application{}, domerr.Missing{Table: "application", Identity: code}
				}
				return shop, nil
			},
			GetModuleImpl: func(_ context.Context, appCode string, name string) (domain.Module, error) {
				if appCode != shop.Code || name != web.Name {
					return domain.Module{}, domerr.Missing{Table: "module", Identity: name}
				}
				return web, nil
			},
		},
		Envs:    fakeEnvs{stag, prod},
		AppCode: "code", Module: "module", Stage: "stage",
	}
}

// statusOf returns the status code of the error returned from handlers.
func statusOf(err error) int {
	if herr := new(echo.HTTPError); errors.As(err, &herr) {
		return herr.Code
	}
	return -1
}

func TestAsHTTPError(t *testing.T) {
	type Then struct {
		status int
		kind   string
		reason string
	}

	theory := func(when error, then Then) func(*testing.T) {
		return func(t *testing.T) {
			herr := handlers.AsHTTPError(when)
			if herr.Code != then.status {
				t.Errorf("status: actual=%d, expect=%d", herr.Code, then.status)
			}
			msg, ok := herr.Message.(handlers.ErrorMessage)
			if !ok {
				t.Fatalf("message: actual=%#v", herr.Message)
			}
			if msg.Kind != then.kind {
				t.Errorf("kind: actual=%s, expect=%s", msg.Kind, then.kind)
			}
			if then.reason != "" && msg.Reason != then.reason {
				t.Errorf("reason: actual=%s, expect=%s", msg.Reason, then.reason)
			}
			if !errors.Is(herr.Internal, when) {
				t.Errorf("internal: actual=%v, expect=%v", herr.Internal, when)
			}
		}
	}

	t.Run("validation errors are bad requests", theory(
		domerr.Invalid("key", "should be upper case"),
		Then{status: http.StatusBadRequest, kind: "validation"},
	))
	t.Run("missing entities are not found", theory(
		domerr.Missing{Table: "module", Identity: "api"},
		Then{status: http.StatusNotFound, kind: "not_found"},
	))
	t.Run("conflicts are conflicts", theory(
		domerr.Conflict{Table: "application", Identity: "shop"},
		Then{status: http.StatusConflict, kind: "conflict"},
	))
	t.Run("unsatisfied preconditions are precondition failed", theory(
		domerr.Precondition("release phase can not be interrupted"),
		Then{status: http.StatusPreconditionFailed, kind: "precondition_failed"},
	))
	t.Run("unknown errors do not expose their messages", theory(
		errors.New("dial tcp 10.0.0.1:5432: connection refused"),
		Then{status: http.StatusInternalServerError, kind: "internal", reason: "internal error. ask your system admin."},
	))
}

func TestStartDeploymentHandler(t *testing.T) {
	type When struct {
		stage  string
		module string
		body   string
	}
	type Then struct {
		status  int
		request *deploy.StartDeployment
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			var requested *deploy.StartDeployment
			deploys := &fakeDeploys{
				StartImpl: func(_ context.Context, req deploy.StartDeployment) (domain.Deployment, error) {
					requested = &req
					return domain.Deployment{ID: "d-1", Status: domain.Pending, Source: req.Source}, nil
				},
			}
			testee := handlers.StartDeploymentHandler(locator(), deploys, func(echo.Context) string { return "admin" })

			e := echo.New()
			c, resp := httptestutil.Post(
				e, "/api/applications/shop/modules/default/envs/"+when.stage+"/deployments/",
				strings.NewReader(when.body), httptestutil.ContentType("application/json"),
			)
			c.SetParamNames("code", "module", "stage")
			c.SetParamValues("shop", when.module, when.stage)

			err := testee(c)
			if then.status != http.StatusCreated {
				if status := statusOf(err); status != then.status {
					t.Errorf("status: actual=%d (%v), expect=%d", status, err, then.status)
				}
				if requested != nil {
					t.Errorf("Start should not be called: %+v", requested)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}
			if resp.Code != http.StatusCreated {
				t.Errorf("status: actual=%d, expect=%d", resp.Code, http.StatusCreated)
			}
			got := handlers.Deployment{}
			if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.ID != "d-1" {
				t.Errorf("response: actual=%+v", got)
			}
			if requested == nil {
				t.Fatal("Start is not called")
			}
			if requested.Target.Env.ID != then.request.Target.Env.ID || requested.Target.Module.ID != then.request.Target.Module.ID {
				t.Errorf("target: actual=%+v, expect=%+v", requested.Target, then.request.Target)
			}
			if requested.Source != then.request.Source || requested.Options != then.request.Options || requested.Operator != then.request.Operator {
				t.Errorf("request: actual=%+v, expect=%+v", requested, then.request)
			}
		}
	}

	body := `{"source": {"type": "branch", "name": "master", "revision": "abc123"}, "build_only": true}`

	t.Run("it starts a deployment of the environment", theory(
		When{stage: "prod", module: "default", body: body},
		Then{
			status: http.StatusCreated,
			request: &deploy.StartDeployment{
				Target:   configvar.Target{App: shop, Module: web, Env: prod},
				Operator: "admin",
				Source:   domain.SourceVersion{Type: "branch", Name: "master", Revision: "abc123"},
				Options:  domain.AdvancedOptions{BuildOnly: true},
			},
		},
	))
	t.Run("unknown stages are bad requests", theory(
		When{stage: "dev", module: "default", body: body},
		Then{status: http.StatusBadRequest},
	))
	t.Run("unknown modules are not found", theory(
		When{stage: "stag", module: "api", body: body},
		Then{status: http.StatusNotFound},
	))
	t.Run("broken json is a bad request", theory(
		When{stage: "stag", module: "default", body: `{"source": `},
		Then{status: http.StatusBadRequest},
	))
}

func TestInterruptDeploymentHandler(t *testing.T) {
	phases := func(statuses ...domain.JobStatus) []domain.Phase {
		ret := []domain.Phase{}
		for i, p := range domain.PhaseTypes() {
			ret = append(ret, domain.Phase{Type: p, Status: statuses[i]})
		}
		return ret
	}

	type Then struct {
		status      int
		interrupted domain.PhaseType
	}

	theory := func(when domain.Deployment, then Then) func(*testing.T) {
		return func(t *testing.T) {
			var interrupted domain.PhaseType
			deploys := &fakeDeploys{
				GetImpl: func(_ context.Context, id string) (domain.Deployment, error) {
					if id != when.ID {
						return domain.Deployment{}, domerr.Missing{Table: "deployment", Identity: id}
					}
					return when, nil
				},
				RequestInterruptionImpl: func(_ context.Context, id string, phase domain.PhaseType) error {
					interrupted = phase
					return nil
				},
			}
			testee := handlers.InterruptDeploymentHandler(deploys, "id")

			e := echo.New()
			c, resp := httptestutil.Put(e, "/api/deployments/d-1/interruption/", nil)
			c.SetParamNames("id")
			c.SetParamValues("d-1")

			err := testee(c)
			if then.status == http.StatusAccepted {
				if err != nil {
					t.Fatal(err)
				}
				if resp.Code != then.status {
					t.Errorf("status: actual=%d, expect=%d", resp.Code, then.status)
				}
			} else if status := statusOf(err); status != then.status {
				t.Errorf("status: actual=%d (%v), expect=%d", status, err, then.status)
			}
			if interrupted != then.interrupted {
				t.Errorf("interrupted phase: actual=%s, expect=%s", interrupted, then.interrupted)
			}
		}
	}

	t.Run("it interrupts the running phase", theory(
		domain.Deployment{ID: "d-1", Status: domain.Pending, Phases: phases(domain.Successful, domain.Pending, domain.Pending)},
		Then{status: http.StatusAccepted, interrupted: domain.PhaseBuild},
	))
	t.Run("finished deployments can not be interrupted", theory(
		domain.Deployment{ID: "d-1", Status: domain.Failed, Phases: phases(domain.Successful, domain.Failed, domain.Pending)},
		Then{status: http.StatusPreconditionFailed},
	))
	t.Run("missing deployments are not found", theory(
		domain.Deployment{ID: "d-2"},
		Then{status: http.StatusNotFound},
	))
}

func TestDeploymentLogsHandler(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	type When struct {
		query string
	}
	type Then struct {
		status int
		from   int64
		limit  int
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			var from int64 = -1
			limit := -1
			deploys := &fakeDeploys{
				GetImpl: func(context.Context, string) (domain.Deployment, error) {
					return domain.Deployment{ID: "d-1", OutputStreamID: "stream-1"}, nil
				},
			}
			logs := &fakeLogs{
				LinesImpl: func(_ context.Context, streamID string, f int64, l int) ([]domain.LogLine, error) {
					if streamID != "stream-1" {
						t.Errorf("stream: actual=%s, expect=%s", streamID, "stream-1")
					}
					from, limit = f, l
					return []domain.LogLine{
						{StreamID: streamID, Offset: f + 1, Stream: "SYSTEM", Line: "Parsing process info", CreatedAt: now},
					}, nil
				},
			}
			testee := handlers.DeploymentLogsHandler(deploys, logs, "id")

			e := echo.New()
			c, resp := httptestutil.Get(e, "/api/deployments/d-1/logs/"+when.query)
			c.SetParamNames("id")
			c.SetParamValues("d-1")

			err := testee(c)
			if then.status != http.StatusOK {
				if status := statusOf(err); status != then.status {
					t.Errorf("status: actual=%d (%v), expect=%d", status, err, then.status)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if from != then.from || limit != then.limit {
				t.Errorf("(from, limit): actual=(%d, %d), expect=(%d, %d)", from, limit, then.from, then.limit)
			}
			got := []handlers.LogLine{}
			if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			expect := []handlers.LogLine{{Offset: then.from + 1, Stream: "SYSTEM", Line: "Parsing process info", CreatedAt: now}}
			if len(got) != 1 ||
				got[0].Offset != expect[0].Offset || got[0].Line != expect[0].Line ||
				got[0].Stream != expect[0].Stream || !got[0].CreatedAt.Equal(now) {
				t.Errorf("lines: actual=%+v, expect=%+v", got, expect)
			}
		}
	}

	t.Run("it reads from the beginning by default", theory(
		When{query: ""},
		Then{status: http.StatusOK, from: 0, limit: 500},
	))
	t.Run("it reads after the offset", theory(
		When{query: "?from=42&limit=10"},
		Then{status: http.StatusOK, from: 42, limit: 10},
	))
	t.Run("limit is capped", theory(
		When{query: "?limit=100000"},
		Then{status: http.StatusOK, from: 0, limit: 500},
	))
	t.Run("negative offsets are bad requests", theory(
		When{query: "?from=-1"},
		Then{status: http.StatusBadRequest},
	))
}
