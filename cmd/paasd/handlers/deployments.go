package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/configvar"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/deploy"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/utils"
)

// Environments lists environments of modules.
type Environments interface {
	ListEnvironments(ctx context.Context, moduleID string) ([]domain.Environment, error)
}

// Deployments is the part of *deploy.Manager used by handlers.
type Deployments interface {
	Start(ctx context.Context, req deploy.StartDeployment) (domain.Deployment, error)
	Get(ctx context.Context, id string) (domain.Deployment, error)
	RequestInterruption(ctx context.Context, id string, phase domain.PhaseType) error
}

// Logs reads lines of output streams.
type Logs interface {
	Lines(ctx context.Context, streamID string, fromOffset int64, limit int) ([]domain.LogLine, error)
}

// Locator finds targets of requests from path parameters.
type Locator struct {
	Apps Applications
	Envs Environments

	// names of path parameters
	AppCode string
	Module  string
	Stage   string
}

// AppModule returns the application and its module.
func (l Locator) AppModule(c echo.Context) (domain.Application, domain.Module, error) {
	ctx := c.Request().Context()
	app, err := l.Apps.GetApplication(ctx, c.Param(l.AppCode))
	if err != nil {
		return domain.Application{}, domain.Module{}, err
	}
	mod, err := l.Apps.GetModule(ctx, app.Code, c.Param(l.Module))
	if err != nil {
		return domain.Application{}, domain.Module{}, err
	}
	return app, mod, nil
}

// Target returns the environment in the path.
func (l Locator) Target(c echo.Context) (configvar.Target, error) {
	stage, err := domain.AsStage(c.Param(l.Stage))
	if err != nil {
		return configvar.Target{}, domerr.Invalid("stage", "%s", err)
	}
	app, mod, err := l.AppModule(c)
	if err != nil {
		return configvar.Target{}, err
	}
	envs, err := l.Envs.ListEnvironments(c.Request().Context(), mod.ID)
	if err != nil {
		return configvar.Target{}, err
	}
	env, ok := utils.First(envs, func(e domain.Environment) bool { return e.Stage == stage })
	if !ok {
		return configvar.Target{}, xe.Wrap(domerr.Missing{Table: "environment", Identity: mod.Name + "/" + stage.String()})
	}
	return configvar.Target{App: app, Module: mod, Env: env}, nil
}

type Phase struct {
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	CompleteTime *time.Time `json:"complete_time,omitempty"`
}

type Deployment struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Source    Source  `json:"source"`
	Operator  string  `json:"operator"`
	Phases    []Phase `json:"phases"`
	BuildID   string  `json:"build_id,omitempty"`
	ErrKind   string  `json:"err_kind,omitempty"`
	ErrDetail string  `json:"err_detail,omitempty"`
	TipsURL   string  `json:"tips_url,omitempty"`
}

type Source struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Revision string `json:"revision,omitempty"`
}

func deploymentOf(d domain.Deployment) Deployment {
	return Deployment{
		ID:       d.ID,
		Status:   d.Status.String(),
		Source:   Source{Type: d.Source.Type, Name: d.Source.Name, Revision: d.Source.Revision},
		Operator: d.Operator,
		Phases: utils.Map(d.Phases, func(p domain.Phase) Phase {
			return Phase{
				Type:         p.Type.String(),
				Status:       p.Status.String(),
				StartTime:    p.StartTime,
				CompleteTime: p.CompleteTime,
			}
		}),
		BuildID:   d.BuildID,
		ErrKind:   d.ErrKind,
		ErrDetail: d.ErrDetail,
		TipsURL:   d.TipsURL,
	}
}

func StartDeploymentHandler(locator Locator, deploys Deployments, operator func(echo.Context) string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := struct {
			Source          Source `json:"source"`
			SourceDir       string `json:"source_dir"`
			ImagePullPolicy string `json:"image_pull_policy"`
			BuildOnly       bool   `json:"build_only"`
		}{}
		if err := bind(c, &body); err != nil {
			return err
		}

		target, err := locator.Target(c)
		if err != nil {
			return AsHTTPError(err)
		}

		d, err := deploys.Start(c.Request().Context(), deploy.StartDeployment{
			Target:   target,
			Operator: operator(c),
			Source: domain.SourceVersion{
				Type: body.Source.Type, Name: body.Source.Name, Revision: body.Source.Revision,
			},
			Options: domain.AdvancedOptions{
				SourceDir:       body.SourceDir,
				ImagePullPolicy: body.ImagePullPolicy,
				BuildOnly:       body.BuildOnly,
			},
		})
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusCreated, deploymentOf(d))
	}
}

func GetDeploymentHandler(deploys Deployments, deploymentID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := deploys.Get(c.Request().Context(), c.Param(deploymentID))
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, deploymentOf(d))
	}
}

// InterruptDeploymentHandler requests interruption of the running phase of the deployment.
func InterruptDeploymentHandler(deploys Deployments, deploymentID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		d, err := deploys.Get(ctx, c.Param(deploymentID))
		if err != nil {
			return AsHTTPError(err)
		}
		phase, ok := d.CurrentPhase()
		if !ok || d.Status.Terminal() {
			return AsHTTPError(domerr.Precondition("deployment %s has been finished", d.ID))
		}
		if err := deploys.RequestInterruption(ctx, d.ID, phase.Type); err != nil {
			return AsHTTPError(err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}

type LogLine struct {
	Offset    int64     `json:"offset"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

const defaultLogLimit = 500

// DeploymentLogsHandler returns lines of the deployment after the offset in query "from".
func DeploymentLogsHandler(deploys Deployments, logs Logs, deploymentID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		from := int64(0)
		if q := c.QueryParam("from"); q != "" {
			f, err := strconv.ParseInt(q, 10, 64)
			if err != nil || f < 0 {
				return BadRequest("query 'from' should be a non-negative integer", err)
			}
			from = f
		}
		limit := defaultLogLimit
		if q := c.QueryParam("limit"); q != "" {
			l, err := strconv.Atoi(q)
			if err != nil || l <= 0 {
				return BadRequest("query 'limit' should be a positive integer", err)
			}
			limit = min(l, defaultLogLimit)
		}

		ctx := c.Request().Context()
		d, err := deploys.Get(ctx, c.Param(deploymentID))
		if err != nil {
			return AsHTTPError(err)
		}
		lines, err := logs.Lines(ctx, d.OutputStreamID, from, limit)
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, utils.Map(lines, func(l domain.LogLine) LogLine {
			return LogLine{Offset: l.Offset, Stream: l.Stream, Line: l.Line, CreatedAt: l.CreatedAt}
		}))
	}
}
