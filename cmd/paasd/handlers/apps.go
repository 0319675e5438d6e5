package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/application"
	"github.com/TencentBlueKing/bkpaas/pkg/utils"
)

// Applications is the part of *application.Service used by handlers.
type Applications interface {
	CreateApplication(ctx context.Context, req application.NewApplication) (domain.Application, error)
	GetApplication(ctx context.Context, code string) (domain.Application, error)
	CreateModule(ctx context.Context, req application.NewModule) (domain.Module, []domain.Environment, error)
	GetModule(ctx context.Context, appCode string, name string) (domain.Module, error)
	ListModules(ctx context.Context, appCode string) ([]domain.Module, error)
}

type Application struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Region    string    `json:"region"`
	Owner     string    `json:"owner"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func applicationOf(a domain.Application) Application {
	return Application{
		Code:      a.Code,
		Name:      a.Name,
		Type:      a.Type.String(),
		Region:    a.Region,
		Owner:     a.Owner,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt,
	}
}

type Repository struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type BuildConfig struct {
	Method              string            `json:"method"`
	ImageRepository     string            `json:"image_repository,omitempty"`
	ImageCredentialName string            `json:"image_credential_name,omitempty"`
	DockerfilePath      string            `json:"dockerfile_path,omitempty"`
	BuildArgs           map[string]string `json:"build_args,omitempty"`
}

type Module struct {
	Name         string      `json:"name"`
	IsDefault    bool        `json:"is_default"`
	SourceOrigin string      `json:"source_origin"`
	Repository   *Repository `json:"repository,omitempty"`
	BuildConfig  BuildConfig `json:"build_config"`
	Environments []string    `json:"environments,omitempty"`
}

func moduleOf(m domain.Module) Module {
	ret := Module{
		Name:         m.Name,
		IsDefault:    m.IsDefault,
		SourceOrigin: m.SourceOrigin.String(),
		BuildConfig: BuildConfig{
			Method:              m.BuildConfig.Method.String(),
			ImageRepository:     m.BuildConfig.ImageRepository,
			ImageCredentialName: m.BuildConfig.ImageCredentialName,
			DockerfilePath:      m.BuildConfig.DockerfilePath,
			BuildArgs:           m.BuildConfig.BuildArgs,
		},
	}
	if r := m.Repository; r != nil {
		ret.Repository = &Repository{Type: r.Type, URL: r.URL}
	}
	return ret
}

// bind decodes the JSON body of the request into v.
func bind(c echo.Context, v any) error {
	req := c.Request()
	if ctyp := strings.ToLower(req.Header.Get("content-type")); !strings.HasPrefix(ctyp, "application/json") {
		return BadRequest("unexpected content type. it should be application/json", nil)
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return BadRequest("can not understand the requested json", err)
	}
	return nil
}

func CreateApplicationHandler(apps Applications, operator func(echo.Context) string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := struct {
			Code     string `json:"code"`
			Name     string `json:"name"`
			Type     string `json:"type"`
			TenantID string `json:"tenant_id"`
		}{}
		if err := bind(c, &body); err != nil {
			return err
		}

		app, err := apps.CreateApplication(c.Request().Context(), application.NewApplication{
			Code:     body.Code,
			TenantID: body.TenantID,
			Name:     body.Name,
			Type:     domain.AppType(body.Type),
			Owner:    operator(c),
		})
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusCreated, applicationOf(app))
	}
}

func GetApplicationHandler(apps Applications, appCode string) echo.HandlerFunc {
	return func(c echo.Context) error {
		app, err := apps.GetApplication(c.Request().Context(), c.Param(appCode))
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, applicationOf(app))
	}
}

func CreateModuleHandler(apps Applications, appCode string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := struct {
			Name         string      `json:"name"`
			SourceOrigin string      `json:"source_origin"`
			Repository   *Repository `json:"repository"`
			BuildConfig  BuildConfig `json:"build_config"`
			Cluster      string      `json:"cluster"`
		}{}
		if err := bind(c, &body); err != nil {
			return err
		}

		req := application.NewModule{
			ApplicationCode: c.Param(appCode),
			Name:            body.Name,
			SourceOrigin:    domain.SourceOrigin(body.SourceOrigin),
			BuildConfig: domain.BuildConfig{
				Method:              domain.BuildMethod(body.BuildConfig.Method),
				ImageRepository:     body.BuildConfig.ImageRepository,
				ImageCredentialName: body.BuildConfig.ImageCredentialName,
				DockerfilePath:      body.BuildConfig.DockerfilePath,
				BuildArgs:           body.BuildConfig.BuildArgs,
			},
			Cluster: body.Cluster,
		}
		if r := body.Repository; r != nil {
			req.Repository = &domain.SourceRepository{Type: r.Type, URL: r.URL}
		}

		mod, envs, err := apps.CreateModule(c.Request().Context(), req)
		if err != nil {
			return AsHTTPError(err)
		}
		resp := moduleOf(mod)
		resp.Environments = utils.Map(envs, func(e domain.Environment) string { return e.Stage.String() })
		return c.JSON(http.StatusCreated, resp)
	}
}

func ListModulesHandler(apps Applications, appCode string) echo.HandlerFunc {
	return func(c echo.Context) error {
		mods, err := apps.ListModules(c.Request().Context(), c.Param(appCode))
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, utils.Map(mods, moduleOf))
	}
}
