package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
	"github.com/TencentBlueKing/bkpaas/pkg/utils"
)

// ConfigVars is the part of *configvar.Service used by handlers.
type ConfigVars interface {
	Upsert(ctx context.Context, v domain.ConfigVar) (domain.ConfigVar, []string, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, moduleID string, redact bool) ([]domain.ConfigVar, error)
}

type ConfigVar struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Scope       string `json:"environment_name"`
	Description string `json:"description,omitempty"`
	IsSensitive bool   `json:"is_sensitive"`
}

func configVarOf(v domain.ConfigVar) ConfigVar {
	return ConfigVar{
		ID:          v.ID,
		Key:         v.Key,
		Value:       v.Value,
		Scope:       string(v.Scope),
		Description: v.Description,
		IsSensitive: v.IsSensitive,
	}
}

// ListConfigVarsHandler lists variables of the module. Sensitive ones are not listed.
func ListConfigVarsHandler(locator Locator, vars ConfigVars) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		vs, err := vars.List(c.Request().Context(), mod.ID, true)
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, utils.Map(vs, configVarOf))
	}
}

func UpsertConfigVarHandler(locator Locator, vars ConfigVars) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := ConfigVar{}
		if err := bind(c, &body); err != nil {
			return err
		}

		_, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		ctx := c.Request().Context()

		v := domain.ConfigVar{
			ModuleID:    mod.ID,
			Scope:       domain.EnvScope(body.Scope),
			Key:         body.Key,
			Value:       body.Value,
			Description: body.Description,
			IsSensitive: body.IsSensitive,
		}
		if v.Scope != domain.EnvScopeGlobal {
			envs, err := locator.Envs.ListEnvironments(ctx, mod.ID)
			if err != nil {
				return AsHTTPError(err)
			}
			if env, ok := utils.First(envs, func(e domain.Environment) bool {
				return domain.ScopeOf(e.Stage) == v.Scope
			}); ok {
				v.EnvironmentID = env.ID
			}
		}

		saved, warnings, err := vars.Upsert(ctx, v)
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, struct {
			ConfigVar
			Warnings []string `json:"warnings,omitempty"`
		}{ConfigVar: configVarOf(saved), Warnings: warnings})
	}
}

func DeleteConfigVarHandler(locator Locator, vars ConfigVars, varID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		ctx := c.Request().Context()
		id := c.Param(varID)

		vs, err := vars.List(ctx, mod.ID, false)
		if err != nil {
			return AsHTTPError(err)
		}
		if !slices.ContainsFunc(vs, func(v domain.ConfigVar) bool { return v.ID == id }) {
			return AsHTTPError(xe.Wrap(domerr.Missing{Table: "config_var", Identity: id}))
		}

		if err := vars.Delete(ctx, id); err != nil {
			return AsHTTPError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
