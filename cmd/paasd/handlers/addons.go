package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	"github.com/TencentBlueKing/bkpaas/pkg/domain/addon"
	"github.com/TencentBlueKing/bkpaas/pkg/utils"
)

// Addons is the part of *addon.Engine used by handlers.
type Addons interface {
	ListBound(ctx context.Context, moduleID string) ([]addon.Bound, error)
	Bind(ctx context.Context, req addon.BindRequest) (domain.AddonBinding, error)
	Unbind(ctx context.Context, moduleID string, serviceID string) ([]domain.UnboundAttachment, error)
	Share(ctx context.Context, module domain.Module, ref domain.Module, serviceID string) (domain.SharedAttachment, error)
}

type BoundAddon struct {
	ServiceID   string `json:"service_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	SharedFrom  string `json:"shared_from,omitempty"`
}

type Binding struct {
	ServiceID string            `json:"service_id"`
	Plans     map[string]string `json:"plans"`
}

func ListAddonsHandler(locator Locator, addons Addons) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		bound, err := addons.ListBound(c.Request().Context(), mod.ID)
		if err != nil {
			return AsHTTPError(err)
		}
		return c.JSON(http.StatusOK, utils.Map(bound, func(b addon.Bound) BoundAddon {
			return BoundAddon{
				ServiceID:   b.Service.ID,
				Name:        b.Service.Name,
				DisplayName: b.Service.DisplayName,
				SharedFrom:  b.SharedFrom,
			}
		}))
	}
}

func BindAddonHandler(locator Locator, addons Addons, serviceID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		app, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		ctx := c.Request().Context()
		envs, err := locator.Envs.ListEnvironments(ctx, mod.ID)
		if err != nil {
			return AsHTTPError(err)
		}

		binding, err := addons.Bind(ctx, addon.BindRequest{
			App: app, Module: mod, Environments: envs, ServiceID: c.Param(serviceID),
		})
		if err != nil {
			return AsHTTPError(err)
		}

		plans := map[string]string{}
		for stage, plan := range binding.PlanIDs {
			plans[stage.String()] = plan
		}
		return c.JSON(http.StatusCreated, Binding{ServiceID: binding.ServiceID, Plans: plans})
	}
}

func UnbindAddonHandler(locator Locator, addons Addons, serviceID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		if _, err := addons.Unbind(c.Request().Context(), mod.ID, c.Param(serviceID)); err != nil {
			return AsHTTPError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// ShareAddonHandler makes the module use the instance of another module of the same application.
func ShareAddonHandler(locator Locator, addons Addons, serviceID string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := struct {
			From string `json:"from"`
		}{}
		if err := bind(c, &body); err != nil {
			return err
		}

		app, mod, err := locator.AppModule(c)
		if err != nil {
			return AsHTTPError(err)
		}
		ctx := c.Request().Context()
		ref, err := locator.Apps.GetModule(ctx, app.Code, body.From)
		if err != nil {
			return AsHTTPError(err)
		}

		if _, err := addons.Share(ctx, mod, ref, c.Param(serviceID)); err != nil {
			return AsHTTPError(err)
		}
		return c.NoContent(http.StatusCreated)
	}
}
