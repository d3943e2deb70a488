package controllers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/msgvault/msgvault/internal/app"
)

type PoolController struct {
	App *app.Context
}

func (ctrl *PoolController) Stats(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.App.Pool.Stats())
}

func (ctrl *PoolController) ResetStats(c *echo.Context) error {
	ctrl.App.Pool.ResetStats()
	return c.NoContent(http.StatusNoContent)
}
