package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type checkInApi struct {
	svc      *attendance.Service
	validate *validator.Validate
}

func registerCheckInAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := checkInApi{
		svc:      deps.AttendanceSvc,
		validate: deps.Validate,
	}

	// student portal endpoint
	g.POST("/attend", api.checkIn, jwt, studentMiddleware())
}

func (api *checkInApi) checkIn(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	var data checkInRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to checkInRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.CheckIn(ctx.Request().Context(), actor, data.Code)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}
