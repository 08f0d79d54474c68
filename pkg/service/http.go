package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

type httpServer_Params struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Config      variables.Config
	Controllers []protocol.HttpResolvable `group:"http.controller"`
	Logger      *slog.Logger
}

// httpErrorHandler answers errors that escaped the controllers. Echo errors
// keep their status; domain errors are classified through roomerr.
func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}

		status := roomerr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error(err.Error(),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
			)
		}
		if c.Response().Committed {
			return
		}
		_ = c.JSON(status, map[string]string{
			"code":    string(roomerr.CodeOf(err)),
			"message": err.Error(),
		})
	}
}

func newRouter(controllers []protocol.HttpResolvable, logger *slog.Logger) (*echo.Echo, error) {
	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.HTTPErrorHandler = httpErrorHandler(router, logger)

	for _, controller := range controllers {
		if err := controller.Resolve(router); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func httpServer(params httpServer_Params) error {
	router, err := newRouter(params.Controllers, params.Logger)
	if err != nil {
		return err
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				params.Logger.Info("http server listening", slog.String("addr", params.Config.Addr()))
				if err := router.Start(params.Config.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server stopped", slog.String("err", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return nil
}

var HttpModule = fx.Module("http", fx.Invoke(httpServer))
