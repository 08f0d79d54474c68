package room

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"go.uber.org/fx"
)

var ErrBadRequest = errors.New("bad request")

type errResponse struct {
	Code    roomerr.Code `json:"code"`
	Message string       `json:"message"`
	Check   string       `json:"check,omitempty"`
}

func newErrorResponse(err error) errResponse {
	response := errResponse{Code: roomerr.CodeOf(err), Message: err.Error()}
	if denied, ok := roomerr.AsDenied(err); ok {
		response.Check = denied.Check
		response.Message = denied.Reason
	}
	return response
}

type roomController struct {
	roomService   *RoomService
	authenticator *identity.Authenticator
	logger        *slog.Logger
}

func (ctrl *roomController) fail(c echo.Context, err error) error {
	if errors.Is(err, ErrBadRequest) {
		return c.JSON(http.StatusBadRequest, errResponse{Code: "bad_request", Message: err.Error()})
	}
	status := roomerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		ctrl.logger.Error("room request failed",
			slog.String("path", c.Path()),
			slog.String("err", err.Error()),
		)
	}
	return c.JSON(status, newErrorResponse(err))
}

func actor(c echo.Context) string {
	if token := identity.WithTokenContext(c); token != nil {
		return token.UserID
	}
	return ""
}

func (ctrl *roomController) RoomControllerRoomCreate(c echo.Context) error {
	var request CreateRequest
	if err := c.Bind(&request); err != nil {
		return ctrl.fail(c, errors.Join(ErrBadRequest, err))
	}
	// Only service callers may create a room on behalf of another host.
	token := identity.WithTokenContext(c)
	if request.HostID == "" || token == nil || !token.HasRole(identity.RoleService) {
		request.HostID = actor(c)
	}

	state, err := ctrl.roomService.CreateRoom(c.Request().Context(), request)
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusCreated, NewSnapshot(state))
}

func (ctrl *roomController) RoomControllerRoomGet(c echo.Context) error {
	state, err := ctrl.roomService.Room(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSnapshot(state))
}

func (ctrl *roomController) RoomControllerParticipants(c echo.Context) error {
	participants, err := ctrl.roomService.Participants(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"participants": participants})
}

func (ctrl *roomController) RoomControllerFeatures(c echo.Context) error {
	features, err := ctrl.roomService.Features(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"features": features})
}

type featureRequest struct {
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

func (ctrl *roomController) RoomControllerFeatureSet(c echo.Context) error {
	var request featureRequest
	if err := c.Bind(&request); err != nil {
		return ctrl.fail(c, errors.Join(ErrBadRequest, err))
	}

	feature := roomconfig.Feature(c.Param("feature"))
	state, err := ctrl.roomService.SetFeature(c.Request().Context(), c.Param("id"), actor(c), feature, request.Enabled, request.Config)
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (ctrl *roomController) RoomControllerTransition(event string) echo.HandlerFunc {
	return func(c echo.Context) error {
		state, err := ctrl.roomService.Transition(c.Request().Context(), c.Param("id"), actor(c), event)
		if err != nil {
			return ctrl.fail(c, err)
		}
		return c.JSON(http.StatusOK, statusView(state))
	}
}

func (ctrl *roomController) RoomControllerModerate(c echo.Context) error {
	var request ModerationRequest
	if err := c.Bind(&request); err != nil {
		return ctrl.fail(c, errors.Join(ErrBadRequest, err))
	}
	request.Target = c.Param("user")

	state, err := ctrl.roomService.Moderate(c.Request().Context(), c.Param("id"), actor(c), request)
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, statusView(state))
}

func (ctrl *roomController) RoomControllerRoomDelete(c echo.Context) error {
	if err := ctrl.roomService.Cleanup(c.Request().Context(), c.Param("id"), actor(c)); err != nil {
		return ctrl.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *roomController) RoomControllerRoomTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"roomTypes": ctrl.roomService.RoomTypes()})
}

func (ctrl *roomController) Resolve(router *echo.Echo) error {
	router.GET("/room-types", ctrl.RoomControllerRoomTypes)

	rooms := router.Group("/rooms", echo.MiddlewareFunc(identity.IdentityWallFactoryMiddleware(ctrl.authenticator)))
	rooms.POST("", ctrl.RoomControllerRoomCreate)
	rooms.GET("/:id", ctrl.RoomControllerRoomGet)
	rooms.DELETE("/:id", ctrl.RoomControllerRoomDelete)
	rooms.GET("/:id/participants", ctrl.RoomControllerParticipants)
	rooms.GET("/:id/features", ctrl.RoomControllerFeatures)
	rooms.PUT("/:id/features/:feature", ctrl.RoomControllerFeatureSet)
	rooms.POST("/:id/participants/:user/moderate", ctrl.RoomControllerModerate)
	for _, event := range []string{"start", "end", "lock", "unlock"} {
		rooms.POST("/:id/"+event, ctrl.RoomControllerTransition(event))
	}
	return nil
}

var _ protocol.HttpResolvable = (*roomController)(nil)

type newRoomController_Params struct {
	fx.In

	RoomService   *RoomService
	Authenticator *identity.Authenticator
	Logger        *slog.Logger
}

func NewRoomController(params newRoomController_Params) *roomController {
	return &roomController{
		roomService:   params.RoomService,
		authenticator: params.Authenticator,
		logger:        params.Logger,
	}
}
