package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"breakout-platform/pkg/protocol"
	"breakout-platform/pkg/wsutils"
)

var ErrRoomContextMissing = errors.New("room context is empty")

type relayController struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (ctrl *relayController) RelayAttach(ctx echo.Context) error {
	roomContext := ctx.Param("roomContext")
	if roomContext == "" {
		return ErrRoomContextMissing
	}

	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %+v", ctx.Request()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	id := uuid.NewString()
	ctrl.hub.Listen(roomContext, id, w)
	defer ctrl.hub.Stop(roomContext, id)

	ctrl.logger.Debug("relay listener attached",
		slog.String("roomContext", roomContext),
		slog.String("listener", id))

	for {
		env, err := w.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ctrl.logger.Warn("relay read failed", slog.String("error", err.Error()))
			}
			return nil
		}

		// A listener only speaks for the context it attached to.
		if env.RoomContext != roomContext {
			ctrl.logger.Debug("dropping cross-context envelope",
				slog.String("attached", roomContext),
				slog.String("claimed", env.RoomContext))
			continue
		}

		ctrl.hub.Broadcast(env, id)
	}
}

func (ctrl *relayController) Healthz(ctx echo.Context) error {
	return ctx.NoContent(http.StatusOK)
}

func (ctrl *relayController) Resolve(c protocol.HttpRouter) error {
	c.GET("/relay/:roomContext", ctrl.RelayAttach)
	c.GET("/healthz", ctrl.Healthz)
	return nil
}

var _ protocol.HttpResolvable = (*relayController)(nil)

type newRelayController_Params struct {
	fx.In

	Hub    *Hub
	Logger *slog.Logger
}

func NewRelayController(params newRelayController_Params) *relayController {
	return &relayController{
		hub:    params.Hub,
		logger: params.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
