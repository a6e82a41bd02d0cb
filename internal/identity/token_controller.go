package identity

import (
	"encoding/json"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"breakout-platform/pkg/protocol"
)

type TokenRequest struct {
	RoomName      string `json:"roomName"`
	ParticipantID string `json:"participantId"`
	IsOwner       bool   `json:"isOwner"`
	RecordSession bool   `json:"recordSession"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type tokenController struct {
	tokenService *TokenService
	logger       *slog.Logger
}

func (ctrl *tokenController) TokenCreate(ctx echo.Context) error {
	var request TokenRequest
	if err := json.NewDecoder(ctx.Request().Body).Decode(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed token request")
	}

	token, err := ctrl.tokenService.CreateRoomToken(RoomGrant{
		RoomName:      request.RoomName,
		ParticipantID: request.ParticipantID,
		IsOwner:       request.IsOwner,
		RecordSession: request.RecordSession,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusCreated, TokenResponse{Token: token})
}

func (ctrl *tokenController) Resolve(c protocol.HttpRouter) error {
	c.POST("/token", ctrl.TokenCreate)
	return nil
}

var _ protocol.HttpResolvable = (*tokenController)(nil)

type newTokenController_Params struct {
	fx.In

	TokenService *TokenService
	Logger       *slog.Logger
}

func NewTokenController(params newTokenController_Params) *tokenController {
	return &tokenController{
		tokenService: params.TokenService,
		logger:       params.Logger,
	}
}
