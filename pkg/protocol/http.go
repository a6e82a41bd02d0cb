package protocol

import (
	echo "github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const httpControllerTag = `group:"http.controller"`

type HttpRouter = *echo.Echo

// HttpResolvable lets a controller register its own routes on the shared router.
type HttpResolvable interface {
	Resolve(HttpRouter) error
}

// AsHttpController tags a controller constructor so the http module collects it.
func AsHttpController(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(HttpResolvable)),
		fx.ResultTags(httpControllerTag),
	)
}
