package bind

import (
	"github.com/dyet92k/morph/api/rest/controller/event"
	"github.com/dyet92k/morph/api/rest/controller/run"
	"github.com/labstack/echo/v4"
)

// Controllers groups the handlers served under /v1.
type Controllers struct {
	Run   *run.Controller
	Event *event.Controller
}

func All(g *echo.Group, ctrls Controllers) {
	Runs(g.Group("/runs"), ctrls.Run)
	g.GET("/events", ctrls.Event.Stream)
}

func Runs(g *echo.Group, ctrl *run.Controller) {
	g.GET("", ctrl.List)
	g.POST("", ctrl.Post)

	id := g.Group("/:id", ctrl.Lookup)
	{
		id.GET("", ctrl.Get)
		id.GET("/logs", ctrl.Logs)
		id.GET("/metric", ctrl.Metric)
		id.POST("/stop", ctrl.Stop)
	}
}
