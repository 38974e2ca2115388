package run

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/models"
	runstore "github.com/dyet92k/morph/internal/run"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	store  *runstore.Store
	runner *runstore.Runner
	sink   *logsink.Sink
}

func New(store *runstore.Store, runner *runstore.Runner, sink *logsink.Sink) *Controller {
	return &Controller{store: store, runner: runner, sink: sink}
}

// PostRequest names the scraper to run. Without a scraper the
// run uses the owner's default directories.
type PostRequest struct {
	Owner   string `json:"owner"`
	Scraper string `json:"scraper"`
}

// Lookup parses the :id path parameter and carries it in the
// request context.
func (ctrl *Controller) Lookup(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.ErrBadRequest.SetInternal(err)
		}
		req := c.Request()
		c.SetRequest(req.WithContext(runstore.WithRunID(req.Context(), id)))
		return next(c)
	}
}

func (ctrl *Controller) load(c echo.Context) (*models.Run, error) {
	ctx := c.Request().Context()

	id, ok := runstore.RunIDFrom(ctx)
	if !ok {
		return nil, echo.ErrBadRequest
	}

	r, err := ctrl.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return nil, echo.ErrNotFound
		}
		return nil, echo.ErrInternalServerError.SetInternal(err)
	}

	return r, nil
}

func (ctrl *Controller) List(c echo.Context) error {
	runs, err := ctrl.store.List(c.Request().Context(), c.QueryParam("owner"), 100)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, runs)
}

func (ctrl *Controller) Get(c echo.Context) error {
	r, err := ctrl.load(c)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, r)
}

func (ctrl *Controller) Post(c echo.Context) error {
	ctx := c.Request().Context()

	var req PostRequest
	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}
	if req.Owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}

	r := &models.Run{Owner: req.Owner}
	if req.Scraper != "" {
		scraper, err := ctrl.store.FindOrCreateScraper(ctx, req.Owner, req.Scraper)
		if err != nil {
			return echo.ErrInternalServerError.SetInternal(err)
		}
		r.ScraperID = &scraper.ID
		r.Scraper = scraper
	}
	r.Queue(time.Now().UTC())

	if err := ctrl.store.Create(ctx, r); err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	queued := *r

	go func() {
		runCtx := runstore.WithRunID(context.WithoutCancel(ctx), r.ID)
		if err := ctrl.runner.Start(runCtx, r); err != nil {
			log.Error("run failure", "run_id", r.ID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, queued)
}

func (ctrl *Controller) Stop(c echo.Context) error {
	r, err := ctrl.load(c)
	if err != nil {
		return err
	}

	if err := ctrl.runner.Stop(c.Request().Context(), r); err != nil {
		if errors.Is(err, runstore.ErrNotRunning) {
			return echo.NewHTTPError(http.StatusConflict, "run is not running")
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, r)
}

func (ctrl *Controller) Logs(c echo.Context) error {
	r, err := ctrl.load(c)
	if err != nil {
		return err
	}

	lines, err := ctrl.sink.Lines(c.Request().Context(), r.ID)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, lines)
}

func (ctrl *Controller) Metric(c echo.Context) error {
	r, err := ctrl.load(c)
	if err != nil {
		return err
	}

	m, err := ctrl.store.Metric(c.Request().Context(), r.ID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, m)
}
