package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type overrideBody struct {
	Offset *float64 `json:"offset"`
}

type errorBody struct {
	Error string `json:"error"`
}

type zoneStatusBody struct {
	Evaluation *domain.ZoneEvaluation  `json:"evaluation"`
	Override   *domain.ManagerOverride `json:"override"`
}

type evaluateAllBody struct {
	Evaluated int `json:"evaluated"`
	Failed    int `json:"failed"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/zones/evaluate", s.EvaluateAllHandler)
	e.GET("/zones/:id", s.ZoneStatusHandler)
	e.POST("/zones/:id/evaluate", s.EvaluateZoneHandler)
	e.PUT("/zones/:id/override", s.SetOverrideHandler)
	e.DELETE("/zones/:id/override", s.ClearOverrideHandler)
	e.POST("/ramp-rates/refresh", s.RefreshRampRatesHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ZoneStatusHandler(c echo.Context) error {
	res, err := s.ask(domain.GetZoneStatusRequest{ZoneId: c.Param("id")})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.GetZoneStatusResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, zoneStatusBody{Evaluation: resp.Evaluation, Override: resp.Override})
}

func (s *Server) EvaluateZoneHandler(c echo.Context) error {
	res, err := s.ask(domain.EvaluateZoneRequest{ZoneId: c.Param("id")})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.EvaluateZoneResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, resp.Evaluation)
}

func (s *Server) EvaluateAllHandler(c echo.Context) error {
	res, err := s.ask(domain.EvaluateAllRequest{})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.EvaluateAllResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	return c.JSON(http.StatusOK, evaluateAllBody{Evaluated: resp.Evaluated, Failed: resp.Failed})
}

func (s *Server) SetOverrideHandler(c echo.Context) error {
	var body overrideBody
	if err := c.Bind(&body); err != nil || body.Offset == nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "body must contain a numeric offset"})
	}
	res, err := s.ask(domain.SetManagerOverrideRequest{ZoneId: c.Param("id"), Offset: *body.Offset})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.SetManagerOverrideResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, resp.Override)
}

func (s *Server) ClearOverrideHandler(c echo.Context) error {
	res, err := s.ask(domain.ClearManagerOverrideRequest{ZoneId: c.Param("id")})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.ClearManagerOverrideResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, map[string]bool{"cleared": resp.Cleared})
}

func (s *Server) RefreshRampRatesHandler(c echo.Context) error {
	res, err := s.ask(domain.RefreshRampRatesRequest{})
	if err != nil {
		return errorResponse(c, err)
	}
	resp, ok := res.(domain.RefreshRampRatesResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "unexpected response"})
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": resp.Updated})
}

func (s *Server) ask(msg any) (any, error) {
	return s.rootContext.RequestFuture(s.masterActor, msg, s.requestTimeout).Result()
}

func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownZone):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrOverrideRange), errors.Is(err, domain.ErrUnknownProfile):
		status = http.StatusBadRequest
	case errors.Is(err, actor.ErrTimeout):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}
