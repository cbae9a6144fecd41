package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/spilltree/spilltree/membertree"
)

type Handlers struct {
	engine  *membertree.Engine
	version string
	logger  *slog.Logger
}

func NewHandlers(engine *membertree.Engine, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		engine:  engine,
		version: version,
		logger:  logger.With("component", "handlers"),
	}
}

// Register attaches every route to e.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/_health", h.Health)

	e.POST("/v1/sponsors/validate", h.PostValidateSponsor)
	e.POST("/v1/members", h.PostMember)
	e.GET("/v1/members/:code", h.GetMember)
	e.GET("/v1/members/:code/downline", h.GetDownline)
	e.GET("/v1/members/:code/stats", h.GetStats)
}

type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"msg,omitempty"`
}

func (h *Handlers) Health(c echo.Context) error {
	s := HealthStatus{
		Status:  "ok",
		Version: h.version,
	}
	if err := h.engine.Ping(c.Request().Context()); err != nil {
		h.logger.Error("health check failed to read store", "err", err)
		s.Status = "error"
		s.Message = "store unavailable"
		return c.JSON(http.StatusServiceUnavailable, s)
	}
	return c.JSON(http.StatusOK, s)
}

// httpError maps engine errors onto status codes. Invariant violations are logged here as
// well as in the engine since they need operator attention.
func (h *Handlers) httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, membertree.ErrInvalidInput), errors.Is(err, membertree.ErrSponsorRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, membertree.ErrSponsorNotFound), errors.Is(err, membertree.ErrMemberNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, membertree.ErrDuplicateCode), errors.Is(err, membertree.ErrDuplicateEmail),
		errors.Is(err, membertree.ErrPositionUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case membertree.IsRetryable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "member tree busy, retry the request")
	case errors.Is(err, membertree.ErrTreeInvariantViolation):
		h.logger.Error("tree invariant violation", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "member tree is inconsistent")
	}
	h.logger.Error("request failed", "err", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

type ErrorBody struct {
	Message string `json:"message"`
}

// ErrorHandler renders every failed request as {"message": "..."}.
func (h *Handlers) ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	}
	if code >= 500 {
		h.logger.Warn("spilltree-http-internal-error", "err", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorBody{Message: msg})
	}
	if err != nil {
		h.logger.Error("writing error response", "err", err)
	}
}

type ValidateSponsorBody struct {
	SponsorCode string `json:"sponsor_code"`
}

type ValidateSponsorResponse struct {
	Valid bool `json:"valid"`
	*membertree.SponsorStatus
	Message string `json:"message"`
}

func (h *Handlers) PostValidateSponsor(c echo.Context) error {
	var body ValidateSponsorBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid body: %s", err))
	}

	status, err := h.engine.ValidateSponsor(c.Request().Context(), body.SponsorCode)
	if err != nil {
		return h.httpError(err)
	}

	msg := "Sponsor code is valid"
	if status.DirectFull {
		msg = "Direct positions are full, auto-spill will be applied"
	}
	return c.JSON(http.StatusOK, ValidateSponsorResponse{
		Valid:         true,
		SponsorStatus: status,
		Message:       msg,
	})
}

type PostMemberResponse struct {
	Message    string                `json:"message"`
	MemberCode string                `json:"member_code"`
	Placement  *membertree.Placement `json:"placement,omitempty"`
}

func (h *Handlers) PostMember(c echo.Context) error {
	var reg membertree.Registration
	if err := c.Bind(&reg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid body: %s", err))
	}

	p, err := h.engine.PlaceMember(c.Request().Context(), reg)
	if err != nil {
		return h.httpError(err)
	}

	resp := PostMemberResponse{
		Message:    "Member registered successfully",
		MemberCode: p.Code,
	}
	if p.Root {
		resp.Message = "Root member created successfully"
	} else {
		resp.Placement = p
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) GetMember(c echo.Context) error {
	m, err := h.engine.GetMember(c.Request().Context(), c.Param("code"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handlers) GetDownline(c echo.Context) error {
	depth := 0
	if q := c.QueryParam("depth"); q != "" {
		d, err := strconv.Atoi(q)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "depth must be a non-negative integer")
		}
		depth = d
	}

	view, err := h.engine.GetDownlineDepth(c.Request().Context(), c.Param("code"), depth)
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handlers) GetStats(c echo.Context) error {
	stats, err := h.engine.GetStats(c.Request().Context(), c.Param("code"))
	if err != nil {
		return h.httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
