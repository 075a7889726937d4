// Package httpapi is the admin HTTP surface of a ZCS node: health, the
// registry view, the transition log, advertisement posting and metrics.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zcs/internal/telemetry"
	"github.com/ryandielhenn/zcs/pkg/errs"
	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/zcs"
)

// Service is the part of *zcs.Engine the API serves.
type Service interface {
	Role() zcs.Role
	Name() string
	Nodes() []registry.Node
	Query(attr, value string, limit int) []string
	GetAttributes(name string) ([]registry.Attribute, error)
	Log() []registry.LogEntry
	PostAd(ctx context.Context, adName, adValue string) (int, error)
}

type Server struct {
	svc Service
	log *zap.Logger
}

func NewServer(svc Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("http")}
}

// NewEcho builds an echo instance with every route, the error handler and
// request metrics installed.
func (s *Server) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewErrorHandler(StatusCodes(), s.log).Handle
	e.Use(telemetry.Instrument())
	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.Healthz)
	e.GET("/info", s.Info)
	e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler()))

	v1 := e.Group("/v1")
	v1.GET("/nodes", s.ListNodes)
	v1.GET("/nodes/:name", s.GetNode)
	v1.GET("/log", s.GetLog)
	v1.POST("/ads", s.PostAd)
}

func (s *Server) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type InfoResponse struct {
	PID   int       `json:"pid"`
	Now   time.Time `json:"now"`
	Role  string    `json:"role"`
	Name  string    `json:"name,omitempty"`
	Nodes int       `json:"nodes"`
}

func (s *Server) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, InfoResponse{
		PID:   os.Getpid(),
		Now:   time.Now(),
		Role:  s.svc.Role().String(),
		Name:  s.svc.Name(),
		Nodes: len(s.svc.Nodes()),
	})
}

type NodesResponse struct {
	Nodes []registry.Node `json:"nodes"`
}

// ListNodes (GET /v1/nodes) returns every node, or with attr and value the
// nodes Query matches, in discovery order.
func (s *Server) ListNodes(c echo.Context) error {
	attr, value := c.QueryParam("attr"), c.QueryParam("value")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errs.NewInvalidArgument(fmt.Sprintf("limit %q is not a non-negative integer", raw))
		}
		limit = n
	}

	all := s.svc.Nodes()
	if attr == "" && value == "" {
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		return c.JSON(http.StatusOK, NodesResponse{Nodes: all})
	}
	if attr == "" {
		return errs.NewInvalidArgument("value given without attr")
	}

	byName := make(map[string]registry.Node, len(all))
	for _, n := range all {
		byName[n.Name] = n
	}
	out := make([]registry.Node, 0)
	for _, name := range s.svc.Query(attr, value, limit) {
		if n, ok := byName[name]; ok {
			out = append(out, n)
		}
	}
	return c.JSON(http.StatusOK, NodesResponse{Nodes: out})
}

type AttributesResponse struct {
	Name       string               `json:"name"`
	Attributes []registry.Attribute `json:"attributes"`
}

func (s *Server) GetNode(c echo.Context) error {
	name := c.Param("name")
	attrs, err := s.svc.GetAttributes(name)
	if err != nil {
		return fmt.Errorf("getNode: %w", err)
	}
	if attrs == nil {
		attrs = []registry.Attribute{}
	}
	return c.JSON(http.StatusOK, AttributesResponse{Name: name, Attributes: attrs})
}

type LogResponse struct {
	Entries []string `json:"entries"`
}

func (s *Server) GetLog(c echo.Context) error {
	entries := s.svc.Log()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.String())
	}
	return c.JSON(http.StatusOK, LogResponse{Entries: out})
}

type PostAdRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostAdResponse struct {
	Posted int `json:"posted"`
}

// PostAd (POST /v1/ads) broadcasts an advertisement from this node.
func (s *Server) PostAd(c echo.Context) error {
	var req PostAdRequest
	if err := c.Bind(&req); err != nil {
		return errs.NewInvalidArgument("invalid request body")
	}
	if req.Name == "" {
		return errs.NewInvalidArgument("name is required")
	}
	n, err := s.svc.PostAd(c.Request().Context(), req.Name, req.Value)
	if err != nil {
		return fmt.Errorf("postAd: %w", err)
	}
	return c.JSON(http.StatusOK, PostAdResponse{Posted: n})
}
