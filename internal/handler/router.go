package handler

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/middleware"
	"github.com/noah-isme/student-records/internal/service"
	"github.com/noah-isme/student-records/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-records/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-records/pkg/middleware/requestid"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// RouterConfig wires the handlers and shared middleware into an engine.
type RouterConfig struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	Records        *RecordHandler
	Health         *MetricsHandler
}

// NewRouter builds the gin engine serving the web front-end, the JSON view and
// the operational endpoints.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	tmpl, err := Templates()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))

	if cfg.Health != nil {
		r.GET("/health", cfg.Health.Health)
		r.GET("/ready", cfg.Health.Ready)
		r.GET("/metrics", cfg.Health.Prometheus)
	}

	if h := cfg.Records; h != nil {
		r.GET("/", h.Index)

		students := r.Group("/students")
		students.GET("/new", h.New)
		students.POST("", h.Submit)
		students.POST("/cancel", h.Cancel)
		students.POST("/export", h.Export)
		students.GET("/:id/edit", h.Edit)
		students.GET("/:id/delete", h.ConfirmDelete)
		students.POST("/:id/delete", h.Delete)

		r.GET("/exports/:token", h.Download)
		r.GET("/api/students", h.List)
	}

	return r, nil
}
