package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	assignmentdomain "github.com/smallbiznis/medaudit/internal/assignment/domain"
	"github.com/smallbiznis/medaudit/internal/authorization"
	claimdomain "github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/config"
	glosadomain "github.com/smallbiznis/medaudit/internal/glosa/domain"
	"github.com/smallbiznis/medaudit/internal/observability"
	obslogger "github.com/smallbiznis/medaudit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/medaudit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/medaudit/internal/observability/tracing"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	"github.com/smallbiznis/medaudit/internal/ratelimit"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(requestMetrics(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type engineParams struct {
	fx.In

	ObsCfg  observability.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func registerGin(p engineParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.Metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	claimSvc      claimdomain.Service
	preauditSvc   preauditdomain.Service
	rosterSvc     rosterdomain.Service
	assignmentSvc assignmentdomain.Service
	glosaSvc      glosadomain.Service
	traceSvc      tracedomain.Service
	authzSvc      authorization.Service
	guard         *ratelimit.ClaimGuard
	log           *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	ClaimSvc      claimdomain.Service
	PreAuditSvc   preauditdomain.Service
	RosterSvc     rosterdomain.Service
	AssignmentSvc assignmentdomain.Service
	GlosaSvc      glosadomain.Service
	TraceSvc      tracedomain.Service
	AuthzSvc      authorization.Service
	Guard         *ratelimit.ClaimGuard `optional:"true"`
	Log           *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		claimSvc:      p.ClaimSvc,
		preauditSvc:   p.PreAuditSvc,
		rosterSvc:     p.RosterSvc,
		assignmentSvc: p.AssignmentSvc,
		glosaSvc:      p.GlosaSvc,
		traceSvc:      p.TraceSvc,
		authzSvc:      p.AuthzSvc,
		guard:         p.Guard,
		log:           p.Log,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	claims := s.engine.Group("/claims")
	claims.POST("", s.ProviderRateLimit(), s.CreateClaim)
	claims.GET("/:id", s.GetClaim)
	claims.GET("/:id/traceability", s.ListTraceability)

	classify := s.engine.Group("/classify")
	classify.POST("/:transactionId", s.Classify)
	classify.GET("/:transactionId", s.GetClassification)

	assignments := s.engine.Group("/assignments")
	assignments.POST("/batch", s.AssignBatch)
	assignments.POST("/items/:preGlosaId/release", s.ReleaseAssignmentItem)

	auditors := s.engine.Group("/auditors")
	auditors.GET("", s.ListAuditors)
	auditors.GET("/:id", s.GetAuditor)
	auditors.PUT("/:id", s.UpsertAuditor)
	auditors.GET("/:id/queue", s.AuditorQueue)
	auditors.POST("/:id/load/recompute", s.RecomputeAuditorLoad)

	glosas := s.engine.Group("/glosas")
	glosas.GET("/:serviceRef", s.GetGlosa)
	glosas.GET("/:serviceRef/history", s.GlosaHistory)
	glosas.POST("/:serviceRef/apply", s.ApplyGlosa)
	glosas.POST("/:serviceRef/respond", s.RespondGlosa)
	glosas.POST("/:serviceRef/decide", s.DecideGlosa)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
