package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	escrowhttp "github.com/opencause/escrow/http"
	"github.com/opencause/escrow/scanners"
	"github.com/opencause/escrow/services"
)

const requestTimeout = 15 * time.Second

// Server exposes the read-only projections and the reviewer actions over
// HTTP. Everything else in the system is driven by the background services.
type Server struct {
	db          db.Database
	cfg         *config.Config
	scanners    map[string]scanners.Scanner
	withdrawals *services.WithdrawalService
	metrics     *services.MetricsService
	logger      zerolog.Logger
}

// NewServer creates a Server
func NewServer(
	database db.Database,
	cfg *config.Config,
	networkScanners map[string]scanners.Scanner,
	withdrawals *services.WithdrawalService,
	metrics *services.MetricsService,
	logger zerolog.Logger,
) *Server {
	return &Server{
		db:          database,
		cfg:         cfg,
		scanners:    networkScanners,
		withdrawals: withdrawals,
		metrics:     metrics,
		logger:      logger,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(escrowhttp.Zerolog(s.logger, zerolog.DebugLevel))
	router.Use(escrowhttp.CORS(""))
	router.Use(escrowhttp.Timeout(requestTimeout, s.logger))

	router.GET("/health", s.Health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		intents := v1.Group("/intents")
		{
			intents.POST("", s.CreateIntent)
			intents.GET("/:id", s.GetIntent)
		}

		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("/:id/donations", s.ListCampaignDonations)
			campaigns.GET("/:id/stats", s.GetCampaignStats)
			campaigns.GET("/:id/withdrawals", s.ListCampaignWithdrawals)
		}

		withdrawals := v1.Group("/withdrawals")
		{
			withdrawals.POST("", s.SubmitWithdrawal)
			withdrawals.GET("/:id", s.GetWithdrawal)
			withdrawals.GET("/:id/evaluation", s.EvaluateWithdrawal)
			withdrawals.POST("/:id/review", s.StartWithdrawalReview)
			withdrawals.POST("/:id/approve", s.ApproveWithdrawal)
			withdrawals.POST("/:id/reject", s.RejectWithdrawal)
			withdrawals.POST("/:id/execute", s.ExecuteWithdrawal)
		}
	}

	return router
}

// Health reports process and database liveness
func (s *Server) Health(c *gin.Context) {
	if err := s.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps storage sentinels onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		escrowhttp.ErrNotFound(c, err)
	case errors.Is(err, db.ErrConflict), errors.Is(err, db.ErrAlreadyExists), errors.Is(err, db.ErrCapExceeded):
		escrowhttp.ErrConflict(c, err)
	default:
		escrowhttp.ErrInternalServerError(c, err)
	}
}
