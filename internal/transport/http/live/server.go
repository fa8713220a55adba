// Package livehttp exposes the running session over a small JSON API:
// status, positions, start and stop. Anything richer stays out of scope.
package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/orchestrator"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr         string
	Orchestrator *orchestrator.Orchestrator
	Ledger       *ledger.Ledger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil || cfg.Ledger == nil {
		return nil, errors.New("live http server requires orchestrator and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9981"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/session")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Orchestrator.Status())
	})
	api.GET("/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, positionsPayload(cfg.Ledger.Snapshot()))
	})
	api.POST("/start", func(c *gin.Context) {
		ok, reason := cfg.Orchestrator.Start()
		status := http.StatusOK
		if !ok {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"started": ok, "reason": reason})
	})
	api.POST("/stop", func(c *gin.Context) {
		ok := cfg.Orchestrator.Stop()
		status := http.StatusOK
		if !ok {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"stopped": ok})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

type positionView struct {
	Symbol        string `json:"symbol"`
	Quantity      string `json:"quantity"`
	AveragePrice  string `json:"average_price"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func positionsPayload(snap ledger.Snapshot) gin.H {
	views := make([]positionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		views = append(views, positionView{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity.String(),
			AveragePrice:  p.AveragePrice.String(),
			RealizedPnL:   p.RealizedPnL.String(),
			UnrealizedPnL: p.UnrealizedPnL.String(),
		})
	}
	return gin.H{
		"positions":         views,
		"total_capital":     snap.Capital.TotalCapital.String(),
		"available_capital": snap.Capital.AvailableCapital.String(),
		"allocated_capital": snap.Capital.AllocatedCapital.String(),
		"daily_pnl":         snap.Capital.DailyPnL.String(),
		"taken_at":          snap.TakenAt,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
