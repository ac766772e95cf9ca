package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vela/manager"
	"vela/trader"
)

// Server HTTP API server
type Server struct {
	router        *gin.Engine
	traderManager *manager.TraderManager
	port          int
}

// NewServer creates API server
func NewServer(traderManager *manager.TraderManager, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:        router,
		traderManager: traderManager,
		port:          port,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.Any("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/competition", s.handleCompetition)
		api.GET("/traders", s.handleTraderList)

		// Trader-specific data (query parameter ?trader_id=xxx)
		api.GET("/status", s.handleStatus)
		api.GET("/account", s.handleAccount)
		api.GET("/positions", s.handlePositions)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/decisions/latest", s.handleLatestDecision)
		api.GET("/statistics", s.handleStatistics)
		api.GET("/performance", s.handlePerformance)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("route not found: %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// traderFromQuery resolves ?trader_id=, defaulting to the first registered
// trader.
func (s *Server) traderFromQuery(c *gin.Context) (*trader.AutoTrader, error) {
	traderID := c.Query("trader_id")
	if traderID == "" {
		ids := s.traderManager.GetTraderIDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("no available trader")
		}
		traderID = ids[0]
	}
	return s.traderManager.GetTrader(traderID)
}

func (s *Server) handleCompetition(c *gin.Context) {
	comparisons := s.traderManager.GetComparisonData()
	c.JSON(http.StatusOK, gin.H{
		"traders": comparisons,
		"count":   len(comparisons),
	})
}

func (s *Server) handleTraderList(c *gin.Context) {
	ids := s.traderManager.GetTraderIDs()
	traders := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		t, err := s.traderManager.GetTrader(id)
		if err != nil {
			continue
		}
		traders = append(traders, gin.H{
			"trader_id":   t.GetID(),
			"trader_name": t.GetName(),
			"ai_model":    t.GetAIModel(),
			"exchange":    t.GetExchange(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders, "count": len(traders)})
}

func (s *Server) handleStatus(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t.GetStatus())
}

func (s *Server) handleAccount(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	balance, err := t.GetAccountInfo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get account info: %v", err)})
		return
	}
	equity := balance.TotalWalletBalance + balance.TotalUnrealizedProfit
	pnl := equity - t.GetInitialBalance()
	pnlPct := 0.0
	if t.GetInitialBalance() > 0 {
		pnlPct = pnl / t.GetInitialBalance() * 100
	}
	c.JSON(http.StatusOK, gin.H{
		"trader_id":               t.GetID(),
		"total_equity":            equity,
		"wallet_balance":          balance.TotalWalletBalance,
		"available_balance":       balance.AvailableBalance,
		"total_unrealized_profit": balance.TotalUnrealizedProfit,
		"initial_balance":         t.GetInitialBalance(),
		"total_pnl":               pnl,
		"total_pnl_pct":           pnlPct,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	positions, err := t.GetPositions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get positions: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trader_id": t.GetID(),
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handleDecisions(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	records, err := t.GetDecisionLogger().GetLatestRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get decision records: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trader_id": t.GetID(),
		"records":   records,
		"count":     len(records),
	})
}

func (s *Server) handleLatestDecision(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	record, err := t.GetDecisionLogger().GetLatestRecord()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get latest decision: %v", err)})
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"trader_id": t.GetID(), "record": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trader_id": t.GetID(), "record": record})
}

func (s *Server) handleStatistics(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	stats, err := t.GetDecisionLogger().GetStatistics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get statistics: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trader_id": t.GetID(), "statistics": stats})
}

func (s *Server) handlePerformance(c *gin.Context) {
	t, err := s.traderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	lookback := 100
	if raw := c.Query("lookback"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			lookback = n
		}
	}

	analysis, err := t.GetDecisionLogger().AnalyzePerformance(lookback)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to analyze performance: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trader_id": t.GetID(), "performance": analysis})
}

// Start runs the HTTP server, blocking until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("🌐 API server listening on %s", addr)
	return s.router.Run(addr)
}
