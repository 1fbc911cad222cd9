// Package api serves the journal and open positions as read-only JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/metrics"
	"github.com/rustyeddy/exitengine/sim"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store is the read side of the journal.
type Store interface {
	GetTrade(ctx context.Context, positionID string) (journal.TradeRecord, error)
	ListTrades(ctx context.Context, f journal.TradeFilter) ([]journal.TradeRecord, error)
	ListExits(ctx context.Context, positionID string) ([]journal.ExitRecord, error)
	ListEntries(ctx context.Context, limit int) ([]journal.EntryRecord, error)
	ListEquity(ctx context.Context, start, end time.Time) ([]journal.EquitySnapshot, error)
}

var _ Store = (*journal.SQLite)(nil)

// Positions reports open positions. *sim.Engine satisfies it.
type Positions interface {
	Positions() []*sim.Position
}

type Server struct {
	store     Store
	positions Positions
	log       *zap.Logger
	started   time.Time
}

func New(store Store, positions Positions, log *zap.Logger) *Server {
	return &Server{store: store, positions: positions, log: logging.OrNop(log), started: time.Now()}
}

// Router builds the gin engine with every route mounted under /api.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/equity", s.equity)
		api.GET("/trades", s.trades)
		api.GET("/trades/:id", s.trade)
		api.GET("/trades/:id/exits", s.exits)
		api.GET("/entries", s.entries)
		api.GET("/summary", s.summary)
		api.GET("/positions", s.openPositions)
	}
	return r
}

// ListenAndServe runs the API until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("api listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Error("api request", fields...)
			return
		}
		s.log.Debug("api request", fields...)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, journal.ErrNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"live":   s.positions != nil,
	})
}

func (s *Server) equity(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	points, err := s.store.ListEquity(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orEmpty(points))
}

func (s *Server) trades(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	trades, err := s.store.ListTrades(c.Request.Context(), journal.TradeFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		From:   from,
		To:     to,
		Limit:  limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orEmpty(trades))
}

func (s *Server) trade(c *gin.Context) {
	t, err := s.store.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) exits(c *gin.Context) {
	exits, err := s.store.ListExits(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(exits) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no exits for position " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, exits)
}

func (s *Server) entries(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	entries, err := s.store.ListEntries(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orEmpty(entries))
}

func (s *Server) summary(c *gin.Context) {
	from, to, ok := timeRange(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	trades, err := s.store.ListTrades(ctx, journal.TradeFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		From:   from,
		To:     to,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Summarize(trades))
}

func (s *Server) openPositions(c *gin.Context) {
	if s.positions == nil {
		c.JSON(http.StatusOK, []*sim.Position{})
		return
	}
	c.JSON(http.StatusOK, orEmpty(s.positions.Positions()))
}

// Summarize rebuilds performance metrics from journaled trades, oldest
// first. The curve starts at the equity before the first trade.
func Summarize(trades []journal.TradeRecord) metrics.Summary {
	if len(trades) == 0 {
		return metrics.Summarize(nil, nil, time.Time{}, time.Time{})
	}
	mt := make([]metrics.Trade, len(trades))
	curve := make([]float64, 0, len(trades)+1)
	for i, t := range trades {
		before := t.EquityAfter - t.RealizedPL
		if i == 0 {
			curve = append(curve, before)
		}
		mt[i] = metrics.Trade{PnL: t.RealizedPL, EquityBefore: before}
		curve = append(curve, t.EquityAfter)
	}
	return metrics.Summarize(mt, curve, trades[0].OpenTime, trades[len(trades)-1].CloseTime)
}

func limitParam(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return min(n, MaxLimit), true
}

// timeRange reads optional RFC3339 or YYYY-MM-DD "from" and "to" params.
func timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	var out [2]time.Time
	for i, key := range []string{"from", "to"} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			badRequest(c, key+" must be RFC3339 or YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		out[i] = t
	}
	return out[0], out[1], true
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02", v, time.UTC)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
