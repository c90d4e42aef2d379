// Package status is the proxy's operator-facing HTTP surface: a gin engine
// exposing /healthz and /stats, grounded on the teacher's API health/stats
// handlers but trimmed to what this proxy actually tracks.
package status

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
)

// poolStats is the subset of filterpool.Pool this package depends on.
type poolStats interface {
	WorkerCount() int
	QueueDepth() int
}

// table is the subset of proxytable.Table this package depends on.
type table interface {
	PushCount() int
	DirtyCount() uint64
}

// healthResponse is the body returned from /healthz.
type healthResponse struct {
	Status string `json:"status"`
}

// poolStatsResponse reports one filter pool's worker/queue state.
type poolStatsResponse struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
}

// statsResponse is the body returned from /stats.
type statsResponse struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     time.Time         `json:"start_time"`
	NumCPU        int               `json:"num_cpu"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemTotalMB    float64           `json:"mem_total_mb"`
	MemUsedMB     float64           `json:"mem_used_mb"`
	MemUsedPct    float64           `json:"mem_used_percent"`
	PushCount     int               `json:"push_count"`
	DirtyCount    uint64            `json:"dirty_count"`
	QueryPool     poolStatsResponse `json:"query_pool"`
	ReplyPool     poolStatsResponse `json:"reply_pool"`
}

// Server is the status HTTP surface (§6.5).
type Server struct {
	httpServer *http.Server
	startTime  time.Time
}

// New builds a gin engine exposing /healthz and /stats, bound to
// cfg.General.StatusPort. tbl, queryPool, and replyPool back the /stats
// payload; either pool may be nil if that pool isn't running yet.
func New(cfg *config.Config, tbl table, queryPool, replyPool poolStats) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{startTime: time.Now()}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	})
	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot(tbl, queryPool, replyPool))
	})

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.General.StatusPort))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) snapshot(tbl table, queryPool, replyPool poolStats) statsResponse {
	resp := statsResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		StartTime:     s.startTime,
		NumCPU:        runtime.NumCPU(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemTotalMB = float64(vm.Total) / 1024 / 1024
		resp.MemUsedMB = float64(vm.Used) / 1024 / 1024
		resp.MemUsedPct = vm.UsedPercent
	}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}

	if tbl != nil {
		resp.PushCount = tbl.PushCount()
		resp.DirtyCount = tbl.DirtyCount()
	}
	if queryPool != nil {
		resp.QueryPool = poolStatsResponse{Workers: queryPool.WorkerCount(), Queued: queryPool.QueueDepth()}
	}
	if replyPool != nil {
		resp.ReplyPool = poolStatsResponse{Workers: replyPool.WorkerCount(), Queued: replyPool.QueueDepth()}
	}
	return resp
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe runs the status HTTP server until it errors or is shut
// down; http.ErrServerClosed is not returned as an error by callers that
// check for it explicitly.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the status HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
