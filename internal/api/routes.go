package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong", "timestamp": time.Now().Unix()})
}

func (s *Server) handleStatus(c *gin.Context) {
	listeners := make([]gin.H, 0, len(s.orch.Listeners()))
	for _, l := range s.orch.Listeners() {
		listeners = append(listeners, gin.H{
			"proto":    l.Proto(),
			"addr":     l.Addr(),
			"open":     l.IsOpen(),
			"sessions": l.Sessions().Count(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"name":           s.cfg.Server.Name,
		"motd":           s.cfg.Server.MOTD,
		"version":        s.cfg.Server.Version,
		"state":          s.orch.State().String(),
		"uptime_seconds": int64(s.orch.Uptime().Seconds()),
		"max_players":    s.cfg.Server.MaxPlayers,
		"sessions":       s.orch.SessionCount(),
		"listeners":      listeners,
	})
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions := make([]gin.H, 0)
	for _, l := range s.orch.Listeners() {
		for _, sess := range l.Sessions().All() {
			sessions = append(sessions, gin.H{
				"id":       sess.ID(),
				"protocol": sess.Protocol(),
				"remote":   sess.RemoteAddr().String(),
				"state":    sess.State().String(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(sessions), "sessions": sessions})
}

func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"system": util.GetSystemInfo()}

	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpuPct
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetBans(c *gin.Context) {
	bans, err := s.store.Bans()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(bans), "bans": bans})
}

func (s *Server) handleAddBan(c *gin.Context) {
	var req struct {
		Addr   string `json:"addr" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "Banned by an operator"
	}

	if err := s.store.BanAddr(req.Addr, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": req.Addr})
}

func (s *Server) handleRemoveBan(c *gin.Context) {
	addr := c.Param("addr")
	if err := s.store.PardonAddr(addr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pardoned": addr})
}

func (s *Server) handleGetOperators(c *gin.Context) {
	ops, err := s.store.Operators()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ops), "operators": ops})
}

func (s *Server) handleAddOperator(c *gin.Context) {
	name := c.Param("name")
	if err := s.store.AddOperator(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator": name})
}

func (s *Server) handleRemoveOperator(c *gin.Context) {
	name := c.Param("name")
	if err := s.store.RemoveOperator(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

func (s *Server) handleStop(c *gin.Context) {
	s.bus.Emit(c.Request.Context(), events.Event{
		Type:    events.EventShutdown,
		Source:  "api",
		Payload: events.ShutdownPayload{Reason: "api stop request"},
	})
	c.JSON(http.StatusOK, gin.H{"stopping": true})
}
