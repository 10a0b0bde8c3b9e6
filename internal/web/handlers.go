package web

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
)

// Frame lookup modes of GET /api/runs/:id/frame
const (
	lookupAtOrBefore = "at_or_before"
	lookupNearest    = "nearest"
)

// handleHealth handles the health check endpoint. Without registered checks
// it only reports that the server is up.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  health.StatusHealthy,
			"service": "web-server",
		})
		return
	}

	report := s.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if !report.Ready() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleLiveness handles the liveness probe
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReadiness handles the readiness probe
func (s *Server) handleReadiness(c *gin.Context) {
	ready := true
	status := health.StatusHealthy
	if s.health != nil {
		report := s.health.Check(c.Request.Context())
		ready = report.Ready()
		status = report.Status
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status": status,
		"ready":  ready,
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	overall := "healthy"
	services := []service.StatusSnapshot{}
	if s.statuses != nil {
		for _, st := range s.statuses.GetAllStatuses() {
			snap := st.Snapshot()
			if snap.Status == service.StatusError {
				overall = "degraded"
			}
			services = append(services, snap)
		}
		sort.Slice(services, func(i, j int) bool {
			return services[i].Name < services[j].Name
		})
	}

	resp := gin.H{
		"status":         overall,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"services":       services,
	}
	if s.runs != nil {
		resp["video"] = s.runs.VideoInfo()
		resp["labels"] = s.runs.Labels()
	}
	c.JSON(http.StatusOK, resp)
}

// handleMetrics returns a fresh metrics snapshot
func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics are not available"})
		return
	}
	c.JSON(http.StatusOK, s.metrics.Collect(c.Request.Context()))
}

// handleListRuns handles listing all runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	list, err := s.runs.ListRuns(c.Request.Context())
	if err != nil {
		s.LogError("Failed to list runs", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  list,
		"count": len(list),
	})
}

// handleStartRun handles starting a run. An empty body starts a batch run
// over the whole video.
func (s *Server) handleStartRun(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	var req struct {
		Start     float64 `json:"start" binding:"min=0"`
		End       float64 `json:"end" binding:"min=0"`
		FrameSkip int     `json:"frame_skip" binding:"min=0"`
		Mode      string  `json:"mode" binding:"omitempty,oneof=batch realtime"`
		Track     *struct {
			RunID       string  `json:"run_id" binding:"required"`
			Time        float64 `json:"time" binding:"min=0"`
			DetectionID int     `json:"detection_id" binding:"min=0"`
		} `json:"track,omitempty"`
	}

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	runReq := runs.Request{
		Start:     req.Start,
		End:       req.End,
		FrameSkip: req.FrameSkip,
		Mode:      req.Mode,
	}
	if req.Track != nil {
		runReq.Track = &runs.Selection{
			RunID:       req.Track.RunID,
			Time:        req.Track.Time,
			DetectionID: req.Track.DetectionID,
		}
	}

	st, err := s.runs.StartRun(c.Request.Context(), runReq)
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, st)
}

// handleGetRun handles fetching one run
func (s *Server) handleGetRun(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	st, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, st)
}

// handleStopRun handles stopping a run. Stopping a finished run is a no-op.
func (s *Server) handleStopRun(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	st, err := s.runs.StopRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, st)
}

// handleDeleteRun handles deleting a finished run
func (s *Server) handleDeleteRun(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	id := c.Param("id")
	if err := s.runs.DeleteRun(c.Request.Context(), id); err != nil {
		c.JSON(runErrorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Run deleted",
		"id":      id,
	})
}

// handleGetFrame handles scrubbing: the frame result shown at time t
func (s *Server) handleGetFrame(c *gin.Context) {
	cache, ok := s.runTimeline(c)
	if !ok {
		return
	}
	t, ok := queryTime(c)
	if !ok {
		return
	}

	var (
		fr    timeline.FrameResult
		found bool
	)
	switch mode := c.DefaultQuery("mode", lookupAtOrBefore); mode {
	case lookupAtOrBefore:
		fr, found = cache.AtOrBefore(t)
	case lookupNearest:
		fr, found = cache.Nearest(t)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "mode must be at_or_before or nearest",
		})
		return
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No frame at requested time",
			"time":  t,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":  c.Param("id"),
		"frame":   fr,
		"markers": timeline.Markers(fr.Detections, s.runs.Labels(), false),
	})
}

// handleGetScene handles replay: the cumulative trail and markers at time t
func (s *Server) handleGetScene(c *gin.Context) {
	cache, ok := s.runTimeline(c)
	if !ok {
		return
	}
	t, ok := queryTime(c)
	if !ok {
		return
	}

	drawBoxes := false
	if raw := c.Query("boxes"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid boxes parameter",
			})
			return
		}
		drawBoxes = v
	}

	c.JSON(http.StatusOK, cache.Scene(t, s.runs.Labels(), drawBoxes))
}

// handleGetDetections handles listing the selectable detections of one
// frame
func (s *Server) handleGetDetections(c *gin.Context) {
	cache, ok := s.runTimeline(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid frame index",
		})
		return
	}

	fr, found := cache.At(index)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Frame not found",
			"index": index,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":     c.Param("id"),
		"index":      fr.Index,
		"time":       fr.Time,
		"detections": timeline.Markers(fr.Detections, s.runs.Labels(), true),
	})
}

// runTimeline resolves the run cache named by the :id parameter
func (s *Server) runTimeline(c *gin.Context) (*timeline.Cache, bool) {
	if !s.requireRuns(c) {
		return nil, false
	}

	cache, err := s.runs.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(runErrorStatus(err), gin.H{
			"error": err.Error(),
		})
		return nil, false
	}
	return cache, true
}

func (s *Server) requireRuns(c *gin.Context) bool {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Run manager not available",
		})
		return false
	}
	return true
}

// queryTime parses the required t parameter in seconds
func queryTime(c *gin.Context) (float64, bool) {
	raw := c.Query("t")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter t is required",
		})
		return 0, false
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid time: " + raw,
		})
		return 0, false
	}
	return t, true
}

// runErrorStatus maps run manager errors to HTTP status codes
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, runs.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, runs.ErrDetectionNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, runs.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
