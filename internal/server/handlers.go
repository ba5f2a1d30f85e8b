package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/secureflow/internal/history"
	"github.com/mbd888/secureflow/internal/logging"
	"github.com/mbd888/secureflow/internal/scoring"
	"github.com/mbd888/secureflow/internal/stream"
	"github.com/mbd888/secureflow/internal/validation"
)

// defaultResultLimit is the page size of GET /v1/stream/results.
const defaultResultLimit = 50

// IntervalRequest is the body of PUT /v1/stream/interval.
type IntervalRequest struct {
	IntervalMS *int64 `json:"interval_ms"`
}

// DemoModeRequest is the body of PUT /v1/stream/demo-mode.
type DemoModeRequest struct {
	Enabled *bool `json:"enabled"`
}

// ResultsResponse lists results newest first.
type ResultsResponse struct {
	Results []scoring.Summary `json:"results"`
	Count   int               `json:"count"`
	Total   int               `json:"total"` // results retained in history
}

// LatenciesResponse is the rolling latency window.
type LatenciesResponse struct {
	LatenciesMS     []float64 `json:"latencies_ms"` // oldest first
	P95LatencyMS    float64   `json:"p95_latency_ms"`
	LatencyTargetMS float64   `json:"latency_target_ms"`
}

func (s *Server) getStream(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) startStream(c *gin.Context) {
	if err := s.scheduler.Start(s.runCtx); err != nil {
		if errors.Is(err, stream.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_running",
				"message": "The stream is already running",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to start stream", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to start the stream",
		})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) stopStream(c *gin.Context) {
	if err := s.scheduler.Stop(); err != nil {
		if errors.Is(err, stream.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_running",
				"message": "The stream is not running",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to stop stream", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to stop the stream",
		})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) setInterval(c *gin.Context) {
	var req IntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON: {\"interval_ms\": <number>}",
		})
		return
	}

	lo, hi := stream.MinInterval.Milliseconds(), stream.MaxInterval.Milliseconds()
	if errs := validation.Validate(
		validation.Present("interval_ms", req.IntervalMS),
		validation.IntRange("interval_ms", req.IntervalMS, lo, hi),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := s.scheduler.SetInterval(time.Duration(*req.IntervalMS) * time.Millisecond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) setDemoMode(c *gin.Context) {
	var req DemoModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON: {\"enabled\": <bool>}",
		})
		return
	}
	if errs := validation.Validate(validation.Present("enabled", req.Enabled)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	s.scheduler.SetDemoMode(*req.Enabled)
	c.JSON(http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) listResults(c *gin.Context) {
	limit, verr := validation.ParseLimit(c.Query("limit"), defaultResultLimit, history.DefaultCapacity)
	if verr != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verr.Field + ": " + verr.Message,
		})
		return
	}

	var results []*scoring.TransactionResult
	if c.Query("flagged") == "true" {
		results = s.scheduler.FlaggedResults(limit)
	} else {
		results = s.scheduler.Results(limit)
	}

	c.JSON(http.StatusOK, ResultsResponse{
		Results: scoring.Summarize(results),
		Count:   len(results),
		Total:   s.scheduler.Snapshot().HistorySize,
	})
}

func (s *Server) getResult(c *gin.Context) {
	res, ok := s.scheduler.Result(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No retained result with that transaction id",
		})
		return
	}
	c.JSON(http.StatusOK, res.Summarize())
}

func (s *Server) getLatencies(c *gin.Context) {
	snap := s.scheduler.Snapshot()
	c.JSON(http.StatusOK, LatenciesResponse{
		LatenciesMS:     s.scheduler.Latencies(),
		P95LatencyMS:    snap.P95LatencyMS,
		LatencyTargetMS: snap.LatencyTargetMS,
	})
}
