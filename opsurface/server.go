// Package opsurface is the per-process operability surface (A3):
// /healthz, /metrics, a /control status/pause REST endpoint, and a
// websocket execution-log tail. None of these participate in the
// coordination protocols of C1-C9; they exist purely for the
// out-of-scope admin/ops layer named in §1. Routing follows this
// project's httprouter-based API wiring; /control/pause writes a
// worker_maintenance row rather than mutating in-memory state, so the
// effect is visible to, and overridable by, every other worker.
package opsurface

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clevergo/websocket"
	"github.com/jinzhu/gorm"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	applog "github.com/shiftvault/custodycore/log"
	appmetrics "github.com/shiftvault/custodycore/metrics"
	"github.com/shiftvault/custodycore/runtime"
	"github.com/shiftvault/custodycore/store"
)

var logger = applog.NewModuleLogger(applog.Opsurface)

// Server is the HTTP surface bound to one worker's runtime.
type Server struct {
	rt  *runtime.Runtime
	db  *gorm.DB
	ws  *websocket.Upgrader
}

func New(rt *runtime.Runtime, db *gorm.DB) *Server {
	return &Server{rt: rt, db: db, ws: &websocket.Upgrader{}}
}

// Handler builds the routed, CORS-wrapped http.Handler to bind a listener
// to.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", wrapStd(appmetrics.Handler()))
	r.GET("/control/status", s.controlStatus)
	r.POST("/control/pause", s.controlPause)
	r.GET("/ws/logs", s.wsLogs)

	c := cors.New(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}})
	return c.Handler(r)
}

func wrapStd(h http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, req)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	_, health := s.rt.Status()
	if health == store.HealthUnknown {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"health":"unknown"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"health": string(health)})
}

func (s *Server) controlStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	status, health := s.rt.Status()
	_ = json.NewEncoder(w).Encode(map[string]string{
		"worker_id": s.rt.ID.WorkerID,
		"status":    string(status),
		"health":    string(health),
	})
}

type pauseRequest struct {
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

// controlPause inserts a worker_maintenance row scoped to this process's
// own worker_type (and chain_id, if pinned), rather than flipping
// in-memory state, so every worker reading worker_maintenance sees and
// can override the same pause — an operator "pause this one process"
// control built on the same substrate as the global maintenance window.
func (s *Server) controlPause(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body pauseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.DurationSeconds <= 0 {
		body.DurationSeconds = 600
	}
	now := time.Now().UTC()
	wt := s.rt.ID.WorkerType
	row := store.WorkerMaintenance{
		WorkerType: &wt,
		ChainID:    s.rt.ID.ChainID,
		StartTime:  now,
		EndTime:    now.Add(time.Duration(body.DurationSeconds) * time.Second),
		Reason:     body.Reason,
	}
	if err := s.db.Table("worker_maintenance").Create(&row).Error; err != nil {
		logger.Error("failed to insert maintenance row for control pause", "err", err)
		http.Error(w, "failed to schedule pause", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) wsLogs(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	conn, err := s.ws.Upgrade(w, req, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	var recent []store.WorkerExecutionLog
	s.db.Table("worker_execution_logs").
		Where("worker_id = ?", s.rt.ID.WorkerID).
		Order("created_at DESC").Limit(50).Find(&recent)
	for i := len(recent) - 1; i >= 0; i-- {
		b, _ := json.Marshal(recent[i])
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}

	lastID := int64(0)
	if len(recent) > 0 {
		lastID = recent[0].ID
	}
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for range t.C {
		var fresh []store.WorkerExecutionLog
		s.db.Table("worker_execution_logs").
			Where("worker_id = ? AND id > ?", s.rt.ID.WorkerID, lastID).
			Order("id ASC").Find(&fresh)
		for _, row := range fresh {
			b, _ := json.Marshal(row)
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			lastID = row.ID
		}
	}
}
