package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"infra-alert/internal/alert"
	"infra-alert/internal/config"
	"infra-alert/internal/logging"
	"infra-alert/internal/source"
)

const (
	defaultHistoryLimit = 20
	operatorHeader      = "X-Operator-ID"
)

// StatusProvider is the read side of the source monitor.
type StatusProvider interface {
	Latest() (source.Snapshot, bool)
	SourceName() string
	LastError() error
}

// Server 提供告警的命令/配置 HTTP 接口以及 /metrics。
type Server struct {
	cfg     config.WebConfig
	manager *alert.Manager
	status  StatusProvider

	operators map[string]struct{}
	router    *mux.Router
}

func NewServer(cfg config.WebConfig, m *alert.Manager, status StatusProvider) *Server {
	s := &Server{
		cfg:       cfg,
		manager:   m,
		status:    status,
		operators: make(map[string]struct{}, len(cfg.Operators)),
	}
	for _, op := range cfg.Operators {
		s.operators[op] = struct{}{}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireOperator)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/alerts/active", s.handleActive).Methods(http.MethodGet)
	api.HandleFunc("/alerts/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/alerts/ack-all", s.handleAckAll).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/ack", s.handleAck).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在配置的监听地址上启动 HTTP 服务，ctx 结束时优雅退出（阻塞调用）。
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logging.Infof("Web 服务未开启（配置中 web.enabled=false）")
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infof("Web 服务已启动，监听地址=%s", s.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.WithFields(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"operator": r.Header.Get(operatorHeader),
			"elapsed":  time.Since(start).String(),
		}).Debug("http request")
	})
}

// requireOperator 当配置了 operators 白名单时校验 X-Operator-ID
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.operators) > 0 {
			if _, ok := s.operators[r.Header.Get(operatorHeader)]; !ok {
				writeError(w, http.StatusForbidden, "operator not allowed")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusView struct {
	Source       string           `json:"source"`
	SourceError  string           `json:"sourceError,omitempty"`
	Snapshot     *source.Snapshot `json:"snapshot"`
	ActiveAlerts int              `json:"activeAlerts"`
	LastCritical *alert.Record    `json:"lastCritical"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{
		Source:       s.status.SourceName(),
		ActiveAlerts: len(s.manager.ActiveAlerts()),
	}
	if err := s.status.LastError(); err != nil {
		view.SourceError = err.Error()
	}
	if snap, ok := s.status.Latest(); ok {
		view.Snapshot = &snap
	}
	if last, ok := s.manager.LastCritical(); ok {
		view.LastCritical = &last
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.manager.ActiveAlerts()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, nonNil(s.manager.History(limit)))
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.manager.Acknowledge(id) {
		writeError(w, http.StatusNotFound, "alert "+id+" not found")
		return
	}
	rec, _ := s.manager.Get(id)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAckAll(w http.ResponseWriter, r *http.Request) {
	n := s.manager.AcknowledgeAll()
	writeJSON(w, http.StatusOK, map[string]int{"acknowledged": n})
}

type settingsView struct {
	MinLevel        string   `json:"minLevel"`
	CooldownSeconds int      `json:"cooldownSeconds"`
	Grouping        bool     `json:"grouping"`
	HistoryLimit    int      `json:"historyLimit"`
	BatchWindow     string   `json:"batchWindow"`
	BatchQuorum     int      `json:"batchQuorum"`
	Recipients      []string `json:"recipients"`
}

type settingsUpdate struct {
	MinLevel        *string `json:"minLevel"`
	CooldownSeconds *int    `json:"cooldownSeconds"`
	Grouping        *bool   `json:"grouping"`
}

func (s *Server) currentSettings() settingsView {
	st := s.manager.Settings()
	return settingsView{
		MinLevel:        st.MinLevel.String(),
		CooldownSeconds: int(st.Cooldown / time.Second),
		Grouping:        st.Grouping,
		HistoryLimit:    st.HistoryLimit,
		BatchWindow:     st.BatchWindow.String(),
		BatchQuorum:     st.BatchQuorum,
		Recipients:      nonNil(s.manager.Recipients()),
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentSettings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var upd settingsUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	// 先全部校验，再统一生效
	var level alert.Severity
	if upd.MinLevel != nil {
		var err error
		if level, err = alert.ParseSeverity(*upd.MinLevel); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if upd.CooldownSeconds != nil && *upd.CooldownSeconds < 0 {
		writeError(w, http.StatusBadRequest, "cooldownSeconds must not be negative")
		return
	}

	if upd.MinLevel != nil {
		s.manager.SetMinimumLevel(level)
	}
	if upd.CooldownSeconds != nil {
		s.manager.SetCooldownSeconds(*upd.CooldownSeconds)
	}
	if upd.Grouping != nil {
		s.manager.SetGroupingEnabled(*upd.Grouping)
	}
	writeJSON(w, http.StatusOK, s.currentSettings())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
