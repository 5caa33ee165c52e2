package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"royaltyd/claims"
	"royaltyd/detect"
	"royaltyd/native/royalty"
	"royaltyd/notify"
	"royaltyd/schedule"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Processor  *claims.Processor
	Calculator *royalty.Calculator
	Dispatcher *notify.Dispatcher
	Detector   *detect.Detector
	Runner     *schedule.Runner
	AdminToken string
	Version    string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server exposes the royalty engine over HTTP. Every response is wrapped in
// the standard success/error envelope.
type Server struct {
	processor  *claims.Processor
	calc       *royalty.Calculator
	dispatcher *notify.Dispatcher
	detector   *detect.Detector
	runner     *schedule.Runner
	adminToken string
	version    string
	logger     *slog.Logger
	now        func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{
		processor:  cfg.Processor,
		calc:       cfg.Calculator,
		dispatcher: cfg.Dispatcher,
		detector:   cfg.Detector,
		runner:     cfg.Runner,
		adminToken: strings.TrimSpace(cfg.AdminToken),
		version:    cfg.Version,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if srv.version == "" {
		srv.version = "v1"
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/royalties", func(api chi.Router) {
		api.Post("/claim", s.handleClaim)
		api.Get("/claimable/{chapterId}", s.handleClaimable)
		api.Get("/history/{authorAddress}", s.handleHistory)
		api.Get("/preview", s.handlePreview)
	})

	r.Route("/notifications", func(api chi.Router) {
		api.Post("/derivatives", s.handleMonitorUpload)
		api.Get("/stats", s.handleNotificationStats)
		api.Get("/{authorAddress}/derivatives", s.eventsHandler(detect.EventDerivative))
		api.Get("/{authorAddress}/opportunities", s.eventsHandler(detect.EventCollaboration, detect.EventTrend, detect.EventEngagement))
		api.Get("/{authorAddress}/quality", s.eventsHandler(detect.EventQuality))
		api.Get("/{authorAddress}/preferences", s.handleGetPreferences)
		api.Post("/{authorAddress}/preferences", s.handleUpdatePreferences)
		api.Post("/{authorAddress}/mark-read", s.handleMarkRead)
		api.Get("/{authorAddress}", s.handleListNotifications)
	})

	r.Route("/admin", func(api chi.Router) {
		api.Use(s.requireAdmin)
		api.Post("/pause", s.handlePause)
		api.Post("/resume", s.handleResume)
		api.Get("/status", s.handleStatus)
	})

	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.writeError(w, r, http.StatusForbidden, CodeUnauthorized, "admin interface disabled")
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChapterID      string `json:"chapterId"`
		AuthorAddress  string `json:"authorAddress"`
		LicenseTermsID string `json:"licenseTermsId"`
		ExpectedAmount string `json:"expectedAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON payload")
		return
	}
	req := claims.Request{
		ChapterID:      body.ChapterID,
		Author:         body.AuthorAddress,
		LicenseTermsID: body.LicenseTermsID,
	}
	if raw := strings.TrimSpace(body.ExpectedAmount); raw != "" {
		expected, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			s.writeError(w, r, http.StatusBadRequest, CodeValidation, "expectedAmount must be a base-10 integer")
			return
		}
		req.Expected = expected
	}
	result, err := s.processor.ProcessClaim(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, result)
}

func (s *Server) handleClaimable(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterId")
	author := r.URL.Query().Get("authorAddress")
	refresh := strings.EqualFold(r.URL.Query().Get("refresh"), "true")
	check, err := s.processor.Claimable(r.Context(), chapterID, author, refresh)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, check)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "authorAddress")
	query := r.URL.Query()
	filter := claims.HistoryFilter{
		Status: claims.Status(strings.TrimSpace(query.Get("status"))),
		Tier:   royalty.Tier(strings.TrimSpace(query.Get("licenseTier"))),
		Page:   intQuery(query.Get("page"), 1),
		Limit:  intQuery(query.Get("limit"), 20),
	}
	if raw := strings.TrimSpace(query.Get("startDate")); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, CodeValidation, "startDate must be RFC 3339")
			return
		}
		filter.Start = start
	}
	if raw := strings.TrimSpace(query.Get("endDate")); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, CodeValidation, "endDate must be RFC 3339")
			return
		}
		filter.End = end
	}
	entries, total, summary, err := s.processor.History(r.Context(), author, filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
		"summary": summary,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tier, err := royalty.ParseTier(query.Get("licenseTier"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	revenue, ok := new(big.Int).SetString(strings.TrimSpace(query.Get("currentRevenue")), 10)
	if !ok {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "currentRevenue must be a base-10 integer")
		return
	}
	preview, err := s.calc.PreviewClaim(revenue, tier)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, preview)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "authorAddress")
	query := r.URL.Query()
	filter := notify.Filter{
		UnreadOnly: strings.EqualFold(query.Get("unreadOnly"), "true"),
		Limit:      intQuery(query.Get("limit"), 0),
	}
	for _, raw := range strings.Split(query.Get("types"), ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			filter.Types = append(filter.Types, notify.Type(trimmed))
		}
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, CodeValidation, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	notifications, err := s.dispatcher.Notifications(r.Context(), author, filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, notifications)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "authorAddress")
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON payload")
		return
	}
	result, err := s.dispatcher.MarkRead(r.Context(), author, body.IDs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, result)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	pref, err := s.dispatcher.Preferences(r.Context(), chi.URLParam(r, "authorAddress"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, pref)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	author := chi.URLParam(r, "authorAddress")
	var body struct {
		Channels  map[notify.Channel]bool `json:"channels"`
		Types     map[notify.Type]bool    `json:"types"`
		MinAmount string                  `json:"minimumAmountThreshold"`
		Frequency string                  `json:"frequency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON payload")
		return
	}
	update := notify.PreferenceUpdate{Channels: body.Channels, Types: body.Types}
	if raw := strings.TrimSpace(body.MinAmount); raw != "" {
		min, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			s.writeError(w, r, http.StatusBadRequest, CodeValidation, "minimumAmountThreshold must be a base-10 integer")
			return
		}
		update.MinAmount = min
	}
	if raw := strings.TrimSpace(body.Frequency); raw != "" {
		frequency := notify.Frequency(raw)
		update.Frequency = &frequency
	}
	pref, err := s.dispatcher.UpdatePreferences(r.Context(), author, update)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeData(w, r, http.StatusOK, pref)
}

func (s *Server) handleMonitorUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthorAddress string `json:"authorAddress"`
		SubjectID     string `json:"subjectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(body.SubjectID) == "" {
		s.writeError(w, r, http.StatusBadRequest, CodeValidation, "subjectId required")
		return
	}
	events, err := s.detector.MonitorContentUpload(r.Context(), body.AuthorAddress, body.SubjectID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if events == nil {
		events = []*detect.Event{}
	}
	s.writeData(w, r, http.StatusOK, events)
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, http.StatusOK, s.dispatcher.Stats())
}

func (s *Server) eventsHandler(types ...detect.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		author := chi.URLParam(r, "authorAddress")
		query := r.URL.Query()
		filter := detect.EventFilter{
			Types:           types,
			Limit:           intQuery(query.Get("limit"), 0),
			UnprocessedOnly: strings.EqualFold(query.Get("unprocessedOnly"), "true"),
		}
		if raw := strings.TrimSpace(query.Get("since")); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.writeError(w, r, http.StatusBadRequest, CodeValidation, "since must be RFC 3339")
				return
			}
			filter.Since = since
		}
		events, err := s.detector.EventsForAuthor(r.Context(), author, filter)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeData(w, r, http.StatusOK, events)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.processor.Pause()
	if s.runner != nil {
		s.runner.Pause()
	}
	s.logger.Info("claim processing and monitors paused")
	s.writeData(w, r, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.processor.Resume()
	if s.runner != nil {
		s.runner.Resume()
	}
	s.logger.Info("claim processing and monitors resumed")
	s.writeData(w, r, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"paused":        s.processor.Paused(),
		"deliveryStats": s.dispatcher.Stats(),
	}
	if s.runner != nil {
		status["monitorsPaused"] = s.runner.Paused()
		skips := make(map[string]int64)
		for _, name := range []string{
			"detect.derivative", "detect.quality", "detect.collaboration",
			"detect.trend", "detect.engagement", "detect.purge",
		} {
			skips[name] = s.runner.Skips(name)
		}
		status["monitorSkips"] = skips
	}
	s.writeData(w, r, http.StatusOK, status)
}

func intQuery(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
