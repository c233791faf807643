package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/analytics"
	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/report"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

const (
	defaultTopN  = 20
	maxTopN      = 1000
	maxListLimit = 500
)

// Harvester is the subset of the wordharvest facade the API serves.
type Harvester interface {
	Scrape(ctx context.Context, source string, limit int) (ingest.Result, error)
	Analyze(ctx context.Context, source string, full bool) (analytics.Outcome, error)
	Top(ctx context.Context, n int, source string) (report.Ranking, error)
	Search(ctx context.Context, query, source string) ([]report.WordDetail, error)
	Word(ctx context.Context, word, source string) (report.WordDetail, error)
	Sources(ctx context.Context) ([]string, error)
	Sessions(ctx context.Context, source string, limit int) ([]store.Session, error)
	Stats(ctx context.Context) (store.Stats, error)
}

type Options struct {
	Addr            string
	DefaultLimit    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Now             func() time.Time
}

type Server struct {
	harvester Harvester
	logger    zerolog.Logger
	opts      Options
}

type scrapeResponse struct {
	SessionID  string `json:"session_id"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
	Fetched    int    `json:"fetched"`
	New        int    `json:"new"`
	Duplicates int    `json:"duplicates"`
	Malformed  int    `json:"malformed"`
	Refreshed  int    `json:"refreshed"`
}

type analyzeResponse struct {
	Source         string            `json:"source"`
	ItemsProcessed int               `json:"items_processed"`
	WordsTouched   int               `json:"words_touched"`
	Cursor         int64             `json:"cursor"`
	PerSource      []analyzeResponse `json:"per_source,omitempty"`
}

type sessionItem struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	Stage      string     `json:"stage"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Fetched    int        `json:"fetched"`
	New        int        `json:"new"`
	Duplicates int        `json:"duplicates"`
	Malformed  int        `json:"malformed"`
	Error      string     `json:"error,omitempty"`
}

type statsResponse struct {
	TotalPosts    int64            `json:"total_posts"`
	TotalSessions int64            `json:"total_sessions"`
	PostsBySource map[string]int64 `json:"posts_by_source"`
	OldestPost    *time.Time       `json:"oldest_post,omitempty"`
	NewestPost    *time.Time       `json:"newest_post,omitempty"`
}

func NewServer(h Harvester, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = ingest.DefaultLimit
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		// scrapes run inside the request
		opts.WriteTimeout = 2 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{harvester: h, logger: logger, opts: opts}
}

// Handler builds the echo router with every route and middleware installed.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	api := e.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/scrape/:source", s.handleScrape)
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/words/top", s.handleTop)
	api.GET("/words/search", s.handleSearch)
	api.GET("/words/:word", s.handleWord)
	api.GET("/sources", s.handleSources)
	api.GET("/sessions", s.handleSessions)
	api.GET("/stats", s.handleStats)
	return e
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.harvester == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("wordharvest api started")
	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("wordharvest api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, message)
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "wordharvest",
		"time":    s.opts.Now().UTC(),
	})
}

func (s *Server) handleScrape(c echo.Context) error {
	source := c.Param("source")
	limit, err := parsePositiveInt(c.QueryParam("limit"), s.opts.DefaultLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	res, err := s.harvester.Scrape(c.Request().Context(), source, limit)
	body := scrapeResponse{
		SessionID:  res.SessionID,
		Source:     res.Source,
		Status:     string(res.Status),
		Stage:      string(res.Stage),
		Fetched:    res.Fetched,
		New:        res.New,
		Duplicates: res.Duplicates,
		Malformed:  res.Malformed,
		Refreshed:  res.Refreshed,
	}
	if err != nil {
		return s.respondError(c, "scrape", err, body)
	}
	return success(c, body)
}

func (s *Server) handleAnalyze(c echo.Context) error {
	source := c.QueryParam("source")
	full, err := parseBool(c.QueryParam("full"))
	if err != nil {
		return failValidation(c, map[string]string{"full": err.Error()})
	}

	out, err := s.harvester.Analyze(c.Request().Context(), source, full)
	if err != nil {
		return s.respondError(c, "analyze", err, toAnalyzeResponse(out))
	}
	return success(c, toAnalyzeResponse(out))
}

func (s *Server) handleTop(c echo.Context) error {
	n, err := parsePositiveInt(c.QueryParam("n"), defaultTopN, 0, maxTopN)
	if err != nil {
		return failValidation(c, map[string]string{"n": err.Error()})
	}
	ranking, err := s.harvester.Top(c.Request().Context(), n, c.QueryParam("source"))
	if err != nil {
		return s.respondError(c, "top words", err, nil)
	}
	return success(c, ranking)
}

func (s *Server) handleSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return failValidation(c, map[string]string{"q": "is required"})
	}
	matches, err := s.harvester.Search(c.Request().Context(), query, c.QueryParam("source"))
	if err != nil {
		return s.respondError(c, "search", err, nil)
	}
	return success(c, map[string]any{"items": matches})
}

func (s *Server) handleWord(c echo.Context) error {
	detail, err := s.harvester.Word(c.Request().Context(), c.Param("word"), c.QueryParam("source"))
	if err != nil {
		return s.respondError(c, "word detail", err, nil)
	}
	return success(c, detail)
}

func (s *Server) handleSources(c echo.Context) error {
	sources, err := s.harvester.Sources(c.Request().Context())
	if err != nil {
		return s.respondError(c, "sources", err, nil)
	}
	if sources == nil {
		sources = []string{}
	}
	return success(c, map[string]any{"items": sources})
}

func (s *Server) handleSessions(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 20, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	sessions, err := s.harvester.Sessions(c.Request().Context(), c.QueryParam("source"), limit)
	if err != nil {
		return s.respondError(c, "sessions", err, nil)
	}
	items := make([]sessionItem, 0, len(sessions))
	for _, sess := range sessions {
		item := sessionItem{
			ID:         sess.ID,
			Source:     sess.Source,
			Status:     string(sess.Status),
			Stage:      sess.Stage,
			StartedAt:  sess.StartedAt.UTC(),
			Fetched:    sess.Fetched,
			New:        sess.New,
			Duplicates: sess.Duplicates,
			Malformed:  sess.Malformed,
			Error:      sess.Error,
		}
		if !sess.FinishedAt.IsZero() {
			finished := sess.FinishedAt.UTC()
			item.FinishedAt = &finished
		}
		items = append(items, item)
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.harvester.Stats(c.Request().Context())
	if err != nil {
		return s.respondError(c, "stats", err, nil)
	}
	resp := statsResponse{
		TotalPosts:    st.TotalPosts,
		TotalSessions: st.TotalSessions,
		PostsBySource: st.PostsBySource,
	}
	if resp.PostsBySource == nil {
		resp.PostsBySource = map[string]int64{}
	}
	if !st.OldestPost.IsZero() {
		oldest := st.OldestPost.UTC()
		resp.OldestPost = &oldest
	}
	if !st.NewestPost.IsZero() {
		newest := st.NewestPost.UTC()
		resp.NewestPost = &newest
	}
	return success(c, resp)
}

// respondError maps domain errors onto jsend responses. data carries the
// partial progress of the operation, if any.
func (s *Server) respondError(c echo.Context, op string, err error, data any) error {
	var (
		fetchErr   *internalerr.FetchError
		persistErr *internalerr.PersistenceError
		readErr    *internalerr.AnalysisReadError
	)
	switch {
	case errors.Is(err, internalerr.ErrInvalidInput):
		return fail(c, http.StatusBadRequest, err.Error(), data)
	case errors.Is(err, internalerr.ErrNotFound):
		return fail(c, http.StatusNotFound, err.Error(), data)
	case errors.As(err, &fetchErr):
		s.logger.Warn().Err(err).Str("op", op).Msg("upstream fetch failed")
		return errorWithData(c, http.StatusBadGateway, err.Error(), data)
	case errors.Is(err, internalerr.ErrInvalidConfig):
		return errorWithData(c, http.StatusServiceUnavailable, err.Error(), data)
	case errors.As(err, &persistErr), errors.As(err, &readErr), errors.Is(err, internalerr.ErrStoreUnavailable):
		s.logger.Error().Err(err).Str("op", op).Msg("store failure")
		return errorWithData(c, http.StatusInternalServerError, "Store failure during "+op, data)
	default:
		s.logger.Error().Err(err).Str("op", op).Msg("request failed")
		return errorWithData(c, http.StatusInternalServerError, "Failed to run "+op, data)
	}
}

func toAnalyzeResponse(out analytics.Outcome) analyzeResponse {
	resp := analyzeResponse{
		Source:         out.Source,
		ItemsProcessed: out.ItemsProcessed,
		WordsTouched:   out.WordsTouched,
		Cursor:         out.Cursor,
	}
	for _, sub := range out.PerSource {
		resp.PerSource = append(resp.PerSource, toAnalyzeResponse(sub))
	}
	return resp
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, fmt.Errorf("must be a boolean")
	}
	return v, nil
}
