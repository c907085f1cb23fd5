package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"timemgr/internal/bot"
	"timemgr/internal/calendar"
	"timemgr/internal/config"
	appLog "timemgr/internal/log"
	"timemgr/internal/model"
	"timemgr/internal/schedule"
)

// Server exposes the conversational assistant over HTTP. The chat
// endpoint drives the same dispatcher a messaging frontend would; the
// read endpoints expose the schedule and slot search directly.
type Server struct {
	cfg    *config.Config
	disp   *bot.Dispatcher
	cal    calendar.Port
	sched  *schedule.Scheduler
	clock  func() time.Time
	router *mux.Router
}

// NewServer constructs a new Server. clock may be nil, in which case
// time.Now is used.
func NewServer(cfg *config.Config, disp *bot.Dispatcher, cal calendar.Port, sched *schedule.Scheduler, clock func() time.Time) *Server {
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		cfg:    cfg,
		disp:   disp,
		cal:    cal,
		sched:  sched,
		clock:  clock,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return handlers.LoggingHandler(os.Stdout, s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/freeslots", s.handleFreeSlots).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// chatRequest is the JSON request shape for POST /api/chat.
type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// chatResponse is the JSON response shape for POST /api/chat.
type chatResponse struct {
	Reply string `json:"reply"`
}

// handleChat feeds one message into the user's conversation and
// returns the assistant's reply. Messages from the same user_id are
// serialized by the dispatcher.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id must not be empty")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	reply := s.disp.Dispatch(r.Context(), req.UserID, req.Message)
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// eventDTO is a JSON-friendly view of a calendar event.
type eventDTO struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Events     []eventDTO `json:"events"`
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	Timezone   string     `json:"timezone"`
}

// handleEvents returns the stored events within a requested window.
//
// GET /api/events?days=7&backfill=0
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 0)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 0)
	if backfill < 0 {
		backfill = 0
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.clock().In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	events, err := s.cal.GetEvents(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api events: fetch failed", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, eventDTO{
			ID:          ev.ID,
			Summary:     ev.Summary,
			Start:       ev.Start.In(loc),
			End:         ev.End.In(loc),
			Description: ev.Description,
			Location:    ev.Location,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     dtos,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Timezone:   loc.String(),
	})
}

// slotsResponse is the JSON response shape for GET /api/freeslots.
type slotsResponse struct {
	Slots           []time.Time `json:"slots"`
	DurationMinutes int         `json:"duration_minutes"`
	RangeStart      time.Time   `json:"range_start"`
	RangeEnd        time.Time   `json:"range_end"`
}

// handleFreeSlots runs a free-slot search over the stored events plus
// any subscribed busy feeds.
//
// GET /api/freeslots?duration=60&days=7
//   - duration: slot length in minutes (default 60)
//   - days:     search window in days (default 7)
func (s *Server) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration := parseIntDefault(q.Get("duration"), 60)
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.clock().In(loc)
	rangeEnd := now.AddDate(0, 0, days)

	slots, err := s.sched.FindFreeSlots(r.Context(), now, rangeEnd, duration, s.sched.WorkingHours())
	if err != nil {
		appLog.Error("api freeslots: search failed", err, "duration", duration, "days", days)
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to find free slots")
		return
	}
	if slots == nil {
		slots = []time.Time{}
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		Slots:           slots,
		DurationMinutes: duration,
		RangeStart:      now,
		RangeEnd:        rangeEnd,
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
