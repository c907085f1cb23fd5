package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timemgr/internal/bot"
	"timemgr/internal/config"
	"timemgr/internal/intent/rule"
	"timemgr/internal/model"
	"timemgr/internal/schedule"
	"timemgr/internal/selector"
)

type memCalendar struct {
	events map[string]model.CalendarEvent
	nextID int
	fail   error
}

func newMemCalendar() *memCalendar {
	return &memCalendar{events: map[string]model.CalendarEvent{}}
}

func (m *memCalendar) GetEvents(_ context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	var out []model.CalendarEvent
	for _, ev := range m.events {
		if ev.Start.Before(end) && start.Before(ev.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memCalendar) CreateEvent(_ context.Context, ev model.CalendarEvent) (string, error) {
	m.nextID++
	ev.ID = "ev-" + strconv.Itoa(m.nextID)
	m.events[ev.ID] = ev
	return ev.ID, nil
}

func (m *memCalendar) UpdateEvent(_ context.Context, ev model.CalendarEvent) error {
	if _, ok := m.events[ev.ID]; !ok {
		return &model.NotFoundError{What: "event " + ev.ID}
	}
	m.events[ev.ID] = ev
	return nil
}

func (m *memCalendar) DeleteEvent(_ context.Context, id string) error {
	if _, ok := m.events[id]; !ok {
		return &model.NotFoundError{What: "event " + id}
	}
	delete(m.events, id)
	return nil
}

func newTestServer(t *testing.T) (*Server, *memCalendar, time.Time) {
	t.Helper()
	now, err := time.Parse("2006-01-02T15:04", "2025-06-10T08:00")
	require.NoError(t, err)
	clock := func() time.Time { return now }

	cal := newMemCalendar()
	sched := schedule.NewScheduler(cal, nil, clock)
	disp := bot.NewDispatcher(bot.NewSessionStore(), cal, rule.New(clock),
		selector.NewLexicalOracle(selector.DefaultSimilarityThreshold), sched, clock)

	cfg := config.DefaultConfig()
	return NewServer(cfg, disp, cal, sched, clock), cal, now
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestChatRejectsMalformedRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := map[string]string{
		"invalid json":    "{not json",
		"missing user id": `{"message": "hello"}`,
		"missing message": `{"user_id": "u1"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatCreatesEventThroughDispatcher(t *testing.T) {
	srv, cal, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	body := `{"user_id": "u1", "message": "Schedule a design review tomorrow at 2pm for 1 hour"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Reply, "✅ Event created")
	assert.Len(t, cal.events, 1)
}

func TestEventsEndpointReturnsWindow(t *testing.T) {
	srv, cal, now := newTestServer(t)
	_, err := cal.CreateEvent(context.Background(), model.CalendarEvent{
		Summary: "Standup",
		Start:   now.Add(26 * time.Hour),
		End:     now.Add(26*time.Hour + 30*time.Minute),
	})
	require.NoError(t, err)
	_, err = cal.CreateEvent(context.Background(), model.CalendarEvent{
		Summary: "Far away",
		Start:   now.AddDate(0, 0, 20),
		End:     now.AddDate(0, 0, 20).Add(time.Hour),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?days=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []struct {
			Summary string `json:"summary"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Standup", resp.Events[0].Summary)
}

func TestEventsEndpointRejectsWrongMethod(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/events", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFreeSlotsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/freeslots?duration=120&days=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Slots           []time.Time `json:"slots"`
		DurationMinutes int         `json:"duration_minutes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 120, resp.DurationMinutes)
	// Working hours 9-17 fit 120-minute slots at 9, 11, 13 and 15.
	require.Len(t, resp.Slots, 4)
	assert.Equal(t, 9, resp.Slots[0].Hour())
}

func TestFreeSlotsRejectsInvalidDuration(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/freeslots?duration=-5", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFreeSlotsBackendFailureIsServerError(t *testing.T) {
	srv, cal, _ := newTestServer(t)
	cal.fail = &model.ExternalServiceError{Op: "get events", Err: context.DeadlineExceeded}
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/freeslots", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
