package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"studiobook/internal/availability"
	"studiobook/internal/booking"
	"studiobook/internal/catalog"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testAPIKey = "valid-key"

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Fields []struct {
		Field string `json:"field"`
	} `json:"fields"`
}

type resultBody struct {
	Booking  models.Booking `json:"booking"`
	Warnings []struct {
		Effect string `json:"effect"`
	} `json:"warnings"`
}

type testServer struct {
	handler http.Handler
	db      *database.DB
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.UpsertServiceType(ctx, &models.ServiceType{ID: 1, Name: "Portrait", Slug: "portrait", DurationMinutes: 60, IsActive: true}))
	require.NoError(t, db.UpsertServiceType(ctx, &models.ServiceType{ID: 2, Name: "Retired", Slug: "retired", DurationMinutes: 30}))
	for day := 0; day < 7; day++ {
		require.NoError(t, db.UpsertWorkingHours(ctx, models.WorkingHours{
			DayOfWeek: day, IsWorkingDay: true,
			OpenTime: models.MustTimeOfDay("09:00"), CloseTime: models.MustTimeOfDay("12:00"),
		}))
	}

	cat := catalog.NewService(db, nil, &logger)
	avail := availability.NewService(cat, db, &logger)
	bookings := booking.NewService(db, cat, avail, nil, nil, booking.Options{
		MaxAdvanceDays: 60,
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
	}, &logger)

	srv := NewHTTPServer(Config{
		AdminAPIKey: testAPIKey,
		Location:    time.UTC,
		Now:         func() time.Time { return testNow },
	}, cat, avail, bookings, &logger)

	return &testServer{handler: srv.Handler(), db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Api-Key", testAPIKey)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func bookingBody(start string) map[string]interface{} {
	return map[string]interface{}{
		"service_type_id": 1,
		"client_name":     "Ada Lovelace",
		"client_email":    "ada@example.com",
		"client_phone":    "+1 555 000 1111",
		"date":            "2025-06-10",
		"start_time":      start,
	}
}

func (s *testServer) createBooking(t *testing.T, start string) int64 {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/bookings", bookingBody(start), false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[resultBody](t, w).Booking.ID
}

func TestPublicCatalog(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/service-types", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	types := decode[struct {
		ServiceTypes []models.ServiceType `json:"service_types"`
	}](t, w)
	require.Len(t, types.ServiceTypes, 1, "inactive types are hidden")
	assert.Equal(t, "Portrait", types.ServiceTypes[0].Name)

	w = srv.do(t, http.MethodGet, "/api/admin/service-types", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = srv.do(t, http.MethodGet, "/api/admin/service-types", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[struct {
		ServiceTypes []models.ServiceType `json:"service_types"`
	}](t, w)
	require.Len(t, all.ServiceTypes, 2, "admins see inactive types")
	assert.False(t, all.ServiceTypes[1].IsActive)

	w = srv.do(t, http.MethodGet, "/api/working-hours", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	hours := decode[struct {
		WorkingHours []models.WorkingHours `json:"working_hours"`
	}](t, w)
	assert.Len(t, hours.WorkingHours, 7)

	require.NoError(t, srv.db.AddDateBlock(context.Background(), models.MustDate("2025-05-20"), "past"))
	require.NoError(t, srv.db.AddDateBlock(context.Background(), models.MustDate("2025-06-20"), "holiday"))
	w = srv.do(t, http.MethodGet, "/api/blocked-dates", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	blocked := decode[struct {
		BlockedDates []models.DateBlock `json:"blocked_dates"`
	}](t, w)
	require.Len(t, blocked.BlockedDates, 1)
	assert.Equal(t, "2025-06-20", blocked.BlockedDates[0].Date.String())
}

func TestAvailability(t *testing.T) {
	srv := setupTestServer(t)
	srv.createBooking(t, "10:00")

	w := srv.do(t, http.MethodGet, "/api/availability?service_type_id=1&date=2025-06-10", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Slots []struct {
			StartTime string `json:"start_time"`
		} `json:"slots"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	starts := make([]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		starts = append(starts, s.StartTime)
	}
	assert.Equal(t, []string{"09:00", "11:00"}, starts)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"missing params", "", http.StatusBadRequest, codeValidation},
		{"bad date", "?service_type_id=1&date=10-06-2025", http.StatusBadRequest, codeValidation},
		{"bad service type", "?service_type_id=abc&date=2025-06-10", http.StatusBadRequest, codeValidation},
		{"unknown service type", "?service_type_id=99&date=2025-06-10", http.StatusNotFound, codeNotFound},
		{"inactive service type", "?service_type_id=2&date=2025-06-10", http.StatusNotFound, codeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodGet, "/api/availability"+tt.query, nil, false)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[errorBody](t, w).Code)
		})
	}
}

func TestCreateBooking(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/bookings", bookingBody("10:00"), false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[resultBody](t, w)
	assert.Equal(t, models.StatusPending, res.Booking.Status)
	assert.Equal(t, "11:00", res.Booking.EndTime.String())

	t.Run("slot taken", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/bookings", bookingBody("10:00"), false)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, codeSlotUnavailable, decode[errorBody](t, w).Code)
	})

	t.Run("invalid fields", func(t *testing.T) {
		body := bookingBody("10:00")
		body["client_email"] = "nope"
		w := srv.do(t, http.MethodPost, "/api/bookings", body, false)
		require.Equal(t, http.StatusBadRequest, w.Code)
		e := decode[errorBody](t, w)
		assert.Equal(t, codeValidation, e.Code)
		require.Len(t, e.Fields, 1)
		assert.Equal(t, "client_email", e.Fields[0].Field)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/bookings", "not json", false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		body := bookingBody("11:00")
		body["status"] = "confirmed"
		w := srv.do(t, http.MethodPost, "/api/bookings", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminRequiresAPIKey(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/admin/bookings", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/bookings", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminLifecycle(t *testing.T) {
	srv := setupTestServer(t)
	id := srv.createBooking(t, "10:00")
	path := fmt.Sprintf("/api/admin/bookings/%d", id)

	w := srv.do(t, http.MethodPost, path+"/confirm", map[string]string{"internal_notes": "VIP"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[resultBody](t, w)
	assert.Equal(t, models.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, "VIP", res.Booking.InternalNotes)

	w = srv.do(t, http.MethodPost, path+"/reject", map[string]string{"reason": "too late"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, codeInvalidTransition, decode[errorBody](t, w).Code)

	w = srv.do(t, http.MethodPost, path+"/resync", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code, "calendar sync is disabled")

	w = srv.do(t, http.MethodPatch, path, map[string]string{"start_time": "11:00"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "12:00", decode[resultBody](t, w).Booking.EndTime.String())

	w = srv.do(t, http.MethodGet, "/api/admin/bookings?status=confirmed", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Bookings []models.Booking `json:"bookings"`
	}](t, w)
	require.Len(t, list.Bookings, 1)
	assert.Equal(t, id, list.Bookings[0].ID)

	w = srv.do(t, http.MethodPost, path+"/cancel", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusCancelled, decode[resultBody](t, w).Booking.Status)

	w = srv.do(t, http.MethodDelete, path, nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodPost, path+"/confirm", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decode[errorBody](t, w).Code)
}

func TestAdminRejectPending(t *testing.T) {
	srv := setupTestServer(t)
	id := srv.createBooking(t, "09:00")

	w := srv.do(t, http.MethodPost, fmt.Sprintf("/api/admin/bookings/%d/reject", id), map[string]string{"reason": "Studio closed"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resultBody](t, w)
	assert.Equal(t, models.StatusRejected, res.Booking.Status)
	assert.Equal(t, "Studio closed", res.Booking.RejectedReason)

	w = srv.do(t, http.MethodPost, fmt.Sprintf("/api/admin/bookings/%d/confirm", id), nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminBadInput(t *testing.T) {
	srv := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"non-numeric id", http.MethodPost, "/api/admin/bookings/abc/confirm", nil, http.StatusBadRequest},
		{"unknown status filter", http.MethodGet, "/api/admin/bookings?status=archived", nil, http.StatusBadRequest},
		{"bad from filter", http.MethodGet, "/api/admin/bookings?from=June", nil, http.StatusBadRequest},
		{"patch without body", http.MethodPatch, "/api/admin/bookings/1", nil, http.StatusBadRequest},
		{"missing booking", http.MethodDelete, "/api/admin/bookings/42", nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/admin/nothing", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, tt.method, tt.path, tt.body, true)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAdminExport(t *testing.T) {
	srv := setupTestServer(t)
	srv.createBooking(t, "09:00")
	srv.createBooking(t, "10:00")

	w := srv.do(t, http.MethodGet, "/api/admin/bookings/export", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bookings_2025-06-01.xlsx")

	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAdminBlocks(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do(t, http.MethodPost, "/api/admin/date-blocks", map[string]string{"date": "2025-06-10", "reason": "holiday"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = srv.do(t, http.MethodGet, "/api/availability?service_type_id=1&date=2025-06-10", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, availability.ReasonDateBlocked, decode[availability.Result](t, w).Reason)

	w = srv.do(t, http.MethodDelete, "/api/admin/date-blocks?date=2025-06-10", nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = srv.do(t, http.MethodDelete, "/api/admin/date-blocks?date=2025-06-10", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(t, http.MethodPost, "/api/admin/time-blocks", map[string]interface{}{
		"date": "2025-06-10", "start_time": "09:00", "end_time": "10:00", "reason": "maintenance",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	block := decode[models.TimeRangeBlock](t, w)
	assert.NotZero(t, block.ID)

	w = srv.do(t, http.MethodPost, "/api/admin/time-blocks", map[string]interface{}{
		"date": "2025-06-10", "start_time": "11:00", "end_time": "10:00",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(t, http.MethodGet, "/api/admin/time-blocks", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		TimeBlocks []models.TimeRangeBlock `json:"time_blocks"`
	}](t, w)
	assert.Len(t, list.TimeBlocks, 1)

	w = srv.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/time-blocks/%d", block.ID), nil, true)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
