package api

import (
	"net/http"
	"strconv"

	"studiobook/internal/booking"
	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/julienschmidt/httprouter"
)

// GET /api/service-types
func (s *HTTPServer) handleServiceTypes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("service_types")

	types, err := s.catalog.ListServiceTypes(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"service_types": types})
}

// GET /api/working-hours
func (s *HTTPServer) handleWorkingHours(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("working_hours")

	hours, err := s.catalog.ListWorkingHours(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"working_hours": hours})
}

// GET /api/blocked-dates lists whole-day blocks from today on.
func (s *HTTPServer) handleBlockedDates(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("blocked_dates")

	today := s.today()
	blocks, err := s.catalog.ListBlockedDates(r.Context(), &today)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked_dates": blocks})
}

// GET /api/availability?service_type_id=&date=
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("availability")

	query := r.URL.Query()
	verr := &domain.ValidationError{}
	serviceTypeID, err := strconv.ParseInt(query.Get("service_type_id"), 10, 64)
	if err != nil || serviceTypeID <= 0 {
		verr.Add("service_type_id", "must be a positive integer")
	}
	date, err := models.ParseDate(query.Get("date"))
	if err != nil {
		verr.Add("date", "must be YYYY-MM-DD")
	}
	if err := verr.OrNil(); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	res, err := s.availability.GetAvailableSlots(r.Context(), serviceTypeID, date)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("create_booking")

	var req booking.CreateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	res, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
