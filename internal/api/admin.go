package api

import (
	"bytes"
	"net/http"
	"strconv"

	"studiobook/internal/booking"
	"studiobook/internal/domain"
	"studiobook/internal/export"
	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/julienschmidt/httprouter"
)

// GET /api/admin/service-types lists every type, inactive ones included.
func (s *HTTPServer) handleAllServiceTypes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_service_types")

	types, err := s.catalog.AllServiceTypes(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"service_types": types})
}

// GET /api/admin/bookings?status=&service_type_id=&from=&to=&limit=&offset=
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_list_bookings")

	filter, err := parseBookingFilter(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	bookings, err := s.bookings.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": bookings})
}

// GET /api/admin/bookings/export returns the filtered bookings as xlsx.
func (s *HTTPServer) handleExportBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_export_bookings")

	filter, err := parseBookingFilter(r)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	bookings, err := s.bookings.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Bookings(&buf, bookings, s.config.Location); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	filename := export.Filename(s.config.Now().In(s.config.Location))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseBookingFilter(r *http.Request) (models.BookingFilter, error) {
	query := r.URL.Query()
	filter := models.BookingFilter{Status: query.Get("status")}
	verr := &domain.ValidationError{}

	if v := query.Get("service_type_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			verr.Add("service_type_id", "must be a positive integer")
		}
		filter.ServiceTypeID = id
	}
	for _, p := range []struct {
		name string
		dst  **models.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		d, err := models.ParseDate(v)
		if err != nil {
			verr.Add(p.name, "must be YYYY-MM-DD")
			continue
		}
		*p.dst = &d
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			verr.Add("limit", "must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			verr.Add("offset", "must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, verr.OrNil()
}

type confirmRequest struct {
	InternalNotes *string `json:"internal_notes"`
}

// POST /api/admin/bookings/:id/confirm
func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_confirm_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	var req confirmRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	res, err := s.bookings.Confirm(r.Context(), id, req.InternalNotes)
	s.writeResult(w, res, err)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// POST /api/admin/bookings/:id/reject
func (s *HTTPServer) handleRejectBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_reject_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	var req rejectRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	res, err := s.bookings.Reject(r.Context(), id, req.Reason)
	s.writeResult(w, res, err)
}

// POST /api/admin/bookings/:id/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_cancel_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	res, err := s.bookings.Cancel(r.Context(), id)
	s.writeResult(w, res, err)
}

// POST /api/admin/bookings/:id/resync
func (s *HTTPServer) handleResyncBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_resync_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	res, err := s.bookings.ResyncCalendar(r.Context(), id)
	s.writeResult(w, res, err)
}

// PATCH /api/admin/bookings/:id
func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_update_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	var req booking.UpdateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	res, err := s.bookings.Update(r.Context(), id, req)
	s.writeResult(w, res, err)
}

// DELETE /api/admin/bookings/:id
func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_delete_booking")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	res, err := s.bookings.Delete(r.Context(), id)
	s.writeResult(w, res, err)
}

func (s *HTTPServer) writeResult(w http.ResponseWriter, res *booking.Result, err error) {
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type dateBlockRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// POST /api/admin/date-blocks
func (s *HTTPServer) handleAddDateBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_add_date_block")

	var req dateBlockRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		writeServiceError(w, s.logger, domain.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}

	if err := s.catalog.AddDateBlock(r.Context(), date, req.Reason); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.DateBlock{Date: date, Reason: req.Reason})
}

// DELETE /api/admin/date-blocks?date=YYYY-MM-DD
func (s *HTTPServer) handleRemoveDateBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_remove_date_block")

	date, err := models.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, s.logger, domain.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}
	if err := s.catalog.RemoveDateBlock(r.Context(), date); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/admin/time-blocks?from=YYYY-MM-DD, defaulting to today.
func (s *HTTPServer) handleListTimeBlocks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_list_time_blocks")

	from := s.today()
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			writeServiceError(w, s.logger, domain.NewValidationError("from", "must be YYYY-MM-DD"))
			return
		}
		from = d
	}

	blocks, err := s.catalog.ListTimeRangeBlocks(r.Context(), from)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"time_blocks": blocks})
}

// POST /api/admin/time-blocks
func (s *HTTPServer) handleAddTimeBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metrics.IncHTTP("admin_add_time_block")

	var block models.TimeRangeBlock
	if err := decodeBody(r, &block, false); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if err := s.catalog.AddTimeRangeBlock(r.Context(), &block); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

// DELETE /api/admin/time-blocks/:id
func (s *HTTPServer) handleRemoveTimeBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	metrics.IncHTTP("admin_remove_time_block")

	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if err := s.catalog.RemoveTimeRangeBlock(r.Context(), id); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
