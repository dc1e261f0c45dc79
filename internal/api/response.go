package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"studiobook/internal/domain"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	codeValidation        = "validation_error"
	codeNotFound          = "not_found"
	codeSlotUnavailable   = "slot_unavailable"
	codeInvalidTransition = "invalid_transition"
	codeInternal          = "internal_error"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps domain errors to HTTP statuses. Anything unknown
// is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: codeValidation, Fields: verr.Fields})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, codeSlotUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// decodeBody reads a JSON body. An empty body is accepted when optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

func pathID(ps httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}
