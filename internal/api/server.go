package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"studiobook/internal/availability"
	"studiobook/internal/booking"
	"studiobook/internal/models"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

// Catalog is the read/write surface over service types, hours and blocks.
type Catalog interface {
	ListServiceTypes(ctx context.Context) ([]models.ServiceType, error)
	AllServiceTypes(ctx context.Context) ([]models.ServiceType, error)
	ListWorkingHours(ctx context.Context) ([]models.WorkingHours, error)
	ListBlockedDates(ctx context.Context, from *models.Date) ([]models.DateBlock, error)
	AddDateBlock(ctx context.Context, date models.Date, reason string) error
	RemoveDateBlock(ctx context.Context, date models.Date) error
	ListTimeRangeBlocks(ctx context.Context, from models.Date) ([]models.TimeRangeBlock, error)
	AddTimeRangeBlock(ctx context.Context, b *models.TimeRangeBlock) error
	RemoveTimeRangeBlock(ctx context.Context, id int64) error
}

type Availability interface {
	GetAvailableSlots(ctx context.Context, serviceTypeID int64, date models.Date) (*availability.Result, error)
}

type Bookings interface {
	Create(ctx context.Context, req booking.CreateRequest) (*booking.Result, error)
	Confirm(ctx context.Context, id int64, internalNotes *string) (*booking.Result, error)
	Reject(ctx context.Context, id int64, reason string) (*booking.Result, error)
	Cancel(ctx context.Context, id int64) (*booking.Result, error)
	Update(ctx context.Context, id int64, req booking.UpdateRequest) (*booking.Result, error)
	Delete(ctx context.Context, id int64) (*booking.Result, error)
	ResyncCalendar(ctx context.Context, id int64) (*booking.Result, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
}

type Config struct {
	Port        int
	AdminAPIKey string
	ReadTimeout time.Duration
	// Location is the studio zone; it decides "today" for listings.
	Location *time.Location
	Now      func() time.Time
}

// HTTPServer exposes the public booking API and the admin API.
type HTTPServer struct {
	config       Config
	catalog      Catalog
	availability Availability
	bookings     Bookings
	logger       *zerolog.Logger
	server       *http.Server
}

func NewHTTPServer(cfg Config, cat Catalog, avail Availability, bookings Bookings, logger *zerolog.Logger) *HTTPServer {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &HTTPServer{
		config:       cfg,
		catalog:      cat,
		availability: avail,
		bookings:     bookings,
		logger:       logger,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.logRequests(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      2 * cfg.ReadTimeout,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() *httprouter.Router {
	r := httprouter.New()

	r.GET("/api/service-types", s.handleServiceTypes)
	r.GET("/api/working-hours", s.handleWorkingHours)
	r.GET("/api/blocked-dates", s.handleBlockedDates)
	r.GET("/api/availability", s.handleAvailability)
	r.POST("/api/bookings", s.handleCreateBooking)

	r.GET("/api/admin/bookings", s.admin(s.handleListBookings))
	r.GET("/api/admin/bookings/export", s.admin(s.handleExportBookings))
	r.PATCH("/api/admin/bookings/:id", s.admin(s.handleUpdateBooking))
	r.DELETE("/api/admin/bookings/:id", s.admin(s.handleDeleteBooking))
	r.POST("/api/admin/bookings/:id/confirm", s.admin(s.handleConfirmBooking))
	r.POST("/api/admin/bookings/:id/reject", s.admin(s.handleRejectBooking))
	r.POST("/api/admin/bookings/:id/cancel", s.admin(s.handleCancelBooking))
	r.POST("/api/admin/bookings/:id/resync", s.admin(s.handleResyncBooking))

	r.GET("/api/admin/service-types", s.admin(s.handleAllServiceTypes))
	r.POST("/api/admin/date-blocks", s.admin(s.handleAddDateBlock))
	r.DELETE("/api/admin/date-blocks", s.admin(s.handleRemoveDateBlock))
	r.GET("/api/admin/time-blocks", s.admin(s.handleListTimeBlocks))
	r.POST("/api/admin/time-blocks", s.admin(s.handleAddTimeBlock))
	r.DELETE("/api/admin/time-blocks/:id", s.admin(s.handleRemoveTimeBlock))

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, rec interface{}) {
		s.logger.Error().
			Interface("panic", rec).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("stack", string(debug.Stack())).
			Msg("Panic recovered")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
	return r
}

// admin guards a handler with the X-Api-Key header. An empty configured key
// locks the admin API.
func (s *HTTPServer) admin(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := r.Header.Get("X-Api-Key")
		if s.config.AdminAPIKey == "" || key == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminAPIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid X-Api-Key")
			return
		}
		next(w, r, ps)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) today() models.Date {
	return models.DateOf(s.config.Now().In(s.config.Location))
}
