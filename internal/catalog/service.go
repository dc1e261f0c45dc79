package catalog

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Repository is the persistent catalog store.
type Repository interface {
	ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error)
	GetServiceType(ctx context.Context, id int64) (*models.ServiceType, error)
	ListWorkingHours(ctx context.Context) ([]models.WorkingHours, error)
	IsDateBlocked(ctx context.Context, date models.Date) (bool, error)
	ListDateBlocks(ctx context.Context, from *models.Date) ([]models.DateBlock, error)
	AddDateBlock(ctx context.Context, date models.Date, reason string) error
	RemoveDateBlock(ctx context.Context, date models.Date) error
	TimeRangeBlocksFor(ctx context.Context, date models.Date, serviceTypeID int64) ([]models.TimeRangeBlock, error)
	ListTimeRangeBlocks(ctx context.Context, from models.Date) ([]models.TimeRangeBlock, error)
	AddTimeRangeBlock(ctx context.Context, b *models.TimeRangeBlock) error
	RemoveTimeRangeBlock(ctx context.Context, id int64) error
	SyncCatalogFromConfig(ctx context.Context, cfg *config.CatalogConfig) error
}

// Service serves the working-hours and block catalogs. Service types and
// weekly hours are read through the cache; blocks always hit the database.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *zerolog.Logger
}

// NewService builds a catalog service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// ListServiceTypes returns active service types in display order.
func (s *Service) ListServiceTypes(ctx context.Context) ([]models.ServiceType, error) {
	var cached []models.ServiceType
	if s.cache.read(ctx, keyServiceTypes, &cached) {
		return cached, nil
	}

	types, err := s.repo.ListServiceTypes(ctx, true)
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = []models.ServiceType{}
	}
	s.cache.write(ctx, keyServiceTypes, types)
	return types, nil
}

// AllServiceTypes includes inactive types.
func (s *Service) AllServiceTypes(ctx context.Context) ([]models.ServiceType, error) {
	return s.repo.ListServiceTypes(ctx, false)
}

// GetActiveServiceType returns the type only when it exists and is active.
func (s *Service) GetActiveServiceType(ctx context.Context, id int64) (*models.ServiceType, error) {
	types, err := s.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if types[i].ID == id {
			return &types[i], nil
		}
	}
	return nil, domain.NotFoundError("service type", id)
}

// GetServiceType returns a type regardless of its active flag.
func (s *Service) GetServiceType(ctx context.Context, id int64) (*models.ServiceType, error) {
	return s.repo.GetServiceType(ctx, id)
}

// ListWorkingHours returns the weekly schedule, Sunday first.
func (s *Service) ListWorkingHours(ctx context.Context) ([]models.WorkingHours, error) {
	var cached []models.WorkingHours
	if s.cache.read(ctx, keyWorkingHours, &cached) {
		return cached, nil
	}

	hours, err := s.repo.ListWorkingHours(ctx)
	if err != nil {
		return nil, err
	}
	if hours == nil {
		hours = []models.WorkingHours{}
	}
	s.cache.write(ctx, keyWorkingHours, hours)
	return hours, nil
}

// WorkingHoursFor returns the entry for a weekday, or nil when none exists.
func (s *Service) WorkingHoursFor(ctx context.Context, day time.Weekday) (*models.WorkingHours, error) {
	hours, err := s.ListWorkingHours(ctx)
	if err != nil {
		return nil, err
	}
	for i := range hours {
		if hours[i].DayOfWeek == int(day) {
			return &hours[i], nil
		}
	}
	return nil, nil
}

func (s *Service) IsDateBlocked(ctx context.Context, date models.Date) (bool, error) {
	return s.repo.IsDateBlocked(ctx, date)
}

// ListBlockedDates returns whole-day blocks, optionally from a date on.
func (s *Service) ListBlockedDates(ctx context.Context, from *models.Date) ([]models.DateBlock, error) {
	blocks, err := s.repo.ListDateBlocks(ctx, from)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []models.DateBlock{}
	}
	return blocks, nil
}

func (s *Service) AddDateBlock(ctx context.Context, date models.Date, reason string) error {
	if date.IsZero() {
		return domain.NewValidationError("date", "is required")
	}
	if err := s.repo.AddDateBlock(ctx, date, reason); err != nil {
		return err
	}
	s.logger.Info().Str("date", date.String()).Str("reason", reason).Msg("Date blocked")
	return nil
}

func (s *Service) RemoveDateBlock(ctx context.Context, date models.Date) error {
	return s.repo.RemoveDateBlock(ctx, date)
}

// TimeRangeBlocksFor returns the global blocks plus those scoped to serviceTypeID.
func (s *Service) TimeRangeBlocksFor(ctx context.Context, date models.Date, serviceTypeID int64) ([]models.TimeRangeBlock, error) {
	return s.repo.TimeRangeBlocksFor(ctx, date, serviceTypeID)
}

func (s *Service) ListTimeRangeBlocks(ctx context.Context, from models.Date) ([]models.TimeRangeBlock, error) {
	blocks, err := s.repo.ListTimeRangeBlocks(ctx, from)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []models.TimeRangeBlock{}
	}
	return blocks, nil
}

// AddTimeRangeBlock validates and stores a partial-day block.
func (s *Service) AddTimeRangeBlock(ctx context.Context, b *models.TimeRangeBlock) error {
	verr := &domain.ValidationError{}
	if b.Date.IsZero() {
		verr.Add("date", "is required")
	}
	if b.StartTime >= b.EndTime {
		verr.Add("end_time", "must be after start_time")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if b.ServiceTypeID != nil {
		if _, err := s.repo.GetServiceType(ctx, *b.ServiceTypeID); err != nil {
			return fmt.Errorf("time range block: %w", err)
		}
	}

	if err := s.repo.AddTimeRangeBlock(ctx, b); err != nil {
		return err
	}
	s.logger.Info().
		Int64("block_id", b.ID).
		Str("date", b.Date.String()).
		Str("start", b.StartTime.String()).
		Str("end", b.EndTime.String()).
		Msg("Time range blocked")
	return nil
}

func (s *Service) RemoveTimeRangeBlock(ctx context.Context, id int64) error {
	return s.repo.RemoveTimeRangeBlock(ctx, id)
}

// ApplyConfig writes catalog.yaml into the database and drops cached reads.
func (s *Service) ApplyConfig(ctx context.Context, cfg *config.CatalogConfig) error {
	if err := s.repo.SyncCatalogFromConfig(ctx, cfg); err != nil {
		return fmt.Errorf("apply catalog config: %w", err)
	}
	s.cache.Invalidate(ctx)
	s.logger.Info().Str("catalog", cfg.String()).Msg("Catalog synced from config")
	return nil
}
