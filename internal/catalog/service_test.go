package catalog

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]models.ServiceType), args.Error(1)
}
func (m *mockRepo) GetServiceType(ctx context.Context, id int64) (*models.ServiceType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ServiceType), args.Error(1)
}
func (m *mockRepo) ListWorkingHours(ctx context.Context) ([]models.WorkingHours, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.WorkingHours), args.Error(1)
}
func (m *mockRepo) IsDateBlocked(ctx context.Context, d models.Date) (bool, error) {
	args := m.Called(ctx, d)
	return args.Bool(0), args.Error(1)
}
func (m *mockRepo) ListDateBlocks(ctx context.Context, from *models.Date) ([]models.DateBlock, error) {
	args := m.Called(ctx, from)
	return args.Get(0).([]models.DateBlock), args.Error(1)
}
func (m *mockRepo) AddDateBlock(ctx context.Context, d models.Date, r string) error {
	return m.Called(ctx, d, r).Error(0)
}
func (m *mockRepo) RemoveDateBlock(ctx context.Context, d models.Date) error {
	return m.Called(ctx, d).Error(0)
}
func (m *mockRepo) TimeRangeBlocksFor(ctx context.Context, d models.Date, id int64) ([]models.TimeRangeBlock, error) {
	args := m.Called(ctx, d, id)
	return args.Get(0).([]models.TimeRangeBlock), args.Error(1)
}
func (m *mockRepo) ListTimeRangeBlocks(ctx context.Context, from models.Date) ([]models.TimeRangeBlock, error) {
	args := m.Called(ctx, from)
	return args.Get(0).([]models.TimeRangeBlock), args.Error(1)
}
func (m *mockRepo) AddTimeRangeBlock(ctx context.Context, b *models.TimeRangeBlock) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) RemoveTimeRangeBlock(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) SyncCatalogFromConfig(ctx context.Context, cfg *config.CatalogConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

var portrait = models.ServiceType{ID: 1, Name: "Portrait", Slug: "portrait", DurationMinutes: 60, IsActive: true}

func newCachedService(t *testing.T) (*Service, *mockRepo, *miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.New(io.Discard)
	repo := new(mockRepo)
	cache := NewCache(client, time.Minute, &logger)
	return NewService(repo, cache, &logger), repo, mr, cache
}

func TestService_CachedReads(t *testing.T) {
	svc, repo, mr, _ := newCachedService(t)
	ctx := context.Background()

	repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{portrait}, nil).Once()

	first, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	second, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(keyServiceTypes))
	repo.AssertExpectations(t)

	t.Run("active lookup uses the cached list", func(t *testing.T) {
		st, err := svc.GetActiveServiceType(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "portrait", st.Slug)

		_, err = svc.GetActiveServiceType(ctx, 5)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		repo.AssertExpectations(t)
	})

	t.Run("working hours by weekday", func(t *testing.T) {
		repo.On("ListWorkingHours", mock.Anything).Return([]models.WorkingHours{
			{DayOfWeek: 2, IsWorkingDay: true, OpenTime: models.MustTimeOfDay("09:00"), CloseTime: models.MustTimeOfDay("17:00")},
		}, nil).Once()

		wh, err := svc.WorkingHoursFor(ctx, time.Tuesday)
		require.NoError(t, err)
		require.NotNil(t, wh)
		assert.Equal(t, "09:00", wh.OpenTime.String())

		none, err := svc.WorkingHoursFor(ctx, time.Monday)
		require.NoError(t, err)
		assert.Nil(t, none)
		repo.AssertExpectations(t)
	})
}

func TestService_ApplyConfigInvalidates(t *testing.T) {
	svc, repo, mr, _ := newCachedService(t)
	ctx := context.Background()
	cfg := &config.CatalogConfig{ServiceTypes: []config.ServiceTypeConfig{{ID: 1, Name: "Portrait", DurationMinutes: 60}}}

	repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{portrait}, nil).Twice()
	repo.On("SyncCatalogFromConfig", mock.Anything, cfg).Return(nil).Once()

	_, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.ApplyConfig(ctx, cfg))
	assert.False(t, mr.Exists(keyServiceTypes))

	_, err = svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestCache_Failover(t *testing.T) {
	svc, repo, mr, cache := newCachedService(t)
	ctx := context.Background()

	t.Run("RedisDownFallsBackToRepository", func(t *testing.T) {
		mr.Close()
		repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{portrait}, nil).Twice()

		got, err := svc.ListServiceTypes(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.True(t, cache.isDown.Load())

		_, err = svc.ListServiceTypes(ctx)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		require.NoError(t, mr.Restart())
		cache.mu.Lock()
		cache.lastCheck = time.Now().Add(-2 * time.Minute)
		cache.mu.Unlock()

		repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{portrait}, nil).Once()

		_, err := svc.ListServiceTypes(ctx)
		require.NoError(t, err)
		assert.False(t, cache.isDown.Load())
		assert.True(t, mr.Exists(keyServiceTypes))
		repo.AssertExpectations(t)
	})
}

func TestCache_InvalidateWhileDown(t *testing.T) {
	svc, repo, mr, cache := newCachedService(t)
	ctx := context.Background()

	repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{portrait}, nil).Once()
	_, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(keyServiceTypes))

	mr.Close()
	cache.Invalidate(ctx)
	assert.True(t, cache.isDown.Load())
	assert.True(t, cache.stale.Load())

	require.NoError(t, mr.Restart())
	require.True(t, mr.Exists(keyServiceTypes), "the key outlived the outage")
	cache.mu.Lock()
	cache.lastCheck = time.Now().Add(-2 * time.Minute)
	cache.mu.Unlock()

	renamed := portrait
	renamed.Name = "Portrait Studio"
	repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType{renamed}, nil).Once()

	got, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Portrait Studio", got[0].Name, "stale entry is not served after recovery")
	assert.False(t, cache.stale.Load())
	assert.False(t, cache.isDown.Load())
	repo.AssertExpectations(t)
}

func TestService_WithoutCache(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	repo.On("ListServiceTypes", mock.Anything, true).Return([]models.ServiceType(nil), nil).Twice()

	types, err := svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	assert.NotNil(t, types, "empty catalog serialises as an empty list")

	_, err = svc.ListServiceTypes(ctx)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_Blocks(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	date := models.MustDate("2025-06-10")

	t.Run("AddDateBlock", func(t *testing.T) {
		repo.On("AddDateBlock", ctx, date, "holiday").Return(nil).Once()
		require.NoError(t, svc.AddDateBlock(ctx, date, "holiday"))
		assert.True(t, errors.Is(svc.AddDateBlock(ctx, models.Date{}, ""), domain.ErrValidation))
	})

	t.Run("AddTimeRangeBlock validation", func(t *testing.T) {
		err := svc.AddTimeRangeBlock(ctx, &models.TimeRangeBlock{
			Date: date, StartTime: models.MustTimeOfDay("14:00"), EndTime: models.MustTimeOfDay("13:00"),
		})
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("AddTimeRangeBlock unknown service type", func(t *testing.T) {
		id := int64(9)
		repo.On("GetServiceType", ctx, id).Return(nil, domain.NotFoundError("service type", id)).Once()
		err := svc.AddTimeRangeBlock(ctx, &models.TimeRangeBlock{
			Date: date, StartTime: models.MustTimeOfDay("13:00"), EndTime: models.MustTimeOfDay("14:00"), ServiceTypeID: &id,
		})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("AddTimeRangeBlock scoped", func(t *testing.T) {
		id := int64(1)
		block := &models.TimeRangeBlock{
			Date: date, StartTime: models.MustTimeOfDay("13:00"), EndTime: models.MustTimeOfDay("14:00"), ServiceTypeID: &id,
		}
		repo.On("GetServiceType", ctx, id).Return(&portrait, nil).Once()
		repo.On("AddTimeRangeBlock", ctx, block).Return(nil).Once()
		require.NoError(t, svc.AddTimeRangeBlock(ctx, block))
	})

	repo.AssertExpectations(t)
}
