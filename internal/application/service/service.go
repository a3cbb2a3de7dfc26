package service

import (
	"context"
	"errors"
	"time"

	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"go.uber.org/zap"
)

//go:generate mockgen -source service.go -destination=mock_service_test.go -package=service

type Cache interface {
	Set(*domain.PersistedOrder)
	Get(string) (*domain.PersistedOrder, bool)
}

type Storage interface {
	GetByID(context.Context, string) (*domain.PersistedOrder, error)
}

// Service serves persisted orders to the read API, cache first.
type Service struct {
	cache   Cache
	storage Storage
	logger  *zap.Logger
	metrics observability.Metrics
}

func NewService(cache Cache, storage Storage, logger *zap.Logger, metrics observability.Metrics) *Service {
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Service{
		cache:   cache,
		storage: storage,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *Service) GetByID(ctx context.Context, orderID string) (*domain.PersistedOrder, error) {
	o, _, err := s.GetByIDWithStats(ctx, orderID)
	return o, err
}

func (s *Service) GetByIDWithStats(ctx context.Context, orderID string) (*domain.PersistedOrder, LookupStats, error) {
	var st LookupStats

	tCacheStart := time.Now()
	if order, ok := s.cache.Get(orderID); ok {
		st.Source = SourceCache
		st.CacheMs = convertToMs(tCacheStart)
		s.metrics.IncCacheHit()
		s.metrics.ObserveLookup(string(st.Source), st.CacheMs, 0)

		s.logger.Debug("Order fetched from cache",
			zap.String("order_id", orderID),
			zap.Float64("cache_ms", st.CacheMs),
		)

		return order, st, nil
	}

	s.metrics.IncCacheMiss()
	st.CacheMs = convertToMs(tCacheStart)

	tDbStart := time.Now()
	order, err := s.storage.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("Order not found",
				zap.String("order_id", orderID),
			)
		} else {
			s.logger.Error("Can't read order",
				zap.String("order_id", orderID),
				zap.Error(err),
				zap.Float64("cache_ms", st.CacheMs),
			)
		}
		return nil, st, err
	}

	st.Source = SourceDB
	st.DBMs = convertToMs(tDbStart)

	s.cache.Set(order)

	s.metrics.ObserveLookup(string(st.Source), st.CacheMs, st.DBMs)
	s.logger.Debug("Order fetched from DB",
		zap.String("order_id", orderID),
		zap.Float64("cache_ms", st.CacheMs),
		zap.Float64("db_ms", st.DBMs),
	)

	return order, st, nil
}
