package marketdata

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the cached front of the fetcher. All tool-facing market data
// reads go through here.
type Service struct {
	fetcher *Fetcher
	cache   *Cache
	log     zerolog.Logger
}

// NewService creates a new market data service
func NewService(fetcher *Fetcher, cache *Cache, log zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		log:     log.With().Str("service", "marketdata").Logger(),
	}
}

// GetQuote returns the latest quote for a symbol, cached
func (s *Service) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	key := quoteCacheKey(symbol)

	var cached Quote
	if s.cache.get(key, &cached) {
		return &cached, nil
	}

	quote, err := s.fetcher.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cache.set(key, quote)
	return quote, nil
}

// GetCandles returns OHLCV bars for a query, cached per normalized query
func (s *Service) GetCandles(ctx context.Context, query CandleQuery) (*CandleSeries, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	key := query.cacheKey()

	var cached CandleSeries
	if s.cache.get(key, &cached) {
		return &cached, nil
	}

	series, err := s.fetcher.Candles(ctx, query)
	if err != nil {
		return nil, err
	}

	s.cache.set(key, series)
	return series, nil
}

// GetNewsReport returns the plain-text news and sentiment report, cached
func (s *Service) GetNewsReport(ctx context.Context, symbol string) (string, error) {
	key := newsCacheKey(symbol)

	var cached string
	if s.cache.get(key, &cached) {
		return cached, nil
	}

	report, err := s.fetcher.NewsReport(ctx, symbol)
	if err != nil {
		return "", err
	}

	s.cache.set(key, report)
	return report, nil
}
