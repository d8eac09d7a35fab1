package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/leadflow/pkg/refdata"
)

// NewReferenceData builds the reference data store. It returns a nil store
// when path is empty. With a redisURL the catalogue is shared through Redis;
// the returned close func releases that connection.
func NewReferenceData(ctx context.Context, logger *slog.Logger, path, redisURL string) (*refdata.Store, func() error, error) {
	noop := func() error { return nil }

	if path == "" {
		return nil, noop, nil
	}

	source := refdata.NewFileSource(path)

	if redisURL == "" {
		return refdata.NewStore(source, nil, logger), noop, nil
	}

	client, err := refdata.ConnectRedis(ctx, logger, redisURL)
	if err != nil {
		return nil, noop, err
	}

	cache := refdata.NewRedisCache(client, refdata.DefaultCacheKey, refdata.DefaultCacheTTL)

	return refdata.NewStore(source, cache, logger), client.Close, nil
}
