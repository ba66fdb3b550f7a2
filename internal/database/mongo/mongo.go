package mongo

import (
	"context"
	"fmt"
	"time"

	"pattern-analysis-service/internal/config"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	minPoolSize     = uint64(10)
	maxConnIdleTime = 60 * time.Second
	maxConnecting   = uint64(2)
)

// Connect opens a pooled client and returns it with the configured database.
// A failed ping is logged but not fatal; the driver reconnects on demand.
func Connect(cfg config.MongoDBConfig) (*mongo.Client, *mongo.Database, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerAPIOptions(serverAPI).
		SetMaxPoolSize(cfg.PoolSize).
		SetMinPoolSize(minPoolSize).
		SetMaxConnIdleTime(maxConnIdleTime).
		SetMaxConnecting(maxConnecting).
		SetConnectTimeout(cfg.Timeout).
		SetCompressors([]string{"zstd", "snappy", "zlib"}).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		log.Warn().Err(err).Msg("Could not verify MongoDB connection")
	} else {
		log.Info().Msg("Successfully connected to MongoDB")
	}

	log.Info().
		Str("database", cfg.Database).
		Uint64("max_pool_size", cfg.PoolSize).
		Msg("MongoDB initialized")

	return client, client.Database(cfg.Database), nil
}

func Disconnect(client *mongo.Client) {
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error disconnecting from MongoDB")
		return
	}
	log.Info().Msg("Successfully disconnected from MongoDB")
}

// IsConnected pings with a short timeout; it backs the health endpoint.
func IsConnected(ctx context.Context, client *mongo.Client) bool {
	if client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return client.Ping(ctx, nil) == nil
}
