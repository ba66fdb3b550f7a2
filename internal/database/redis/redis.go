package redis

import (
	"context"
	"time"

	"pattern-analysis-service/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewClient builds the snapshot cache client. An unreachable server is only
// logged because the cache is optional for the pipeline.
func NewClient(cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Address).Msg("Error connecting to Redis")
	} else {
		log.Info().Str("addr", cfg.Address).Msg("Connected to Redis")
	}

	return client
}
