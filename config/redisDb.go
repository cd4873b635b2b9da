package config

import (
	"context"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns nil until Redis is connected; callers treat that as
// "run without a distributed lock".
func GetRedisLock() *redislock.Client {
	return locker
}

func newRedisClient() (*redis.Client, string) {
	redisAddr := EnvString("REDIS_ADDRESS", "")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}
	return redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: EnvString("REDIS_PASSWORD", ""),
		DB:       IntFromEnv("REDIS_DB", 0),
		PoolSize: 20,
	}), redisAddr
}

// ConnectRedis makes a single attempt and sets the global client and lock client.
func ConnectRedis(ctx context.Context) error {
	client, _ := newRedisClient()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	rdb = client
	locker = redislock.New(rdb)
	return nil
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry(ctx context.Context) {
	var attempt int
	for {
		attempt++
		client, redisAddr := newRedisClient()
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return
		}
		_ = client.Close()
		sleep := backoff(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}
