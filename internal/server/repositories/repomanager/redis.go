package repomanager

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// openRedis is a seam for tests; it connects to a standalone server and pings it.
var openRedis = func(ctx context.Context, addr string) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
