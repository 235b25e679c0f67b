package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

func TestCacheRepositoryWithoutClientIsReadyAndMisses(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())

	require.NoError(t, repo.Ping(context.Background()))

	var out map[string]string
	err := repo.Get(context.Background(), "plan", &out)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
}

func TestCacheRepositoryPingReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	repo := NewCacheRepository(client, zap.NewNop())

	assert.Error(t, repo.Ping(context.Background()))
}
