package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestPublishAndTailStream(t *testing.T) {
	_, rdb := setupTestRedis(t)
	ctx := context.Background()

	start, err := LatestStreamID(ctx, rdb, "iot:changes")
	require.NoError(t, err)
	assert.Equal(t, "0-0", start)

	id1, err := PublishJSONToStream(ctx, rdb, "iot:changes", 0, map[string]string{"table": "devices"})
	require.NoError(t, err)
	_, err = PublishToStream(ctx, rdb, "iot:changes", 0, map[string]interface{}{"n": 3, "ok": true})
	require.NoError(t, err)

	msgs, err := TailStream(ctx, rdb, "iot:changes", start, 10, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)
	assert.Equal(t, `{"table":"devices"}`, msgs[0].Values["data"])
	assert.Equal(t, "3", msgs[1].Values["n"])
	assert.Equal(t, "true", msgs[1].Values["ok"])

	// 从最后一条之后读取：无新消息
	msgs, err = TailStream(ctx, rdb, "iot:changes", msgs[1].ID, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	latest, err := LatestStreamID(ctx, rdb, "iot:changes")
	require.NoError(t, err)
	assert.NotEqual(t, "0-0", latest)
}
