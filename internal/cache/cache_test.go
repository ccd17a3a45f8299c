package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordKeyRoundsToOneDecimal(t *testing.T) {
	assert.Equal(t, "weather:35.0:-85.3", CoordKey("weather", 35.0456, -85.3097))
	assert.Equal(t, "sun:51.5:-0.1", CoordKey("sun", 51.5074, -0.1278))
}

func TestRedisGetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(mr.Addr(), "", 0)
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(got))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Ping(ctx))
}

func TestRedisFromClientKeepsClientOptions(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 2}))
	defer c.Close()

	require.NoError(t, c.Set(context.Background(), "geocode:reverse:35.0:-85.3", []byte("Chattanooga"), time.Hour))
	got, err := mr.DB(2).Get("geocode:reverse:35.0:-85.3")
	require.NoError(t, err)
	assert.Equal(t, "Chattanooga", got)
	assert.False(t, mr.Exists("geocode:reverse:35.0:-85.3"))
}

func TestThroughCachesLoads(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(mr.Addr(), "", 0)
	defer c.Close()

	calls := 0
	load := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"ok":true}`), nil
	}

	b, res, err := Through(context.Background(), c, "x", time.Minute, load, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultMiss, res)
	assert.Equal(t, `{"ok":true}`, string(b))

	_, res, err = Through(context.Background(), c, "x", time.Minute, load, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultHit, res)
	assert.Equal(t, 1, calls)
}

func TestThroughFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(mr.Addr(), "", 0)
	defer c.Close()
	mr.Close()

	var cacheErrs int
	b, res, err := Through(context.Background(), c, "x", time.Minute,
		func(context.Context) ([]byte, error) { return []byte("fresh"), nil },
		func(error) { cacheErrs++ })
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(b))
	assert.Equal(t, ResultError, res)
	assert.Equal(t, 2, cacheErrs)
}

func TestThroughDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(mr.Addr(), "", 0)
	defer c.Close()

	boom := errors.New("backend down")
	_, _, err := Through(context.Background(), c, "x", time.Minute,
		func(context.Context) ([]byte, error) { return nil, boom }, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("x"))
}

func TestNilCacheBehavesLikeNop(t *testing.T) {
	b, res, err := Through(context.Background(), nil, "x", time.Minute,
		func(context.Context) ([]byte, error) { return []byte("v"), nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultMiss, res)
	assert.Equal(t, "v", string(b))
}
