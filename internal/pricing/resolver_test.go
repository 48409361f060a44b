package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
)

const testDay int64 = 1700006400 // 2023-11-15 00:00:00 UTC

func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxPerSecond:   1000,
		MaxPerMinute:   1000,
		FloorDelay:     time.Microsecond,
		BaseRetryDelay: time.Millisecond,
		MaxAttempts:    3,
		CacheTTL:       time.Hour,
	}
}

func successHandler(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		fmt.Fprint(w, `{"Response":"Success","Data":{"Data":[{"time":1699920000,"close":98.7},{"time":1700006400,"close":123.45}]}}`)
	}
}

func TestResolveReturnsClosingPrice(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(successHandler(&calls))
	defer ts.Close()

	r := NewResolver(fastConfig(ts.URL))

	price, err := r.Resolve(context.Background(), testDay, "EUR")
	require.NoError(t, err)
	// The last candle covers the requested day
	assert.Equal(t, "123.45", price.String())
}

func TestResolveCachesByDayAndCurrency(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(successHandler(&calls))
	defer ts.Close()

	r := NewResolver(fastConfig(ts.URL))
	ctx := context.Background()

	// Any timestamp within the same UTC day is the same lookup
	_, err := r.Resolve(ctx, testDay, "EUR")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, testDay+3600, "EUR")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, testDay+86399, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A different currency is a different lookup
	_, err = r.Resolve(ctx, testDay, "USD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// A different day is a different lookup
	_, err = r.Resolve(ctx, testDay+86400, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolveCollapsesConcurrentLookups(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond) // keep the lookup in flight
		fmt.Fprint(w, `{"Response":"Success","Data":{"Data":[{"time":1700006400,"close":50}]}}`)
	}))
	defer ts.Close()

	r := NewResolver(fastConfig(ts.URL))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := r.Resolve(context.Background(), testDay, "EUR")
			assert.NoError(t, err)
			assert.Equal(t, "50", price.String())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveExhaustsAttemptsOnThrottling(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"Response":"Error","Message":"You are over your rate limit"}`)
	}))
	defer ts.Close()

	r := NewResolver(fastConfig(ts.URL))

	_, err := r.Resolve(context.Background(), testDay, "EUR")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePriceUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			fmt.Fprint(w, `{"Response":"Error","Message":"rate limit"}`)
			return
		}
		fmt.Fprint(w, `{"Response":"Success","Data":{"Data":[{"time":1700006400,"close":77}]}}`)
	}))
	defer ts.Close()

	r := NewResolver(fastConfig(ts.URL))
	ctx := context.Background()

	_, err := r.Resolve(ctx, testDay, "EUR")
	require.Error(t, err)

	// The failed lookup was evicted, so the retry reaches the provider
	price, err := r.Resolve(ctx, testDay, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "77", price.String())
	assert.Equal(t, 1, r.CacheSize())
}

func TestResolveEvictsCacheAfterTTL(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(successHandler(&calls))
	defer ts.Close()

	cfg := fastConfig(ts.URL)
	cfg.CacheTTL = 20 * time.Millisecond
	r := NewResolver(cfg)
	ctx := context.Background()

	_, err := r.Resolve(ctx, testDay, "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CacheSize())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, r.CacheSize())

	_, err = r.Resolve(ctx, testDay, "EUR")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestReserveSlotHonorsFloorDelay(t *testing.T) {
	cfg := fastConfig("http://unused")
	cfg.FloorDelay = 30 * time.Millisecond
	r := NewResolver(cfg)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.reserveSlot(ctx))
	}
	// Two gaps of at least the floor between three sends
	assert.GreaterOrEqual(t, time.Since(start), 2*cfg.FloorDelay)
}

func TestReserveSlotHonorsPerSecondCeiling(t *testing.T) {
	cfg := fastConfig("http://unused")
	cfg.MaxPerSecond = 2
	cfg.MaxPerMinute = 1000
	cfg.FloorDelay = time.Microsecond
	r := NewResolver(cfg)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.reserveSlot(ctx))
	}
	// The third send must wait for the first to leave the 1s window
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestDayKeyNormalization(t *testing.T) {
	day, key := dayKey(testDay+12345, "EUR")
	assert.Equal(t, testDay, day)
	assert.Equal(t, fmt.Sprintf("%d_EUR", testDay), key)
}
