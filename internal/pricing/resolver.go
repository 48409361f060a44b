// Package pricing resolves historical daily asset prices with strict
// client-side rate governance.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/GoofyComponent/GoofyChain/internal/errors"
	"github.com/GoofyComponent/GoofyChain/internal/logging"
)

const (
	defaultBaseURL = "https://min-api.cryptocompare.com/data"

	// Request ceilings with an API key
	keyedPerSecond = 15
	keyedPerMinute = 250

	// Request ceilings for anonymous access
	anonPerSecond = 5
	anonPerMinute = 50
)

// Config controls the resolver's provider access and pacing discipline.
// Zero values fall back to production defaults; tests override the delays
// and ceilings to keep runs fast.
type Config struct {
	APIKey  string
	BaseURL string

	MaxPerSecond   int
	MaxPerMinute   int
	FloorDelay     time.Duration // minimum spacing between any two requests
	BaseRetryDelay time.Duration
	MaxAttempts    int
	CacheTTL       time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxPerSecond <= 0 {
		if cfg.APIKey != "" {
			cfg.MaxPerSecond = keyedPerSecond
		} else {
			cfg.MaxPerSecond = anonPerSecond
		}
	}
	if cfg.MaxPerMinute <= 0 {
		if cfg.APIKey != "" {
			cfg.MaxPerMinute = keyedPerMinute
		} else {
			cfg.MaxPerMinute = anonPerMinute
		}
	}
	if cfg.FloorDelay <= 0 {
		cfg.FloorDelay = 300 * time.Millisecond
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return cfg
}

// lookup is one in-flight price fetch. Waiters block on done; the result is
// read from the struct fields afterwards so every waiter sees it.
type lookup struct {
	done  chan struct{}
	price decimal.Decimal
	err   error
}

// Resolver fetches historical daily closing prices for ETH. Concurrent
// requests for the same (day, currency) collapse into a single provider
// call, successful results are cached for a TTL, and all outbound traffic
// is paced below the provider's published ceilings.
type Resolver struct {
	cfg    Config
	client *http.Client

	mu           sync.Mutex
	secondWindow []time.Time // reserved send times within the last second
	minuteWindow []time.Time // reserved send times within the last minute
	lastSend     time.Time
	retryMult    int

	cache    map[string]decimal.Decimal
	inflight map[string]*lookup
}

// NewResolver creates a price resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		cfg:       cfg.withDefaults(),
		client:    &http.Client{Timeout: 15 * time.Second},
		retryMult: 1,
		cache:     make(map[string]decimal.Decimal),
		inflight:  make(map[string]*lookup),
	}
}

// dayKey normalizes a timestamp to its UTC day and joins it with the
// currency into the cache identity.
func dayKey(dayUnix int64, currency string) (int64, string) {
	day := dayUnix - dayUnix%86400
	return day, fmt.Sprintf("%d_%s", day, currency)
}

// Resolve returns the closing price of ETH in the given currency for the UTC
// day containing tsUnix. Identical concurrent lookups share one provider
// call; failed lookups are not cached, so a later retry hits the provider
// again.
func (r *Resolver) Resolve(ctx context.Context, tsUnix int64, currency string) (decimal.Decimal, error) {
	day, key := dayKey(tsUnix, currency)

	r.mu.Lock()
	if price, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return price, nil
	}
	if lk, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-lk.done:
			return lk.price, lk.err
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	lk := &lookup{done: make(chan struct{})}
	r.inflight[key] = lk
	r.mu.Unlock()

	price, err := r.fetchPrice(ctx, day, currency)

	r.mu.Lock()
	delete(r.inflight, key)
	if err == nil {
		r.cache[key] = price
		time.AfterFunc(r.cfg.CacheTTL, func() {
			r.mu.Lock()
			delete(r.cache, key)
			r.mu.Unlock()
		})
	}
	r.mu.Unlock()

	lk.price = price
	lk.err = err
	close(lk.done)

	return price, err
}

// fetchPrice queries the provider with retries. Provider-side throttling
// responses back off with a shared multiplier that doubles per rejection up
// to a cap and resets on the first success.
func (r *Resolver) fetchPrice(ctx context.Context, day int64, currency string) (decimal.Decimal, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"day":      day,
		"currency": currency,
	})

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := r.reserveSlot(ctx); err != nil {
			return decimal.Zero, err
		}

		price, retryable, err := r.queryProvider(ctx, day, currency)
		if err == nil {
			r.mu.Lock()
			r.retryMult = 1
			r.mu.Unlock()
			return price, nil
		}

		lastErr = err
		if !retryable {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Price lookup throttled, backing off")
		if attempt < r.cfg.MaxAttempts {
			if err := r.backoffWait(ctx); err != nil {
				return decimal.Zero, err
			}
		}
	}

	return decimal.Zero, apperrors.NewPriceUnavailableError(day, currency, lastErr)
}

// queryProvider performs a single histoday request. The second return value
// reports whether the failure is worth retrying.
func (r *Resolver) queryProvider(ctx context.Context, day int64, currency string) (decimal.Decimal, bool, error) {
	url := fmt.Sprintf("%s/v2/histoday?fsym=ETH&tsym=%s&limit=1&toTs=%d", r.cfg.BaseURL, currency, day)
	if r.cfg.APIKey != "" {
		url += "&api_key=" + r.cfg.APIKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, true, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, true, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, string(body))
	}

	var raw struct {
		Response string `json:"Response"`
		Message  string `json:"Message"`
		Data     struct {
			Data []struct {
				Time  int64       `json:"time"`
				Close json.Number `json:"close"`
			} `json:"Data"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, true, fmt.Errorf("failed to parse response: %w", err)
	}

	if raw.Response == "Error" {
		return decimal.Zero, true, fmt.Errorf("price API error: %s", raw.Message)
	}
	if len(raw.Data.Data) == 0 {
		return decimal.Zero, false, fmt.Errorf("no price data for day %d", day)
	}

	// histoday with limit=1 returns two candles; the last one covers toTs
	candle := raw.Data.Data[len(raw.Data.Data)-1]
	price, err := decimal.NewFromString(candle.Close.String())
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid close price %q: %w", candle.Close, err)
	}
	if price.IsZero() {
		return decimal.Zero, false, fmt.Errorf("provider returned zero price for day %d", day)
	}

	return price, false, nil
}

// reserveSlot claims the next permissible send time under the request
// ceilings and the per-request floor, then sleeps until it arrives. The
// claim is recorded before unlocking so concurrent reservations stack
// behind each other instead of racing for the same slot.
func (r *Resolver) reserveSlot(ctx context.Context) error {
	r.mu.Lock()

	candidate := time.Now()
	if !r.lastSend.IsZero() {
		if t := r.lastSend.Add(r.cfg.FloorDelay); t.After(candidate) {
			candidate = t
		}
	}

	r.secondWindow = pruneWindow(r.secondWindow, candidate.Add(-time.Second))
	r.minuteWindow = pruneWindow(r.minuteWindow, candidate.Add(-time.Minute))

	if len(r.secondWindow) >= r.cfg.MaxPerSecond {
		if t := r.secondWindow[len(r.secondWindow)-r.cfg.MaxPerSecond].Add(time.Second); t.After(candidate) {
			candidate = t
		}
	}
	if len(r.minuteWindow) >= r.cfg.MaxPerMinute {
		if t := r.minuteWindow[len(r.minuteWindow)-r.cfg.MaxPerMinute].Add(time.Minute); t.After(candidate) {
			candidate = t
		}
	}

	r.secondWindow = append(r.secondWindow, candidate)
	r.minuteWindow = append(r.minuteWindow, candidate)
	r.lastSend = candidate
	r.mu.Unlock()

	wait := time.Until(candidate)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// pruneWindow drops reservations at or before the cutoff. Entries are
// appended in nondecreasing order, so a prefix scan suffices.
func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// backoffWait sleeps for the current backoff delay and doubles the shared
// multiplier, capped at 8x.
func (r *Resolver) backoffWait(ctx context.Context) error {
	r.mu.Lock()
	delay := r.cfg.BaseRetryDelay * time.Duration(r.retryMult)
	r.retryMult *= 2
	if r.retryMult > 8 {
		r.retryMult = 8
	}
	r.mu.Unlock()

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// CacheSize reports the number of cached prices, for observability.
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
