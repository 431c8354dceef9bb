package oracle_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"StableLedger/internal/oracle"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func solQuote(at time.Time) oracle.PriceQuote {
	return oracle.PriceQuote{
		FeedID:     oracle.SOLUSDFeedID,
		Mantissa:   2_500_000_000,
		Exponent:   -8,
		ObservedAt: at,
	}
}

func TestQuote_Normalized(t *testing.T) {
	p, err := solQuote(t0).Normalized()
	require.NoError(t, err)
	assert.Equal(t, uint64(25), p)
}

func TestValidate(t *testing.T) {
	q := solQuote(t0)

	require.NoError(t, oracle.Validate(q, oracle.SOLUSDFeedID, t0.Add(60*time.Second), oracle.DefaultMaxAge))
	require.NoError(t, oracle.Validate(q, "0x"+strings.ToUpper(oracle.SOLUSDFeedID), t0, oracle.DefaultMaxAge))
	require.NoError(t, oracle.Validate(q, oracle.SOLUSDFeedID, t0.Add(-time.Second), oracle.DefaultMaxAge), "future quote")

	err := oracle.Validate(q, oracle.SOLUSDFeedID, t0.Add(61*time.Second), oracle.DefaultMaxAge)
	require.ErrorIs(t, err, oracle.ErrStalePrice)

	err = oracle.Validate(q, "deadbeef", t0, oracle.DefaultMaxAge)
	require.ErrorIs(t, err, oracle.ErrOracleFeedMismatch)
}

func TestStaticOracle(t *testing.T) {
	s := oracle.NewStaticOracle(solQuote(t0))

	q, err := s.Fetch(context.Background(), "0x"+oracle.SOLUSDFeedID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), q.Mantissa)

	_, err = s.Fetch(context.Background(), "other")
	require.ErrorIs(t, err, oracle.ErrNoQuote)

	boom := errors.New("boom")
	s.Fail(boom)
	_, err = s.Fetch(context.Background(), oracle.SOLUSDFeedID)
	require.ErrorIs(t, err, boom)
}

// ============================================================================
// Hermes HTTP
// ============================================================================

func hermesBody(id string, price string, expo int32, publish int64) string {
	return fmt.Sprintf(`[{"id":%q,"price":{"price":%q,"conf":"1500000","expo":%d,"publish_time":%d},`+
		`"ema_price":{"price":%q,"conf":"1","expo":%d,"publish_time":%d}}]`,
		id, price, expo, publish, price, expo, publish)
}

func TestHermesClient_Fetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest_price_feeds", r.URL.Path)
		gotQuery = r.URL.Query().Get("ids[]")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, hermesBody(oracle.SOLUSDFeedID, "2500000000", -8, t0.Unix()))
	}))
	defer srv.Close()

	c := oracle.NewHermesClient(srv.URL, 100, 10, zerolog.Nop())
	q, err := c.Fetch(context.Background(), "0x"+oracle.SOLUSDFeedID)
	require.NoError(t, err)

	assert.Equal(t, oracle.SOLUSDFeedID, gotQuery)
	assert.Equal(t, int64(2_500_000_000), q.Mantissa)
	assert.Equal(t, int32(-8), q.Exponent)
	assert.Equal(t, uint64(1_500_000), q.Confidence)
	assert.True(t, q.ObservedAt.Equal(t0))
}

func TestHermesClient_Errors(t *testing.T) {
	status := http.StatusOK
	body := "[]"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := oracle.NewHermesClient(srv.URL, 100, 10, zerolog.Nop())

	_, err := c.Fetch(context.Background(), oracle.SOLUSDFeedID)
	require.ErrorIs(t, err, oracle.ErrNoQuote)

	status = http.StatusInternalServerError
	_, err = c.Fetch(context.Background(), oracle.SOLUSDFeedID)
	require.Error(t, err)

	status = http.StatusOK
	body = hermesBody(oracle.SOLUSDFeedID, "not-a-number", -8, 1)
	_, err = c.Fetch(context.Background(), oracle.SOLUSDFeedID)
	require.Error(t, err)
}

func TestHermesClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hermesBody(oracle.SOLUSDFeedID, "1", 0, 1))
	}))
	defer srv.Close()

	c := oracle.NewHermesClient(srv.URL, 0.001, 1, zerolog.Nop())
	_, err := c.Fetch(context.Background(), oracle.SOLUSDFeedID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, oracle.SOLUSDFeedID)
	require.Error(t, err)
}

// ============================================================================
// Websocket stream
// ============================================================================

func TestStream_DeliversPriceUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "response", "result": "success"})
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"price_update","price_feed":`+strings.Trim(hermesBody("0x"+oracle.SOLUSDFeedID, "2500000000", -8, t0.Unix()), "[]")+`}`))

		// Hold the connection until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := oracle.NewStream(wsURL, []string{oracle.SOLUSDFeedID}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan oracle.PriceQuote, 1)
	go stream.Run(ctx, func(_ context.Context, q oracle.PriceQuote) error {
		select {
		case got <- q:
		default:
		}
		return nil
	})

	select {
	case q := <-got:
		assert.Equal(t, oracle.SOLUSDFeedID, q.FeedID)
		assert.Equal(t, int64(2_500_000_000), q.Mantissa)
	case <-ctx.Done():
		t.Fatal("no price update received")
	}
}

// ============================================================================
// Caches
// ============================================================================

func TestMemoryCache_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	c := oracle.NewMemoryCache()

	_, err := c.Get(ctx, oracle.SOLUSDFeedID)
	require.ErrorIs(t, err, oracle.ErrNoQuote)

	newer := solQuote(t0.Add(time.Second))
	older := solQuote(t0)
	older.Mantissa = 1

	require.NoError(t, c.Put(ctx, newer))
	require.NoError(t, c.Put(ctx, older))

	q, err := c.Get(ctx, "0x"+oracle.SOLUSDFeedID)
	require.NoError(t, err)
	assert.Equal(t, newer.Mantissa, q.Mantissa)
}

type countingOracle struct {
	mu    sync.Mutex
	calls int
	q     oracle.PriceQuote
	err   error
}

func (c *countingOracle) Fetch(context.Context, string) (oracle.PriceQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.q, c.err
}

func TestCachedOracle_FallbackAndWriteBack(t *testing.T) {
	ctx := context.Background()
	store := oracle.NewMemoryCache()
	up := &countingOracle{q: solQuote(time.Now())}

	c := oracle.NewCachedOracle(store, up, time.Minute)

	_, err := c.Fetch(ctx, oracle.SOLUSDFeedID)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, oracle.SOLUSDFeedID)
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls, "second fetch should hit the cache")
}

func TestCachedOracle_ServesOldQuoteWhenUpstreamFails(t *testing.T) {
	ctx := context.Background()
	store := oracle.NewMemoryCache()
	require.NoError(t, store.Put(ctx, solQuote(t0)))

	up := &countingOracle{err: errors.New("down")}
	c := oracle.NewCachedOracle(store, up, time.Second)

	q, err := c.Fetch(ctx, oracle.SOLUSDFeedID)
	require.NoError(t, err)
	assert.True(t, q.ObservedAt.Equal(t0))
	assert.Equal(t, 1, up.calls)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	c := oracle.NewRedisCache(rdb, fmt.Sprintf("stable-test-%d", time.Now().UnixNano()), time.Minute)

	_, err := c.Get(ctx, oracle.SOLUSDFeedID)
	require.ErrorIs(t, err, oracle.ErrNoQuote)

	require.NoError(t, c.Put(ctx, solQuote(t0.Add(time.Second))))
	stale := solQuote(t0)
	stale.Mantissa = 7
	require.NoError(t, c.Put(ctx, stale))

	q, err := c.Get(ctx, oracle.SOLUSDFeedID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), q.Mantissa)
	assert.True(t, q.ObservedAt.Equal(t0.Add(time.Second)))
}
