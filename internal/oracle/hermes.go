package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// hermesPrice is one price object as served by the Hermes price service.
// Integer fields arrive as decimal strings.
type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesFeed struct {
	ID       string      `json:"id"`
	Price    hermesPrice `json:"price"`
	EMAPrice hermesPrice `json:"ema_price"`
}

func (f hermesFeed) quote() (PriceQuote, error) {
	mantissa, err := strconv.ParseInt(f.Price.Price, 10, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("feed %s: bad price %q: %w", f.ID, f.Price.Price, err)
	}
	var conf uint64
	if f.Price.Conf != "" {
		conf, err = strconv.ParseUint(f.Price.Conf, 10, 64)
		if err != nil {
			return PriceQuote{}, fmt.Errorf("feed %s: bad conf %q: %w", f.ID, f.Price.Conf, err)
		}
	}
	return PriceQuote{
		FeedID:     NormalizeFeedID(f.ID),
		Mantissa:   mantissa,
		Exponent:   f.Price.Expo,
		Confidence: conf,
		ObservedAt: time.Unix(f.Price.PublishTime, 0).UTC(),
		Sequence:   f.Price.PublishTime,
	}, nil
}

// HermesClient fetches latest quotes over HTTP. Requests are paced by a
// token bucket so a burst of operations cannot exhaust the upstream quota.
type HermesClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewHermesClient creates a client for baseURL (e.g. https://hermes.pyth.network)
// allowing rps requests per second with the given burst.
func NewHermesClient(baseURL string, rps float64, burst int, logger zerolog.Logger) *HermesClient {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &HermesClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// Fetch returns the latest quote for feedID.
func (c *HermesClient) Fetch(ctx context.Context, feedID string) (PriceQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return PriceQuote{}, fmt.Errorf("hermes rate limit: %w", err)
	}

	feedID = NormalizeFeedID(feedID)
	q := url.Values{}
	q.Add("ids[]", feedID)
	endpoint := c.baseURL + "/api/latest_price_feeds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("hermes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("hermes: unexpected status %d", resp.StatusCode)
	}

	var feeds []hermesFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return PriceQuote{}, fmt.Errorf("hermes decode: %w", err)
	}

	for _, f := range feeds {
		if NormalizeFeedID(f.ID) == feedID {
			return f.quote()
		}
	}

	c.logger.Warn().Str("feed_id", feedID).Int("feeds", len(feeds)).Msg("feed missing from hermes response")
	return PriceQuote{}, fmt.Errorf("%w: %s", ErrNoQuote, feedID)
}
