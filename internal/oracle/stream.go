package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// QuoteHandler receives every quote pushed by a Stream.
type QuoteHandler func(ctx context.Context, q PriceQuote) error

type streamMessage struct {
	Type      string      `json:"type"`
	PriceFeed *hermesFeed `json:"price_feed,omitempty"`
	Result    string      `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Stream subscribes to pushed price updates over a websocket and hands
// each one to a QuoteHandler. It reconnects with exponential backoff until
// the context is cancelled.
type Stream struct {
	wsURL   string
	feedIDs []string
	logger  zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewStream(wsURL string, feedIDs []string, logger zerolog.Logger) *Stream {
	ids := make([]string, len(feedIDs))
	for i, id := range feedIDs {
		ids[i] = NormalizeFeedID(id)
	}
	return &Stream{
		wsURL:      wsURL,
		feedIDs:    ids,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is done.
func (s *Stream) Run(ctx context.Context, handle QuoteHandler) error {
	backoff := s.minBackoff
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("price stream disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Stream) session(ctx context.Context, handle QuoteHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := map[string]any{"type": "subscribe", "ids": s.feedIDs}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info().Strs("feeds", s.feedIDs).Msg("price stream subscribed")

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case "price_update":
			if msg.PriceFeed == nil {
				continue
			}
			q, err := msg.PriceFeed.quote()
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping malformed price update")
				continue
			}
			if err := handle(ctx, q); err != nil {
				s.logger.Error().Err(err).Str("feed_id", q.FeedID).Msg("price handler failed")
			}
		case "response":
			if msg.Result == "error" {
				return fmt.Errorf("subscription rejected: %s", msg.Error)
			}
		}
	}
}
