package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/rs/zerolog"
)

// invariantCheckInterval is how often (in sequences) the engine re-derives
// supply and custody totals from every position.
const invariantCheckInterval = 1000

// Engine runs the three operations against in-memory state. Operations on
// different positions run concurrently; each holds its position's lock from
// first read to commit. Commits are serialized so every committed event gets
// the next global sequence and hash chain link.
//
// The engine never reads the wall clock for state: the event timestamp is
// "now" for freshness checks and record timestamps.
type Engine struct {
	config    *state.ConfigStore
	positions *state.PositionManager
	tracker   *ledger.BalanceTracker
	validator *ledger.InvariantValidator

	oracle oracle.PriceOracle
	quotes oracle.QuoteStore
	feedID string
	maxAge time.Duration

	commitMu          sync.Mutex
	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream needs about one committed event.
type CoreOutput struct {
	Envelope  *event.EventEnvelope
	Batch     *ledger.Batch       // nil when the event moved no balances
	Quote     *oracle.PriceQuote  // quote the operation priced against
	Positions []state.Position    // post-state of touched positions
	Config    *state.Config       // set on ConfigInitialized
	Result    *Result
}

// Result is returned to the caller of Process.
type Result struct {
	Sequence  int64
	EventType event.EventType
	Duplicate bool
	Position  *state.Position
	Price     uint64
	Effects
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	FeedID         string
	MaxAge         time.Duration
	StartSequence  int64
	LRUCapacity    int
	DBChecker      DBIdempotencyChecker
	Quotes         oracle.QuoteStore
	Metrics        *observability.Metrics
	Logger         *zerolog.Logger
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

func NewEngine(priceOracle oracle.PriceOracle, opts Options) *Engine {
	if opts.FeedID == "" {
		opts.FeedID = oracle.SOLUSDFeedID
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = oracle.DefaultMaxAge
	}
	if opts.StartSequence <= 0 {
		opts.StartSequence = 1
	}
	if opts.LRUCapacity <= 0 {
		opts.LRUCapacity = 1_000_000
	}
	logger := observability.NewLogger("core")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	tracker := ledger.NewBalanceTracker()
	return &Engine{
		config:            state.NewConfigStore(),
		positions:         state.NewPositionManager(),
		tracker:           tracker,
		validator:         ledger.NewInvariantValidator(tracker),
		oracle:            priceOracle,
		quotes:            opts.Quotes,
		feedID:            oracle.NormalizeFeedID(opts.FeedID),
		maxAge:            opts.MaxAge,
		sequence:          opts.StartSequence,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(opts.LRUCapacity, opts.DBChecker, opts.Metrics),
		sequenceValidator: NewSequenceValidator(),
		metrics:           opts.Metrics,
		logger:            logger,
		persistChan:       opts.PersistChan,
		projectionChan:    opts.ProjectionChan,
	}
}

// Process applies one event, fetching prices from the engine's oracle.
func (e *Engine) Process(ctx context.Context, evt event.Event) (*Result, error) {
	return e.process(ctx, evt, e.oracle, false)
}

// Replay re-applies a logged event. When quote is set the operation is
// priced against it instead of the live oracle. Replayed outputs go to
// projections only; the event is already in the log.
func (e *Engine) Replay(ctx context.Context, evt event.Event, quote *oracle.PriceQuote) (*Result, error) {
	src := e.oracle
	if quote != nil {
		src = oracle.PinnedOracle{Quote: *quote}
	}
	return e.process(ctx, evt, src, true)
}

func (e *Engine) process(ctx context.Context, evt event.Event, src oracle.PriceOracle, replay bool) (*Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()

	if p, ok := evt.(*event.PriceUpdate); ok {
		return e.applyPriceUpdate(ctx, p)
	}

	if e.idempotency.IsDuplicate(ctx, eventType, evt.IdempotencyKey()) {
		e.reject(eventType, "duplicate")
		return &Result{EventType: evt.EventType(), Duplicate: true}, nil
	}

	var (
		res *Result
		err error
	)
	switch ev := evt.(type) {
	case *event.ConfigInitialized:
		res, err = e.initializeConfig(ev, replay)
	case *event.DepositMint:
		res, err = e.depositMint(ctx, ev, src, replay)
	case *event.WithdrawBurn:
		res, err = e.withdrawBurn(ctx, ev, src, replay)
	case *event.Liquidate:
		res, err = e.liquidate(ctx, ev, src, replay)
	default:
		err = fmt.Errorf("unknown event type: %T", evt)
	}

	if err != nil {
		reason := RejectReason(err)
		e.reject(eventType, reason)
		e.logger.Info().
			Str("event_type", eventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Str("reason", reason).
			Err(err).
			Msg("event rejected")
		return nil, err
	}

	if e.metrics != nil && !res.Duplicate {
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
	return res, nil
}

// InitializeConfig creates the protocol config. Only the config's
// authority may call it, and only once.
func (e *Engine) InitializeConfig(ctx context.Context, evt *event.ConfigInitialized) (*Result, error) {
	return e.Process(ctx, evt)
}

func (e *Engine) initializeConfig(evt *event.ConfigInitialized, replay bool) (*Result, error) {
	cfg := state.Config{
		Authority:       evt.Authority,
		MintAddress:     evt.MintAddress,
		LiqThreshold:    evt.LiqThreshold,
		LiqBonus:        evt.LiqBonus,
		MinHealthFactor: evt.MinHealthFactor,
		CloseFactor:     evt.CloseFactor,
		Bump:            evt.Bump,
		MintBump:        evt.MintBump,
	}
	if evt.Caller != cfg.Authority {
		return nil, fmt.Errorf("%w: %s is not authority %s", state.ErrUnauthorized, evt.Caller, cfg.Authority)
	}
	if err := state.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := e.config.Get(); err == nil {
		return nil, state.ErrConfigAlreadyInitialized
	}

	return e.commit(&transition{
		evt:    evt,
		config: &cfg,
		apply: func() error {
			return e.config.Initialize(evt.Caller, cfg)
		},
		result: &Result{},
		replay: replay,
	})
}

func (e *Engine) depositMint(ctx context.Context, evt *event.DepositMint, src oracle.PriceOracle, replay bool) (*Result, error) {
	cfg, err := e.config.Get()
	if err != nil {
		return nil, err
	}
	if evt.Amount == 0 {
		return nil, state.ErrInvalidAmount
	}

	unlock := e.positions.Lock(evt.Depositor)
	defer unlock()

	pos := e.positions.GetOrNew(evt.Depositor, evt.Timestamp.UnixMicro())
	stage := ledger.NewStage(cfg.MintAddress, evt.IdempotencyKey(), evt.Timestamp, e.tracker)

	quote, price, err := e.fetchPrice(ctx, src, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	fx, err := DepositMint(&pos, evt.Depositor, evt.Amount, price,
		state.NewRiskEngine(cfg), stage, stage.Custody(evt.Depositor))
	if err != nil {
		return nil, err
	}

	return e.commit(&transition{
		evt:       evt,
		stage:     stage,
		quote:     &quote,
		positions: []state.Position{pos},
		result:    &Result{Price: price, Effects: fx},
		replay:    replay,
	})
}

func (e *Engine) withdrawBurn(ctx context.Context, evt *event.WithdrawBurn, src oracle.PriceOracle, replay bool) (*Result, error) {
	cfg, err := e.config.Get()
	if err != nil {
		return nil, err
	}
	if evt.Amount == 0 {
		return nil, state.ErrInvalidAmount
	}

	unlock := e.positions.Lock(evt.Withdrawer)
	defer unlock()

	pos, ok := e.positions.Get(evt.Withdrawer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrPositionNotFound, evt.Withdrawer)
	}
	stage := ledger.NewStage(cfg.MintAddress, evt.IdempotencyKey(), evt.Timestamp, e.tracker)

	quote, price, err := e.fetchPrice(ctx, src, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	fx, err := WithdrawBurn(&pos, evt.Withdrawer, evt.Amount, price,
		state.NewRiskEngine(cfg), stage, stage.Custody(evt.Withdrawer))
	if err != nil {
		return nil, err
	}

	return e.commit(&transition{
		evt:       evt,
		stage:     stage,
		quote:     &quote,
		positions: []state.Position{pos},
		result:    &Result{Price: price, Effects: fx},
		replay:    replay,
	})
}

func (e *Engine) liquidate(ctx context.Context, evt *event.Liquidate, src oracle.PriceOracle, replay bool) (*Result, error) {
	cfg, err := e.config.Get()
	if err != nil {
		return nil, err
	}
	if evt.CoinAmount == 0 {
		return nil, state.ErrInvalidAmount
	}

	unlock := e.positions.Lock(evt.Target)
	defer unlock()

	target, ok := e.positions.Get(evt.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrPositionNotFound, evt.Target)
	}
	stage := ledger.NewStage(cfg.MintAddress, evt.IdempotencyKey(), evt.Timestamp, e.tracker)

	quote, price, err := e.fetchPrice(ctx, src, evt.Timestamp)
	if err != nil {
		return nil, err
	}

	fx, err := Liquidate(&target, evt.Liquidator, evt.CoinAmount, price,
		state.NewRiskEngine(cfg), stage, stage.Custody(evt.Target))
	if err != nil {
		return nil, err
	}

	return e.commit(&transition{
		evt:       evt,
		stage:     stage,
		quote:     &quote,
		positions: []state.Position{target},
		result:    &Result{Price: price, Effects: fx},
		replay:    replay,
	})
}

// fetchPrice fetches one quote, checks it against the feed and the
// freshness bound at now, and normalizes it.
func (e *Engine) fetchPrice(ctx context.Context, src oracle.PriceOracle, now time.Time) (oracle.PriceQuote, uint64, error) {
	start := time.Now()
	quote, err := src.Fetch(ctx, e.feedID)
	if e.metrics != nil {
		e.metrics.OracleFetchDuration.WithLabelValues("engine").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.OracleErrors.WithLabelValues("engine").Inc()
		}
		return oracle.PriceQuote{}, 0, fmt.Errorf("fetch price: %w", err)
	}

	if err := oracle.Validate(quote, e.feedID, now, e.maxAge); err != nil {
		if e.metrics != nil && errors.Is(err, oracle.ErrStalePrice) {
			e.metrics.OracleStaleRejected.Inc()
		}
		return oracle.PriceQuote{}, 0, err
	}

	price, err := quote.Normalized()
	if err != nil {
		return oracle.PriceQuote{}, 0, fmt.Errorf("normalize price: %w", err)
	}
	if price == 0 {
		return oracle.PriceQuote{}, 0, fmt.Errorf("%w: %w: feed %s reports zero", fpmath.ErrInvalidPrice, fpmath.ErrDivisionByZero, e.feedID)
	}
	return quote, price, nil
}

func (e *Engine) applyPriceUpdate(ctx context.Context, p *event.PriceUpdate) (*Result, error) {
	eventType := p.EventType().String()
	feedID := oracle.NormalizeFeedID(p.FeedID)

	q := oracle.PriceQuote{
		FeedID:     feedID,
		Mantissa:   p.Mantissa,
		Exponent:   p.Exponent,
		Confidence: p.Confidence,
		ObservedAt: p.PublishTime,
		Sequence:   p.PriceSequence,
	}
	price, err := q.Normalized()
	if err != nil {
		e.reject(eventType, RejectReason(err))
		return nil, fmt.Errorf("price update %s: %w", p.IdempotencyKey(), err)
	}

	accept, gap := e.sequenceValidator.ValidatePriceSequence(feedID, p.PriceSequence)
	if gap {
		if e.metrics != nil {
			e.metrics.OraclePriceGaps.WithLabelValues(feedID).Inc()
		}
		e.logger.Warn().Str("feed_id", feedID).Int64("price_sequence", p.PriceSequence).Msg("price sequence gap")
	}
	if !accept {
		e.reject(eventType, "stale_sequence")
		return &Result{EventType: p.EventType(), Duplicate: true}, nil
	}

	if e.quotes != nil {
		if err := e.quotes.Put(ctx, q); err != nil {
			return nil, fmt.Errorf("store quote: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.OracleLastPrice.WithLabelValues(feedID).Set(float64(price))
		e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	}
	return &Result{EventType: p.EventType(), Price: price}, nil
}

// transition is a validated state change waiting for commit.
type transition struct {
	evt       event.Event
	stage     *ledger.Stage
	quote     *oracle.PriceQuote
	positions []state.Position
	config    *state.Config
	apply     func() error
	result    *Result
	replay    bool
}

// commit applies a transition under the commit lock. Nothing is visible
// until ApplyBatch succeeds; any error leaves state untouched.
func (e *Engine) commit(t *transition) (*Result, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	eventType := t.evt.EventType().String()
	key := t.evt.IdempotencyKey()

	// A concurrent duplicate may have committed while this one was validating.
	if e.idempotency.Seen(eventType, key) {
		e.reject(eventType, "duplicate")
		return &Result{EventType: t.evt.EventType(), Duplicate: true}, nil
	}

	payload, err := event.Encode(t.evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	seq := e.sequence
	var batch *ledger.Batch
	if t.stage != nil && !t.stage.Empty() {
		batch = t.stage.Batch(seq)
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := e.tracker.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch: %w", err)
		}
	}

	if t.apply != nil {
		if err := t.apply(); err != nil {
			return nil, err
		}
	}

	ts := t.evt.OccurredAt().UnixMicro()
	for i := range t.positions {
		t.positions[i].Version++
		t.positions[i].UpdatedAt = ts
		e.positions.Put(t.positions[i])
	}

	if err := e.postCheckInvariants(t, seq); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(seq, e.computeStateDigest(batch, t.positions, t.config))

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: key,
		EventType:      t.evt.EventType(),
		Partition:      t.evt.Partition(),
		Timestamp:      t.evt.OccurredAt(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	res := t.result
	res.Sequence = seq
	res.EventType = t.evt.EventType()
	if len(t.positions) > 0 {
		p := t.positions[0]
		res.Position = &p
	}

	output := CoreOutput{
		Envelope:  envelope,
		Batch:     batch,
		Quote:     t.quote,
		Positions: t.positions,
		Config:    t.config,
		Result:    res,
	}
	e.emit(output, t.replay)

	e.idempotency.MarkProcessed(eventType, key)
	e.recordEffects(t, batch, seq)

	return res, nil
}

// emit hands an output to persistence (blocking, for backpressure) and to
// projections (non-blocking, they rebuild from the log if they fall behind).
func (e *Engine) emit(output CoreOutput, replay bool) {
	if e.persistChan != nil && !replay {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash: touched
// account balances sorted by path, then touched positions, then config.
func (e *Engine) computeStateDigest(batch *ledger.Batch, positions []state.Position, cfg *state.Config) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(positions)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, e.tracker.GetBalance(key))
	}
	for i := range positions {
		digest = append(digest, positions[i].CanonicalBytes()...)
	}
	if cfg != nil {
		digest = append(digest, cfg.CanonicalBytes()...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants checks the touched positions against their custody
// accounts on every commit, and the global totals periodically.
func (e *Engine) postCheckInvariants(t *transition, seq int64) error {
	for _, p := range t.positions {
		if err := e.validator.ValidateCustody(p.Owner, p.CollateralLamports); err != nil {
			return err
		}
	}
	if seq%invariantCheckInterval == 0 {
		return e.checkGlobalInvariants()
	}
	return nil
}

// CheckInvariants verifies the ledger balances to zero per asset, every
// custody account matches its position, and circulating supply equals
// total debt.
func (e *Engine) CheckInvariants() error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.checkGlobalInvariants()
}

func (e *Engine) checkGlobalInvariants() error {
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := e.tracker.ValidateNonNegative(); err != nil {
		return err
	}

	for _, p := range e.positions.All() {
		if err := e.validator.ValidateCustody(p.Owner, p.CollateralLamports); err != nil {
			return err
		}
	}
	totalDebt, err := e.positions.TotalDebt()
	if err != nil {
		return err
	}

	cfg, err := e.config.Get()
	if err != nil {
		return nil
	}
	return e.validator.ValidateSupply(cfg.MintAddress, totalDebt)
}

func (e *Engine) reject(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (e *Engine) recordEffects(t *transition, batch *ledger.Batch, seq int64) {
	res := t.result
	e.logger.Debug().
		Int64("sequence", seq).
		Str("event_type", t.evt.EventType().String()).
		Str("partition", t.evt.Partition()).
		Uint64("minted", res.Minted).
		Uint64("burned", res.Burned).
		Uint64("collateral_in", res.CollateralIn).
		Uint64("collateral_out", res.CollateralOut).
		Msg("event committed")

	if e.metrics == nil {
		return
	}
	m := e.metrics
	m.CoreSequence.Set(float64(seq))
	m.TokensMinted.Add(float64(res.Minted))
	m.TokensBurned.Add(float64(res.Burned))
	m.CollateralIn.Add(float64(res.CollateralIn))
	m.CollateralOut.Add(float64(res.CollateralOut))
	if t.stage != nil && res.HealthFactor != state.MaxHealthFactor {
		m.HealthFactor.WithLabelValues(t.evt.EventType().String()).Observe(float64(res.HealthFactor))
	}
	if t.evt.EventType() == event.EventTypeLiquidate {
		m.Liquidations.Inc()
		m.LiquidationSeized.Add(float64(res.CollateralOut))
	}
	if batch != nil {
		for _, j := range batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	if cfg, err := e.config.Get(); err == nil {
		m.CirculatingSupply.Set(float64(e.tracker.CirculatingSupply(cfg.MintAddress)))
	}
	m.TotalCollateral.Set(float64(e.tracker.TotalCustody()))
	m.PositionsTotal.Set(float64(e.positions.Count()))
}

// --- Read access ---

// Config returns the protocol config.
func (e *Engine) Config() (*state.Config, error) {
	return e.config.Get()
}

// Position returns a copy of the owner's position.
func (e *Engine) Position(owner ledger.Principal) (state.Position, bool) {
	return e.positions.Get(owner)
}

// TokenBalance returns the debt tokens a principal holds.
func (e *Engine) TokenBalance(owner ledger.Principal) int64 {
	return e.tracker.TokenBalance(owner)
}

// FeedID returns the feed every operation prices against.
func (e *Engine) FeedID() string {
	return e.feedID
}

// LastSequence returns the last committed sequence, 0 before any commit.
func (e *Engine) LastSequence() int64 {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.sequence - 1
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.hasher.GetPrevHash()
}

// Totals returns circulating supply and total collateral in custody.
func (e *Engine) Totals() (supply, custody int64) {
	if cfg, err := e.config.Get(); err == nil {
		supply = e.tracker.CirculatingSupply(cfg.MintAddress)
	}
	return supply, e.tracker.TotalCustody()
}

// CurrentPrice fetches and validates a live quote at now. Used by read
// paths; operations fetch their own quote.
func (e *Engine) CurrentPrice(ctx context.Context, now time.Time) (oracle.PriceQuote, uint64, error) {
	return e.fetchPrice(ctx, e.oracle, now)
}
