package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/shopspring/decimal"
)

// LiveState is the read side of the engine.
type LiveState interface {
	Config() (*state.Config, error)
	Position(owner ledger.Principal) (state.Position, bool)
	Health(pos state.Position, price uint64) (core.PositionHealth, error)
	Unhealthy(price uint64) ([]core.PositionHealth, error)
	CurrentPrice(ctx context.Context, now time.Time) (oracle.PriceQuote, uint64, error)
	LastSequence() int64
	StateHash() [32]byte
	Totals() (supply, custody int64)
	FeedID() string
	CheckInvariants() error
}

var _ LiveState = (*core.Engine)(nil)

// QueryService serves reads. Positions, status and liquidation candidates
// come from live engine state; balances, journals and liquidation history
// come from the Postgres read models. Every response carries the sequence
// it reflects.
type QueryService struct {
	db   *sql.DB
	live LiveState
	now  func() time.Time
}

// NewQueryService builds a service. db may be nil, in which case only the
// live reads are available.
func NewQueryService(db *sql.DB, live LiveState, now func() time.Time) *QueryService {
	if now == nil {
		now = time.Now
	}
	return &QueryService{db: db, live: live, now: now}
}

var ErrNoReadModels = errors.New("stable: read models not configured")

// --- Live reads ---

// GetPosition returns owner's position with its health at the current price.
func (qs *QueryService) GetPosition(ctx context.Context, owner ledger.Principal) (*PositionResponse, error) {
	asOf := qs.live.LastSequence()
	pos, ok := qs.live.Position(owner)
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrPositionNotFound, owner)
	}

	resp := &PositionResponse{
		Owner:              owner.String(),
		CollateralLamports: pos.CollateralLamports,
		DebtCoins:          pos.DebtCoins,
		Collateral:         CollateralDisplay(pos.CollateralLamports),
		Version:            pos.Version,
		CreatedAt:          pos.CreatedAt,
		UpdatedAt:          pos.UpdatedAt,
		AsOfSequence:       asOf,
	}

	// A stale or missing price still returns the raw position.
	_, price, err := qs.live.CurrentPrice(ctx, qs.now())
	if err != nil {
		return resp, nil
	}
	h, err := qs.live.Health(pos, price)
	if err != nil {
		return nil, err
	}
	resp.Price = price
	resp.CollateralValue = h.CollateralValue
	resp.Status = h.Status.String()
	if h.HealthFactor != state.MaxHealthFactor {
		hf := h.HealthFactor
		resp.HealthFactor = &hf
	}
	return resp, nil
}

// GetLiquidationCandidates lists every position liquidatable at the
// current price.
func (qs *QueryService) GetLiquidationCandidates(ctx context.Context) (*CandidatesResponse, error) {
	asOf := qs.live.LastSequence()
	cfg, err := qs.live.Config()
	if err != nil {
		return nil, err
	}
	_, price, err := qs.live.CurrentPrice(ctx, qs.now())
	if err != nil {
		return nil, err
	}
	unhealthy, err := qs.live.Unhealthy(price)
	if err != nil {
		return nil, err
	}

	risk := state.NewRiskEngine(cfg)
	resp := &CandidatesResponse{Price: price, AsOfSequence: asOf, Candidates: []CandidateResponse{}}
	for _, h := range unhealthy {
		maxSeize, err := risk.MaxLiquidationAmount(h.Position.CollateralLamports)
		if err != nil {
			return nil, err
		}
		resp.Candidates = append(resp.Candidates, CandidateResponse{
			Owner:              h.Position.Owner.String(),
			CollateralLamports: h.Position.CollateralLamports,
			DebtCoins:          h.Position.DebtCoins,
			CollateralValue:    h.CollateralValue,
			HealthFactor:       h.HealthFactor,
			MaxSeizable:        maxSeize,
		})
	}
	return resp, nil
}

// GetSystemStatus reports the engine tip, totals, current price and how
// far the read models trail the engine.
func (qs *QueryService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	hash := qs.live.StateHash()
	supply, custody := qs.live.Totals()
	_, cfgErr := qs.live.Config()

	status := &SystemStatus{
		Sequence:          qs.live.LastSequence(),
		StateHash:         hex.EncodeToString(hash[:]),
		FeedID:            qs.live.FeedID(),
		ConfigInitialized: cfgErr == nil,
		CirculatingSupply: supply,
		TotalCollateral:   custody,
		TotalCollateralUI: CollateralDisplay(uint64(max(custody, 0))),
	}

	if _, price, err := qs.live.CurrentPrice(ctx, qs.now()); err != nil {
		status.PriceError = err.Error()
	} else {
		status.Price = price
	}

	if qs.db != nil {
		wm, err := qs.getWatermark(ctx)
		if err != nil {
			return nil, fmt.Errorf("watermark: %w", err)
		}
		status.ProjectionLag = status.Sequence - wm
	}
	return status, nil
}

// --- Read-model queries ---

// GetBalance returns one projected account balance. asset is "SOL" for
// the owner's custody account or "SUSD" for the token wallet.
func (qs *QueryService) GetBalance(ctx context.Context, owner ledger.Principal, asset string) (*BalanceResponse, error) {
	if qs.db == nil {
		return nil, ErrNoReadModels
	}
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", asset)
	}

	key := ledger.WalletAccount(owner, ledger.AssetDebt)
	if assetID == ledger.AssetCollateral {
		key = ledger.CustodyAccount(owner)
	}

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	balance, err := qs.getProjectedBalance(ctx, key.AccountPath(), assetID)
	if err != nil {
		return nil, err
	}

	display := decimal.NewFromInt(balance).String()
	if assetID == ledger.AssetCollateral {
		display = decimal.NewFromInt(balance).Shift(-9).String()
	}
	return &BalanceResponse{
		Owner:        owner.String(),
		Asset:        asset,
		AccountPath:  key.AccountPath(),
		Balance:      balance,
		Display:      display,
		AsOfSequence: asOf,
	}, nil
}

// GetLiquidationHistory returns liquidations of target, newest first.
// Pass beforeSequence > 0 to page.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, target ledger.Principal, limit int, beforeSequence int64) ([]LiquidationResponse, error) {
	if qs.db == nil {
		return nil, ErrNoReadModels
	}
	query := `
		SELECT sequence, target, liquidator, coin_amount, seized, bonus, price, health_factor, timestamp
		FROM projections.liquidation_history
		WHERE target = $1
	`
	args := []any{target.String()}
	if beforeSequence > 0 {
		query += " AND sequence < $2"
		args = append(args, beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationResponse
	for rows.Next() {
		var (
			r                                         LiquidationResponse
			coins, seized, bonus, price, healthFactor decimal.Decimal
		)
		if err := rows.Scan(&r.Sequence, &r.Target, &r.Liquidator, &coins, &seized, &bonus,
			&price, &healthFactor, &r.Timestamp); err != nil {
			return nil, err
		}
		r.CoinAmount = coins.String()
		r.Seized = seized.String()
		r.Bonus = bonus.String()
		r.Price = price.String()
		r.HealthFactor = healthFactor.String()
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching any of owner's
// accounts, newest first.
func (qs *QueryService) GetJournalHistory(ctx context.Context, owner ledger.Principal, limit int, beforeSequence int64) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, ErrNoReadModels
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	if beforeSequence > 0 {
		query += " AND sequence < $2"
		args = append(args, beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e  JournalHistoryEntry
			jt int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain links in the log, the zero-sum of
// projected balances per asset, and the live engine invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.live.CheckInvariants(); err != nil {
		report.LiveInvariants = err.Error()
	}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT e1.sequence
			FROM event_log.events e1
			JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
			WHERE e1.prev_hash != e2.state_hash
			ORDER BY e1.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		balanceRows, err := qs.db.QueryContext(ctx, `
			SELECT asset_id, SUM(balance)::BIGINT AS total
			FROM projections.balances
			GROUP BY asset_id
			HAVING SUM(balance) != 0
		`)
		if err != nil {
			return nil, err
		}
		defer balanceRows.Close()
		for balanceRows.Next() {
			var u UnbalancedAsset
			if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
				return nil, err
			}
			report.UnbalancedAssets = append(report.UnbalancedAssets, u)
		}
		if err := balanceRows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = report.LiveInvariants == "" &&
		len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// CollateralDisplay renders lamports as whole collateral units.
func CollateralDisplay(lamports uint64) string {
	return decimal.NewFromUint64(lamports).
		Div(decimal.NewFromUint64(fpmath.LamportsPerUnit)).
		String()
}

// --- helpers ---

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string, asset ledger.AssetID) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, accountPath, int16(asset)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
