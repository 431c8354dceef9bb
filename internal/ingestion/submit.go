package ingestion

import (
	"context"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"

	"github.com/google/uuid"
)

// SubmitService builds events for direct API submission. NATS is the bulk
// path; this one serves signed-in users and operators. Callers may supply a
// request id so retries stay idempotent; otherwise a fresh one is minted.
type SubmitService struct {
	proc Processor
	now  func() time.Time
}

func NewSubmitService(proc Processor, now func() time.Time) *SubmitService {
	if now == nil {
		now = time.Now
	}
	return &SubmitService{proc: proc, now: now}
}

func (s *SubmitService) requestID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// SubmitDeposit deposits amount lamports for depositor and mints against it.
func (s *SubmitService) SubmitDeposit(ctx context.Context, requestID uuid.UUID, depositor ledger.Principal, amount uint64) (*core.Result, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", state.ErrInvalidAmount)
	}
	return s.proc.Process(ctx, &event.DepositMint{
		RequestID: s.requestID(requestID),
		Depositor: depositor,
		Amount:    amount,
		Timestamp: s.now().UTC(),
	})
}

// SubmitWithdraw burns amount debt tokens from withdrawer.
func (s *SubmitService) SubmitWithdraw(ctx context.Context, requestID uuid.UUID, withdrawer ledger.Principal, amount uint64) (*core.Result, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", state.ErrInvalidAmount)
	}
	return s.proc.Process(ctx, &event.WithdrawBurn{
		RequestID:  s.requestID(requestID),
		Withdrawer: withdrawer,
		Amount:     amount,
		Timestamp:  s.now().UTC(),
	})
}

// SubmitLiquidate repays coinAmount of target's debt on behalf of liquidator.
func (s *SubmitService) SubmitLiquidate(ctx context.Context, requestID uuid.UUID, liquidator, target ledger.Principal, coinAmount uint64) (*core.Result, error) {
	if coinAmount == 0 {
		return nil, fmt.Errorf("%w: coin amount must be positive", state.ErrInvalidAmount)
	}
	return s.proc.Process(ctx, &event.Liquidate{
		RequestID:  s.requestID(requestID),
		Liquidator: liquidator,
		Target:     target,
		CoinAmount: coinAmount,
		Timestamp:  s.now().UTC(),
	})
}

// SubmitConfig initializes the protocol config. caller must equal the
// authority in cfg.
func (s *SubmitService) SubmitConfig(ctx context.Context, requestID uuid.UUID, caller ledger.Principal, cfg state.Config) (*core.Result, error) {
	return s.proc.Process(ctx, &event.ConfigInitialized{
		RequestID:       s.requestID(requestID),
		Caller:          caller,
		Authority:       cfg.Authority,
		MintAddress:     cfg.MintAddress,
		LiqThreshold:    cfg.LiqThreshold,
		LiqBonus:        cfg.LiqBonus,
		MinHealthFactor: cfg.MinHealthFactor,
		CloseFactor:     cfg.CloseFactor,
		Bump:            cfg.Bump,
		MintBump:        cfg.MintBump,
		Timestamp:       s.now().UTC(),
	})
}
