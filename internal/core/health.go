package core

import (
	fpmath "StableLedger/internal/math"
	"StableLedger/internal/state"
)

// PositionHealth is a position valued at one price.
type PositionHealth struct {
	Position        state.Position
	CollateralValue uint64 // debt-token units
	HealthFactor    uint64
	Status          state.HealthStatus
}

// Health values one position at price.
func (e *Engine) Health(pos state.Position, price uint64) (PositionHealth, error) {
	cfg, err := e.config.Get()
	if err != nil {
		return PositionHealth{}, err
	}
	return assess(state.NewRiskEngine(cfg), pos, price)
}

// Unhealthy returns every position that can be liquidated at price,
// ordered by owner.
func (e *Engine) Unhealthy(price uint64) ([]PositionHealth, error) {
	cfg, err := e.config.Get()
	if err != nil {
		return nil, err
	}
	risk := state.NewRiskEngine(cfg)

	var out []PositionHealth
	for _, pos := range e.positions.All() {
		if pos.DebtCoins == 0 {
			continue
		}
		h, err := assess(risk, pos, price)
		if err != nil {
			return nil, err
		}
		if h.Status == state.HealthStatusLiquidatable {
			out = append(out, h)
		}
	}
	return out, nil
}

func assess(risk *state.RiskEngine, pos state.Position, price uint64) (PositionHealth, error) {
	value, err := fpmath.CollateralToDebtUnits(pos.CollateralLamports, price)
	if err != nil {
		return PositionHealth{}, err
	}
	hf, err := risk.HealthFactor(pos.DebtCoins, value)
	if err != nil {
		return PositionHealth{}, err
	}
	return PositionHealth{
		Position:        pos,
		CollateralValue: value,
		HealthFactor:    hf,
		Status:          risk.Status(hf),
	}, nil
}
