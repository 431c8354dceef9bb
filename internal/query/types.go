package query

import "time"

// PositionResponse is a position valued at the current oracle price.
type PositionResponse struct {
	Owner              string `json:"owner"`
	CollateralLamports uint64 `json:"collateral_lamports"`
	DebtCoins          uint64 `json:"debt_coins"`
	Collateral         string `json:"collateral"` // whole collateral units, e.g. "1.5"
	Version            int64  `json:"version"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`

	// Derived at query time. Empty when no fresh price is available.
	Price           uint64  `json:"price,omitempty"`
	CollateralValue uint64  `json:"collateral_value,omitempty"` // debt-token units
	HealthFactor    *uint64 `json:"health_factor,omitempty"`    // nil when debt-free
	Status          string  `json:"status,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// BalanceResponse is one projected account balance.
type BalanceResponse struct {
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	AccountPath  string `json:"account_path"`
	Balance      int64  `json:"balance"`
	Display      string `json:"display"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidationResponse is one row of liquidation history.
type LiquidationResponse struct {
	Sequence     int64     `json:"sequence"`
	Target       string    `json:"target"`
	Liquidator   string    `json:"liquidator"`
	CoinAmount   string    `json:"coin_amount"`
	Seized       string    `json:"seized_lamports"`
	Bonus        string    `json:"bonus_lamports"`
	Price        string    `json:"price"`
	HealthFactor string    `json:"health_factor"`
	Timestamp    time.Time `json:"timestamp"`
}

// CandidateResponse is a position that can be liquidated now.
type CandidateResponse struct {
	Owner              string `json:"owner"`
	CollateralLamports uint64 `json:"collateral_lamports"`
	DebtCoins          uint64 `json:"debt_coins"`
	CollateralValue    uint64 `json:"collateral_value"`
	HealthFactor       uint64 `json:"health_factor"`
	MaxSeizable        uint64 `json:"max_seizable_lamports"`
}

// CandidatesResponse lists liquidation candidates at one price.
type CandidatesResponse struct {
	Price        uint64              `json:"price"`
	Candidates   []CandidateResponse `json:"candidates"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

// SystemStatus summarizes the engine.
type SystemStatus struct {
	Sequence          int64  `json:"sequence"`
	StateHash         string `json:"state_hash"`
	FeedID            string `json:"feed_id"`
	ConfigInitialized bool   `json:"config_initialized"`
	CirculatingSupply int64  `json:"circulating_supply"`
	TotalCollateral   int64  `json:"total_collateral_lamports"`
	TotalCollateralUI string `json:"total_collateral"`
	Price             uint64 `json:"price,omitempty"`
	PriceError        string `json:"price_error,omitempty"`
	ProjectionLag     int64  `json:"projection_lag"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	LiveInvariants   string            `json:"live_invariants,omitempty"` // error text, empty when they hold
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
