package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet  AccountSubType = iota // assets held by the principal itself
	SubTypeCustody                       // collateral the protocol holds for the principal's position

	// System sub-types
	SubTypeSystemMint // counterpart of minted debt tokens; -balance == circulating supply
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetDebt       AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"SOL":  AssetCollateral,
		"SUSD": AssetDebt,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "SOL",
		AssetDebt:       "SUSD",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID Principal
	SubType  AccountSubType
	AssetID  AssetID
}

func WalletAccount(owner Principal, asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: owner, SubType: SubTypeWallet, AssetID: asset}
}

func CustodyAccount(owner Principal) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: owner, SubType: SubTypeCustody, AssetID: AssetCollateral}
}

// MintAccount is keyed by the debt-token mint address.
func MintAccount(mint Principal) AccountKey {
	return AccountKey{Scope: AccountScopeSystem, EntityID: mint, SubType: SubTypeSystemMint, AssetID: AssetDebt}
}

// AccountPath returns the string representation for storage/logging,
// e.g. "user:<base58>:custody:SOL" or "system:<base58>:mint:SUSD".
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.EntityID, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.EntityID, k.subTypeName(), assetName)
	}
	return "unknown"
}

// MustBeNonNegative reports whether the account can never hold a negative
// balance. Wallet collateral is the depositor's external funds seen from the
// protocol side and the mint account carries negative supply.
func (k AccountKey) MustBeNonNegative() bool {
	switch k.SubType {
	case SubTypeCustody:
		return true
	case SubTypeWallet:
		return k.AssetID == AssetDebt
	}
	return false
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCustody:
		return "custody"
	case SubTypeSystemMint:
		return "mint"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	var key AccountKey
	switch parts[0] {
	case "user":
		key.Scope = AccountScopeUser
	case "system":
		key.Scope = AccountScopeSystem
	default:
		return AccountKey{}, fmt.Errorf("unknown scope in %q", path)
	}

	entity, err := ParsePrincipal(parts[1])
	if err != nil {
		return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
	}
	key.EntityID = entity

	switch parts[2] {
	case "wallet":
		key.SubType = SubTypeWallet
	case "custody":
		key.SubType = SubTypeCustody
	case "mint":
		key.SubType = SubTypeSystemMint
	default:
		return AccountKey{}, fmt.Errorf("unknown sub-type in %q", path)
	}

	asset, ok := GetAssetID(parts[3])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in %q", path)
	}
	key.AssetID = asset

	return key, nil
}

func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
