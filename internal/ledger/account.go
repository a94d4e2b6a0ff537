package ledger

import (
	"fmt"

	"BasketLedger/internal/addr"
)

// AccountScope is the top-level account namespace.
type AccountScope uint8

const (
	// ScopeBasket accounts hold a basket's vault balances.
	ScopeBasket AccountScope = iota
	// ScopeUser accounts hold pending deposits and redemption proceeds.
	ScopeUser
	// ScopeFees accounts hold accrued and distributed fee shares.
	ScopeFees
	// ScopeExternal accounts are the settlement boundary: bidders and
	// callback programs on the other side of a transfer.
	ScopeExternal
)

// AccountSubType qualifies the account purpose within a scope.
type AccountSubType uint8

const (
	SubTypeVault AccountSubType = iota
	SubTypePendingMint
	SubTypePendingRedeem
	SubTypeFeeAccrued
	SubTypeFeeProtocol
	SubTypeFeeRecipient
	SubTypeSettlement
)

// AccountKey identifies one balance bucket: scope + owning entity + purpose +
// asset. Comparable, so it keys the in-memory tracker directly.
type AccountKey struct {
	Scope   AccountScope
	Entity  addr.Address
	SubType AccountSubType
	Asset   addr.Address
}

// VaultAccount is a basket's holding of one asset.
func VaultAccount(basketRef, asset addr.Address) AccountKey {
	return AccountKey{Scope: ScopeBasket, Entity: basketRef, SubType: SubTypeVault, Asset: asset}
}

// PendingMintAccount holds a user's staged deposits for an asset.
func PendingMintAccount(user, asset addr.Address) AccountKey {
	return AccountKey{Scope: ScopeUser, Entity: user, SubType: SubTypePendingMint, Asset: asset}
}

// PendingRedeemAccount holds a user's withdrawable redemption proceeds.
func PendingRedeemAccount(user, asset addr.Address) AccountKey {
	return AccountKey{Scope: ScopeUser, Entity: user, SubType: SubTypePendingRedeem, Asset: asset}
}

// FeeAccruedAccount holds a basket's accrued-but-undistributed fee shares.
// The basket token itself is the asset.
func FeeAccruedAccount(basketRef addr.Address) AccountKey {
	return AccountKey{Scope: ScopeFees, Entity: basketRef, SubType: SubTypeFeeAccrued, Asset: basketRef}
}

// FeeRecipientAccount holds fee shares paid out to one recipient.
func FeeRecipientAccount(recipient, basketRef addr.Address) AccountKey {
	return AccountKey{Scope: ScopeFees, Entity: recipient, SubType: SubTypeFeeRecipient, Asset: basketRef}
}

// ProtocolFeeAccount holds the protocol's share for one basket.
func ProtocolFeeAccount(recipient, basketRef addr.Address) AccountKey {
	return AccountKey{Scope: ScopeFees, Entity: recipient, SubType: SubTypeFeeProtocol, Asset: basketRef}
}

// SettlementAccount is the external boundary for one asset: auction bidders
// and callback programs settle against it.
func SettlementAccount(asset addr.Address) AccountKey {
	return AccountKey{Scope: ScopeExternal, SubType: SubTypeSettlement, Asset: asset}
}

// Path returns the string form used in the persisted journal.
func (k AccountKey) Path() string {
	switch k.Scope {
	case ScopeBasket:
		return fmt.Sprintf("basket:%s:%s:%s", k.Entity, k.subTypeName(), k.Asset)
	case ScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.subTypeName(), k.Asset)
	case ScopeFees:
		return fmt.Sprintf("fees:%s:%s:%s", k.Entity, k.subTypeName(), k.Asset)
	case ScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeVault:
		return "vault"
	case SubTypePendingMint:
		return "pending_mint"
	case SubTypePendingRedeem:
		return "pending_redeem"
	case SubTypeFeeAccrued:
		return "accrued"
	case SubTypeFeeProtocol:
		return "protocol"
	case SubTypeFeeRecipient:
		return "recipient"
	case SubTypeSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}
