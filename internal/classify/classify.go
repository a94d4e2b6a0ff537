// Package classify gates which asset representations may enter a basket or a
// rebalance. An asset description carries a set of extension features; only
// an allow-listed subset is supported, everything else is rejected at the
// boundary before any state mutates.
package classify

import (
	"errors"
	"fmt"
)

// Extension identifies one optional feature an asset representation carries.
type Extension int32

const (
	ExtNone Extension = iota
	ExtInterestBearing
	ExtMetadataPointer
	ExtMetadata
	ExtGroup
	ExtGroupMember
	ExtGroupPointer
	ExtImmutableOwner
	ExtTransferFee
	ExtTransferHook
	ExtPermanentDelegate
	ExtCloseAuthority
	ExtDefaultFrozen
)

func (e Extension) String() string {
	switch e {
	case ExtNone:
		return "None"
	case ExtInterestBearing:
		return "InterestBearing"
	case ExtMetadataPointer:
		return "MetadataPointer"
	case ExtMetadata:
		return "Metadata"
	case ExtGroup:
		return "Group"
	case ExtGroupMember:
		return "GroupMember"
	case ExtGroupPointer:
		return "GroupPointer"
	case ExtImmutableOwner:
		return "ImmutableOwner"
	case ExtTransferFee:
		return "TransferFee"
	case ExtTransferHook:
		return "TransferHook"
	case ExtPermanentDelegate:
		return "PermanentDelegate"
	case ExtCloseAuthority:
		return "CloseAuthority"
	case ExtDefaultFrozen:
		return "DefaultFrozen"
	default:
		return fmt.Sprintf("Extension(%d)", int32(e))
	}
}

// ErrUnsupportedAsset rejects assets carrying extensions outside the
// allow list.
var ErrUnsupportedAsset = errors.New("asset carries unsupported extension")

// allowedMintExtensions are the only extensions a basket-held asset may
// carry. Fee-taking, hook, and delegate extensions can move amounts outside
// the engine's accounting and are rejected.
var allowedMintExtensions = map[Extension]bool{
	ExtNone:            true,
	ExtInterestBearing: true,
	ExtMetadataPointer: true,
	ExtMetadata:        true,
	ExtGroup:           true,
	ExtGroupMember:     true,
	ExtGroupPointer:    true,
}

// allowedHoldingExtensions are the only extensions a holding record may
// carry.
var allowedHoldingExtensions = map[Extension]bool{
	ExtNone:           true,
	ExtImmutableOwner: true,
}

// AssetDescription is the boundary view of an asset representation.
type AssetDescription struct {
	MintExtensions    []Extension
	HoldingExtensions []Extension
}

// Supported verifies every extension on the description against the allow
// lists.
func Supported(desc AssetDescription) error {
	for _, ext := range desc.MintExtensions {
		if !allowedMintExtensions[ext] {
			return fmt.Errorf("mint extension %s: %w", ext, ErrUnsupportedAsset)
		}
	}
	for _, ext := range desc.HoldingExtensions {
		if !allowedHoldingExtensions[ext] {
			return fmt.Errorf("holding extension %s: %w", ext, ErrUnsupportedAsset)
		}
	}
	return nil
}
