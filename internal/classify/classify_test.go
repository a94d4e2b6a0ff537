package classify

import (
	"errors"
	"testing"

	"BasketLedger/internal/addr"
)

func TestSupported_AllowListed(t *testing.T) {
	desc := AssetDescription{
		MintExtensions:    []Extension{ExtMetadataPointer, ExtMetadata, ExtInterestBearing},
		HoldingExtensions: []Extension{ExtImmutableOwner},
	}
	if err := Supported(desc); err != nil {
		t.Errorf("allow-listed description rejected: %v", err)
	}
}

func TestSupported_RejectsUnknownExtensions(t *testing.T) {
	cases := []AssetDescription{
		{MintExtensions: []Extension{ExtTransferFee}},
		{MintExtensions: []Extension{ExtMetadata, ExtTransferHook}},
		{MintExtensions: []Extension{ExtPermanentDelegate}},
		{HoldingExtensions: []Extension{ExtDefaultFrozen}},
		{HoldingExtensions: []Extension{ExtCloseAuthority}},
		// Mint-only extensions are not valid on holdings.
		{HoldingExtensions: []Extension{ExtMetadata}},
	}
	for i, desc := range cases {
		if err := Supported(desc); !errors.Is(err, ErrUnsupportedAsset) {
			t.Errorf("case %d: expected ErrUnsupportedAsset, got %v", i, err)
		}
	}
}

func TestRegistry_UnknownAssetIsPlain(t *testing.T) {
	r := NewRegistry()
	if err := r.Check(addr.New("never-registered")); err != nil {
		t.Errorf("plain asset rejected: %v", err)
	}

	asset := addr.New("hooked")
	r.Register(asset, AssetDescription{MintExtensions: []Extension{ExtTransferHook}})
	if err := r.Check(asset); !errors.Is(err, ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}
}
