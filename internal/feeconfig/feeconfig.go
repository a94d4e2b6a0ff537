// Package feeconfig provides read-only access to the protocol fee
// configuration: the protocol fee recipient, the default fee schedule, and
// per-basket overrides. The engine reads it inside operations; it never
// writes it.
package feeconfig

import (
	"errors"

	"BasketLedger/internal/addr"
	fpmath "BasketLedger/internal/math"
)

// Config is the protocol-wide fee configuration record, living at the
// well-known address derived from the engine identity.
type Config struct {
	Address addr.Address

	// Recipient receives the protocol share of every distribution.
	Recipient addr.Address

	// Defaults applied to baskets without an override. Numerator and
	// ProtocolShare are bps over math.FeeDenominator; Floor is a flat
	// per-second minimum.
	DefaultNumerator uint64
	DefaultFloor     uint64
	ProtocolShare    uint64
}

// Schedule is the effective fee schedule resolved for one basket.
type Schedule struct {
	Numerator     uint64
	Floor         uint64
	ProtocolShare uint64
}

// Override replaces the default schedule for one basket.
type Override struct {
	Numerator uint64
	Floor     uint64
}

var ErrInvalidConfig = errors.New("invalid fee configuration")

const configSeed = "fee_config"

// ConfigAddress derives the well-known configuration address.
func ConfigAddress(engine addr.Address) (addr.Address, uint8) {
	return addr.Derive(engine, []byte(configSeed))
}

// Provider resolves the effective fee schedule per basket.
type Provider struct {
	config    Config
	overrides map[addr.Address]Override
}

// NewProvider validates and pins the configuration record.
func NewProvider(engine addr.Address, cfg Config) (*Provider, error) {
	if cfg.Recipient.IsZero() {
		return nil, errors.New("fee config: zero recipient")
	}
	if cfg.ProtocolShare > fpmath.FeeDenominator || cfg.DefaultNumerator > fpmath.FeeDenominator {
		return nil, ErrInvalidConfig
	}

	address, _ := ConfigAddress(engine)
	cfg.Address = address
	return &Provider{
		config:    cfg,
		overrides: make(map[addr.Address]Override),
	}, nil
}

// SetOverride installs a per-basket schedule override.
func (p *Provider) SetOverride(basketRef addr.Address, o Override) error {
	if o.Numerator > fpmath.FeeDenominator {
		return ErrInvalidConfig
	}
	p.overrides[basketRef] = o
	return nil
}

// Resolve returns the effective schedule for a basket: the override when
// present, the defaults otherwise.
func (p *Provider) Resolve(basketRef addr.Address) Schedule {
	if o, ok := p.overrides[basketRef]; ok {
		return Schedule{
			Numerator:     o.Numerator,
			Floor:         o.Floor,
			ProtocolShare: p.config.ProtocolShare,
		}
	}
	return Schedule{
		Numerator:     p.config.DefaultNumerator,
		Floor:         p.config.DefaultFloor,
		ProtocolShare: p.config.ProtocolShare,
	}
}

// Recipient returns the protocol fee recipient.
func (p *Provider) Recipient() addr.Address {
	return p.config.Recipient
}
