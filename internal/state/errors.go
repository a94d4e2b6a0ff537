package state

import "errors"

// Sentinel errors for the state layer. Engine operations wrap these with
// operation context; callers match with errors.Is.
var (
	// authorization
	ErrUnauthorized = errors.New("authority lacks required role")
	ErrBumpMismatch = errors.New("record bump does not match derived address")

	// record status
	ErrBasketNotFound       = errors.New("basket not found")
	ErrInvalidStatus        = errors.New("basket status forbids operation")
	ErrRebalanceNotFound    = errors.New("no active rebalance")
	ErrRebalanceNonce       = errors.New("rebalance nonce mismatch")
	ErrDetailsSealed        = errors.New("rebalance details already complete")
	ErrDetailsIncomplete    = errors.New("rebalance details not complete")
	ErrRebalanceExpired     = errors.New("rebalance auction window elapsed")
	ErrRebalanceRestricted  = errors.New("rebalance restricted to auction launchers")
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrAuctionNotOpen       = errors.New("auction not open")
	ErrAuctionCollision     = errors.New("auction already live for asset pair")
	ErrLimitExhausted       = errors.New("trade limit exhausted")
	ErrDistributionNotFound = errors.New("fee distribution not found")

	// validation
	ErrInvalidFee        = errors.New("fee exceeds maximum")
	ErrInvalidAuctionLen = errors.New("auction length out of bounds")
	ErrInvalidPrices     = errors.New("invalid price range")
	ErrInvalidLimits     = errors.New("invalid rebalance limits")
	ErrInvalidPortions   = errors.New("recipient portions exceed denominator")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDistributionIndex = errors.New("fee distribution index mismatch")
	ErrNothingToTrade    = errors.New("no surplus or deficit to trade")
	ErrSlippageExceeded  = errors.New("bought amount exceeds bid maximum")
)
