package query

import (
	"context"
	"database/sql"
	"fmt"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/ledger"
)

// VaultBalanceResponse is one basket vault holding derived from the journal.
type VaultBalanceResponse struct {
	Basket       string `json:"basket"`
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// RecipientPayoutResponse is the cumulative fee shares a recipient has been
// paid for one basket.
type RecipientPayoutResponse struct {
	Recipient    string `json:"recipient"`
	Basket       string `json:"basket"`
	Payout       int64  `json:"payout"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetVaultBalance returns a basket's journalled holding of one asset.
func (qs *QueryService) GetVaultBalance(
	ctx context.Context,
	basketRef, asset addr.Address,
) (*VaultBalanceResponse, error) {
	const endpoint = "vault_balance"
	defer qs.observe(endpoint)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail(endpoint, fmt.Errorf("watermark: %w", err))
	}

	balance, err := qs.getProjectedBalance(ctx, ledger.VaultAccount(basketRef, asset).Path())
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}

	return &VaultBalanceResponse{
		Basket:       basketRef.String(),
		Asset:        asset.String(),
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetRecipientPayout returns the cumulative fee payout for one recipient on
// one basket.
func (qs *QueryService) GetRecipientPayout(
	ctx context.Context,
	recipient, basketRef addr.Address,
) (*RecipientPayoutResponse, error) {
	const endpoint = "recipient_payout"
	defer qs.observe(endpoint)()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail(endpoint, fmt.Errorf("watermark: %w", err))
	}

	payout, err := qs.getProjectedBalance(ctx, ledger.FeeRecipientAccount(recipient, basketRef).Path())
	if err != nil {
		return nil, qs.fail(endpoint, err)
	}

	return &RecipientPayoutResponse{
		Recipient:    recipient.String(),
		Basket:       basketRef.String(),
		Payout:       payout,
		AsOfSequence: asOfSeq,
	}, nil
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
