package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	"BasketLedger/internal/core"
	"BasketLedger/internal/extcall"
	"BasketLedger/internal/state"
)

// Operation wire format. Every inbound message carries the common header
// fields plus an op-specific body; field names use snake_case to match
// upstream producers. Addresses are hex, prices are D18 decimal strings,
// callback payloads are base64.
type operationJSON struct {
	OpType      string          `json:"op_type"`
	OperationID string          `json:"operation_id"`
	Caller      string          `json:"caller"`
	Basket      string          `json:"basket"`
	TimestampUs int64           `json:"timestamp_us"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// ParseOperation converts raw JSON bytes into a typed core.Operation. The
// ingestion shell validates and converts before anything reaches the engine,
// so the engine only ever sees well-formed typed operations.
func ParseOperation(data []byte) (core.Operation, error) {
	var env operationJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse operation envelope: %w", err)
	}

	header, err := parseHeader(env)
	if err != nil {
		return nil, err
	}

	body := env.Body
	if body == nil {
		body = []byte("{}")
	}

	switch env.OpType {
	case "CreateBasket":
		return parseCreateBasket(header, body)
	case "FinalizeBasket":
		return &core.FinalizeBasket{OpHeader: header}, nil
	case "KillBasket":
		return &core.KillBasket{OpHeader: header}, nil
	case "SetValueFee":
		return parseSetValueFee(header, body)
	case "SetMintFee":
		return parseSetMintFee(header, body)
	case "SetAuctionLength":
		return parseSetAuctionLength(header, body)
	case "SetMandate":
		return parseSetMandate(header, body)
	case "AddFeeRecipient":
		return parseAddFeeRecipient(header, body)
	case "RemoveFeeRecipient":
		return parseRemoveFeeRecipient(header, body)
	case "GrantRole":
		return parseGrantRole(header, body)
	case "RevokeRole":
		return parseRevokeRole(header, body)
	case "AddAsset":
		return parseAddAsset(header, body)
	case "RemoveAsset":
		return parseRemoveAsset(header, body)
	case "AddToPending":
		return parseAddToPending(header, body)
	case "RemoveFromPending":
		return parseRemoveFromPending(header, body)
	case "Mint":
		return parseMint(header, body)
	case "Redeem":
		return parseRedeem(header, body)
	case "OpenRebalance":
		return parseOpenRebalance(header, body)
	case "AddRebalanceDetails":
		return parseAddRebalanceDetails(header, body)
	case "OpenAuction":
		return parseOpenAuction(header, body)
	case "Bid":
		return parseBid(header, body)
	case "CloseAuction":
		return parseCloseAuction(header, body)
	case "Poke":
		return &core.Poke{OpHeader: header}, nil
	case "DistributeFees":
		return parseDistributeFees(header, body)
	case "CrankDistribution":
		return parseCrankDistribution(header, body)
	default:
		return nil, fmt.Errorf("unknown op type: %s", env.OpType)
	}
}

func parseHeader(env operationJSON) (core.OpHeader, error) {
	opID, err := uuid.Parse(env.OperationID)
	if err != nil {
		return core.OpHeader{}, fmt.Errorf("parse operation_id: %w", err)
	}
	caller, err := addr.FromString(env.Caller)
	if err != nil {
		return core.OpHeader{}, fmt.Errorf("parse caller: %w", err)
	}
	basketRef, err := addr.FromString(env.Basket)
	if err != nil {
		return core.OpHeader{}, fmt.Errorf("parse basket: %w", err)
	}
	return core.OpHeader{
		OperationID: opID,
		Caller:      caller,
		Basket:      basketRef,
		Timestamp:   time.UnixMicro(env.TimestampUs).UTC(),
	}, nil
}

func parseAddress(field, value string) (addr.Address, error) {
	a, err := addr.FromString(value)
	if err != nil {
		return addr.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return a, nil
}

// parseRole accepts a single role name or pipe-combined names
// ("Owner|AuctionLauncher").
func parseRole(s string) (state.Role, error) {
	var role state.Role
	for _, name := range strings.Split(s, "|") {
		switch strings.TrimSpace(name) {
		case "Owner":
			role |= state.RoleOwner
		case "RebalanceManager":
			role |= state.RoleRebalanceManager
		case "AuctionLauncher":
			role |= state.RoleAuctionLauncher
		default:
			return 0, fmt.Errorf("unknown role: %q", name)
		}
	}
	if role == 0 {
		return 0, fmt.Errorf("empty role")
	}
	return role, nil
}

func parseD18(field, value string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

type createBasketJSON struct {
	TokenReference string `json:"token_reference"`
	ValueFee       uint64 `json:"value_fee"`
	MintFee        uint64 `json:"mint_fee"`
	FeeFloor       uint64 `json:"fee_floor"`
	AuctionLength  uint64 `json:"auction_length"`
	Mandate        string `json:"mandate"`
}

func parseCreateBasket(header core.OpHeader, body []byte) (*core.CreateBasket, error) {
	var j createBasketJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse CreateBasket: %w", err)
	}
	tokenRef, err := parseAddress("token_reference", j.TokenReference)
	if err != nil {
		return nil, err
	}
	return &core.CreateBasket{
		OpHeader:       header,
		TokenReference: tokenRef,
		ValueFee:       j.ValueFee,
		MintFee:        j.MintFee,
		FeeFloor:       j.FeeFloor,
		AuctionLength:  j.AuctionLength,
		Mandate:        j.Mandate,
	}, nil
}

type numeratorJSON struct {
	Numerator uint64 `json:"numerator"`
}

func parseSetValueFee(header core.OpHeader, body []byte) (*core.SetValueFee, error) {
	var j numeratorJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse SetValueFee: %w", err)
	}
	return &core.SetValueFee{OpHeader: header, Numerator: j.Numerator}, nil
}

func parseSetMintFee(header core.OpHeader, body []byte) (*core.SetMintFee, error) {
	var j numeratorJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse SetMintFee: %w", err)
	}
	return &core.SetMintFee{OpHeader: header, Numerator: j.Numerator}, nil
}

func parseSetAuctionLength(header core.OpHeader, body []byte) (*core.SetAuctionLength, error) {
	var j struct {
		Length uint64 `json:"length"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse SetAuctionLength: %w", err)
	}
	return &core.SetAuctionLength{OpHeader: header, Length: j.Length}, nil
}

func parseSetMandate(header core.OpHeader, body []byte) (*core.SetMandate, error) {
	var j struct {
		Mandate string `json:"mandate"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse SetMandate: %w", err)
	}
	return &core.SetMandate{OpHeader: header, Mandate: j.Mandate}, nil
}

type feeRecipientJSON struct {
	Recipient string `json:"recipient"`
	Portion   uint64 `json:"portion"`
}

func parseAddFeeRecipient(header core.OpHeader, body []byte) (*core.AddFeeRecipient, error) {
	var j feeRecipientJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse AddFeeRecipient: %w", err)
	}
	recipient, err := parseAddress("recipient", j.Recipient)
	if err != nil {
		return nil, err
	}
	return &core.AddFeeRecipient{OpHeader: header, Recipient: recipient, Portion: j.Portion}, nil
}

func parseRemoveFeeRecipient(header core.OpHeader, body []byte) (*core.RemoveFeeRecipient, error) {
	var j feeRecipientJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveFeeRecipient: %w", err)
	}
	recipient, err := parseAddress("recipient", j.Recipient)
	if err != nil {
		return nil, err
	}
	return &core.RemoveFeeRecipient{OpHeader: header, Recipient: recipient}, nil
}

type roleJSON struct {
	Authority string `json:"authority"`
	Role      string `json:"role"`
	Close     bool   `json:"close,omitempty"`
}

func parseGrantRole(header core.OpHeader, body []byte) (*core.GrantRole, error) {
	var j roleJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse GrantRole: %w", err)
	}
	authority, err := parseAddress("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	role, err := parseRole(j.Role)
	if err != nil {
		return nil, err
	}
	return &core.GrantRole{OpHeader: header, Authority: authority, Role: role}, nil
}

func parseRevokeRole(header core.OpHeader, body []byte) (*core.RevokeRole, error) {
	var j roleJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse RevokeRole: %w", err)
	}
	authority, err := parseAddress("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	role, err := parseRole(j.Role)
	if err != nil {
		return nil, err
	}
	return &core.RevokeRole{OpHeader: header, Authority: authority, Role: role, Close: j.Close}, nil
}

type assetJSON struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func parseAddAsset(header core.OpHeader, body []byte) (*core.AddAsset, error) {
	var j assetJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse AddAsset: %w", err)
	}
	asset, err := parseAddress("asset", j.Asset)
	if err != nil {
		return nil, err
	}
	return &core.AddAsset{OpHeader: header, Asset: asset, Amount: j.Amount}, nil
}

func parseRemoveAsset(header core.OpHeader, body []byte) (*core.RemoveAsset, error) {
	var j assetJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveAsset: %w", err)
	}
	asset, err := parseAddress("asset", j.Asset)
	if err != nil {
		return nil, err
	}
	return &core.RemoveAsset{OpHeader: header, Asset: asset}, nil
}

type pendingJSON struct {
	Amounts []assetJSON `json:"amounts"`
}

func parseTokenAmounts(entries []assetJSON) ([]basket.TokenAmount, error) {
	amounts := make([]basket.TokenAmount, 0, len(entries))
	for i, e := range entries {
		asset, err := parseAddress(fmt.Sprintf("amounts[%d].asset", i), e.Asset)
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, basket.TokenAmount{Asset: asset, Amount: e.Amount})
	}
	return amounts, nil
}

func parseAddToPending(header core.OpHeader, body []byte) (*core.AddToPending, error) {
	var j pendingJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse AddToPending: %w", err)
	}
	amounts, err := parseTokenAmounts(j.Amounts)
	if err != nil {
		return nil, err
	}
	return &core.AddToPending{OpHeader: header, Amounts: amounts}, nil
}

func parseRemoveFromPending(header core.OpHeader, body []byte) (*core.RemoveFromPending, error) {
	var j struct {
		Amounts []assetJSON `json:"amounts"`
		Redeem  bool        `json:"redeem"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse RemoveFromPending: %w", err)
	}
	amounts, err := parseTokenAmounts(j.Amounts)
	if err != nil {
		return nil, err
	}
	return &core.RemoveFromPending{OpHeader: header, Amounts: amounts, Redeem: j.Redeem}, nil
}

type sharesJSON struct {
	Shares uint64 `json:"shares"`
}

func parseMint(header core.OpHeader, body []byte) (*core.Mint, error) {
	var j sharesJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse Mint: %w", err)
	}
	return &core.Mint{OpHeader: header, Shares: j.Shares}, nil
}

func parseRedeem(header core.OpHeader, body []byte) (*core.Redeem, error) {
	var j sharesJSON
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse Redeem: %w", err)
	}
	return &core.Redeem{OpHeader: header, Shares: j.Shares}, nil
}

func parseOpenRebalance(header core.OpHeader, body []byte) (*core.OpenRebalance, error) {
	var j struct {
		LauncherWindow uint64 `json:"launcher_window"`
		TTL            uint64 `json:"ttl"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse OpenRebalance: %w", err)
	}
	return &core.OpenRebalance{OpHeader: header, LauncherWindow: j.LauncherWindow, TTL: j.TTL}, nil
}

type rebalanceDetailJSON struct {
	Asset     string `json:"asset"`
	Spot      string `json:"spot"`
	Low       string `json:"low"`
	High      string `json:"high"`
	PriceLow  string `json:"price_low"`
	PriceHigh string `json:"price_high"`
}

func parseDetail(i int, j rebalanceDetailJSON) (basket.RebalanceDetail, error) {
	var d basket.RebalanceDetail
	asset, err := parseAddress(fmt.Sprintf("entries[%d].asset", i), j.Asset)
	if err != nil {
		return d, err
	}
	spot, err := parseD18("spot", j.Spot)
	if err != nil {
		return d, err
	}
	low, err := parseD18("low", j.Low)
	if err != nil {
		return d, err
	}
	high, err := parseD18("high", j.High)
	if err != nil {
		return d, err
	}
	priceLow, err := parseD18("price_low", j.PriceLow)
	if err != nil {
		return d, err
	}
	priceHigh, err := parseD18("price_high", j.PriceHigh)
	if err != nil {
		return d, err
	}
	return basket.RebalanceDetail{
		Asset:  asset,
		Limits: basket.RebalanceLimits{Spot: spot, Low: low, High: high},
		Prices: basket.PriceRange{Low: priceLow, High: priceHigh},
	}, nil
}

func parseAddRebalanceDetails(header core.OpHeader, body []byte) (*core.AddRebalanceDetails, error) {
	var j struct {
		Nonce    uint64                `json:"nonce"`
		Entries  []rebalanceDetailJSON `json:"entries"`
		AllAdded bool                  `json:"all_added"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse AddRebalanceDetails: %w", err)
	}
	entries := make([]basket.RebalanceDetail, 0, len(j.Entries))
	for i, e := range j.Entries {
		detail, err := parseDetail(i, e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, detail)
	}
	return &core.AddRebalanceDetails{
		OpHeader: header,
		Nonce:    j.Nonce,
		Entries:  entries,
		AllAdded: j.AllAdded,
	}, nil
}

func parseOpenAuction(header core.OpHeader, body []byte) (*core.OpenAuction, error) {
	var j struct {
		Nonce  uint64 `json:"nonce"`
		Sell   string `json:"sell"`
		Buy    string `json:"buy"`
		Prices *struct {
			Low  string `json:"low"`
			High string `json:"high"`
		} `json:"prices,omitempty"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse OpenAuction: %w", err)
	}
	sell, err := parseAddress("sell", j.Sell)
	if err != nil {
		return nil, err
	}
	buy, err := parseAddress("buy", j.Buy)
	if err != nil {
		return nil, err
	}
	op := &core.OpenAuction{OpHeader: header, Nonce: j.Nonce, Sell: sell, Buy: buy}
	if j.Prices != nil {
		low, err := parseD18("prices.low", j.Prices.Low)
		if err != nil {
			return nil, err
		}
		high, err := parseD18("prices.high", j.Prices.High)
		if err != nil {
			return nil, err
		}
		op.Prices = &basket.PriceRange{Low: low, High: high}
	}
	return op, nil
}

type callbackJSON struct {
	Target   string `json:"target"`
	Accounts []struct {
		Address  string `json:"address"`
		Writable bool   `json:"writable"`
	} `json:"accounts"`
	Payload []byte `json:"payload"`
}

func parseBid(header core.OpHeader, body []byte) (*core.Bid, error) {
	var j struct {
		Auction      string        `json:"auction"`
		SellAmount   uint64        `json:"sell_amount"`
		MaxBuyAmount uint64        `json:"max_buy_amount"`
		Callback     *callbackJSON `json:"callback,omitempty"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse Bid: %w", err)
	}
	auction, err := parseAddress("auction", j.Auction)
	if err != nil {
		return nil, err
	}
	op := &core.Bid{
		OpHeader:     header,
		Auction:      auction,
		SellAmount:   j.SellAmount,
		MaxBuyAmount: j.MaxBuyAmount,
	}
	if j.Callback != nil {
		target, err := parseAddress("callback.target", j.Callback.Target)
		if err != nil {
			return nil, err
		}
		call := &extcall.Call{Target: target, Payload: j.Callback.Payload}
		for i, a := range j.Callback.Accounts {
			account, err := parseAddress(fmt.Sprintf("callback.accounts[%d]", i), a.Address)
			if err != nil {
				return nil, err
			}
			call.Accounts = append(call.Accounts, extcall.AccountMeta{Address: account, Writable: a.Writable})
		}
		op.Callback = call
	}
	return op, nil
}

func parseCloseAuction(header core.OpHeader, body []byte) (*core.CloseAuction, error) {
	var j struct {
		Auction string `json:"auction"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse CloseAuction: %w", err)
	}
	auction, err := parseAddress("auction", j.Auction)
	if err != nil {
		return nil, err
	}
	return &core.CloseAuction{OpHeader: header, Auction: auction}, nil
}

func parseDistributeFees(header core.OpHeader, body []byte) (*core.DistributeFees, error) {
	var j struct {
		Index uint64 `json:"index"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse DistributeFees: %w", err)
	}
	return &core.DistributeFees{OpHeader: header, Index: j.Index}, nil
}

func parseCrankDistribution(header core.OpHeader, body []byte) (*core.CrankDistribution, error) {
	var j struct {
		Index      uint64   `json:"index"`
		Recipients []string `json:"recipients"`
	}
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("parse CrankDistribution: %w", err)
	}
	recipients := make([]addr.Address, 0, len(j.Recipients))
	for i, r := range j.Recipients {
		recipient, err := parseAddress(fmt.Sprintf("recipients[%d]", i), r)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}
	return &core.CrankDistribution{OpHeader: header, Index: j.Index, Recipients: recipients}, nil
}
