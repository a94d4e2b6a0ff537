package core

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/basket"
	"BasketLedger/internal/classify"
	"BasketLedger/internal/event"
	"BasketLedger/internal/extcall"
	"BasketLedger/internal/feeconfig"
	"BasketLedger/internal/state"
)

type testEnv struct {
	engine    *Engine
	persist   chan Output
	owner     addr.Address
	tokenRef  addr.Address
	basketRef addr.Address
	base      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	identity := addr.New("basket-engine")
	provider, err := feeconfig.NewProvider(identity, feeconfig.Config{
		Recipient:     addr.New("protocol-treasury"),
		ProtocolShare: 5000,
	})
	if err != nil {
		t.Fatalf("fee provider: %v", err)
	}

	persist := make(chan Output, 256)
	projection := make(chan Output, 256)

	return &testEnv{
		engine: NewEngine(
			identity, 1, provider,
			classify.NewRegistry(),
			extcall.NewDispatcher(identity),
			persist, projection,
			nil, nil,
		),
		persist:  persist,
		owner:    addr.New("owner"),
		tokenRef: addr.New("basket-token"),
		base:     time.Unix(1_700_000_000, 0).UTC(),
	}
}

func opHeader(caller, basketRef addr.Address, at time.Time) OpHeader {
	return OpHeader{
		OperationID: uuid.New(),
		Caller:      caller,
		Basket:      basketRef,
		Timestamp:   at,
	}
}

// createBasket provisions a basket with the given value fee schedule and a
// 100-second auction length.
func (env *testEnv) createBasket(t *testing.T, valueFee uint64) {
	t.Helper()
	err := env.engine.Apply(&CreateBasket{
		OpHeader:       opHeader(env.owner, addr.Zero, env.base),
		TokenReference: env.tokenRef,
		ValueFee:       valueFee,
		AuctionLength:  100,
	})
	if err != nil {
		t.Fatalf("create basket: %v", err)
	}
	env.basketRef = env.engine.BasketAddress(env.tokenRef)
}

func (env *testEnv) apply(t *testing.T, op Operation) {
	t.Helper()
	if err := env.engine.Apply(op); err != nil {
		t.Fatalf("%s: %v", op.OpType(), err)
	}
}

// drain empties the persist channel.
func (env *testEnv) drain() []Output {
	var out []Output
	for {
		select {
		case o := <-env.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

func detailFor(asset addr.Address, spot, priceLow, priceHigh *uint256.Int) basket.RebalanceDetail {
	return basket.RebalanceDetail{
		Asset: asset,
		Limits: basket.RebalanceLimits{
			Spot: spot.Clone(),
			Low:  uint256.NewInt(0),
			High: spot.Clone(),
		},
		Prices: basket.PriceRange{
			Low:  priceLow.Clone(),
			High: priceHigh.Clone(),
		},
	}
}

// setupAuction builds an initialized basket holding 1000 units of the sell
// asset and 1000 outstanding shares, then opens a sell/buy auction with
// price bands crossing to a 2.0 -> 0.5 D18 curve over 100 seconds.
func setupAuction(t *testing.T, sellSpot *uint256.Int) (*testEnv, addr.Address, addr.Address, addr.Address) {
	t.Helper()

	env := newTestEnv(t)
	env.createBasket(t, 0)
	sell := addr.New("asset-sell")
	buy := addr.New("asset-buy")
	mgr := addr.New("rebalance-manager")

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: sell, Amount: 1000})
	env.apply(t, &FinalizeBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base)})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})
	env.apply(t, &GrantRole{OpHeader: opHeader(env.owner, env.basketRef, env.base), Authority: mgr, Role: state.RoleRebalanceManager})
	env.apply(t, &OpenRebalance{OpHeader: opHeader(mgr, env.basketRef, env.base), LauncherWindow: 0, TTL: 3600})

	one := uint256.NewInt(1_000_000_000_000_000_000)
	two := uint256.NewInt(2_000_000_000_000_000_000)
	env.apply(t, &AddRebalanceDetails{
		OpHeader: opHeader(mgr, env.basketRef, env.base),
		Nonce:    1,
		Entries: []basket.RebalanceDetail{
			detailFor(sell, sellSpot, one, two),
			detailFor(buy, one, one, two),
		},
		AllAdded: true,
	})
	env.apply(t, &OpenAuction{OpHeader: opHeader(mgr, env.basketRef, env.base), Nonce: 1, Sell: sell, Buy: buy})

	auctionID, _ := state.AuctionAddress(env.engine.Identity(), env.basketRef, 1, sell, buy)
	if env.engine.Auction(auctionID) == nil {
		t.Fatalf("auction not opened at derived address")
	}
	env.drain()
	return env, auctionID, sell, buy
}

func TestCreateBasketGrantsOwnerAndEmits(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)

	b := env.engine.Basket(env.basketRef)
	if b == nil {
		t.Fatal("basket record missing")
	}
	if b.Status != state.StatusInitializing {
		t.Errorf("status = %s, want Initializing", b.Status)
	}
	if b.ValueFeeNumerator != 100 {
		t.Errorf("value fee = %d, want 100", b.ValueFeeNumerator)
	}
	if !env.engine.HasRole(env.owner, env.basketRef, state.RoleOwner) {
		t.Error("creator did not receive the owner role")
	}

	out := env.drain()
	if len(out) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(out))
	}
	envlp := out[0].Envelope
	if envlp.Type != event.NoteTypeBasketCreated {
		t.Errorf("note type = %s, want BasketCreated", envlp.Type)
	}
	if envlp.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", envlp.Sequence)
	}
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	if envlp.PrevHash != genesis {
		t.Error("first envelope does not chain from genesis")
	}
}

func TestDuplicateOperationIsSilentlySkipped(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	env.drain()

	op := &SetValueFee{OpHeader: opHeader(env.owner, env.basketRef, env.base), Numerator: 50}
	env.apply(t, op)
	seq := env.engine.GetSequence()
	env.drain()

	if err := env.engine.Apply(op); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if env.engine.GetSequence() != seq {
		t.Errorf("sequence advanced on replay: %d -> %d", seq, env.engine.GetSequence())
	}
	if out := env.drain(); len(out) != 0 {
		t.Errorf("replay emitted %d envelopes", len(out))
	}
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)

	stranger := addr.New("stranger")
	err := env.engine.Apply(&SetValueFee{OpHeader: opHeader(stranger, env.basketRef, env.base), Numerator: 0})
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := env.engine.Basket(env.basketRef).ValueFeeNumerator; got != 100 {
		t.Errorf("value fee mutated by rejected op: %d", got)
	}
}

func TestFailedOperationLeavesNoPartialState(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	user := addr.New("user")

	// The second entry is invalid; the first must not land either.
	err := env.engine.Apply(&AddToPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts: []basket.TokenAmount{
			{Asset: addr.New("asset-a"), Amount: 500},
			{Asset: addr.Zero, Amount: 1},
		},
	})
	if !errors.Is(err, basket.ErrZeroAsset) {
		t.Fatalf("err = %v, want ErrZeroAsset", err)
	}
	if env.engine.Pending(user, env.basketRef) != nil {
		t.Error("partial pending record committed by failed operation")
	}
}

func TestPokeAccrualIsDeterministicAndPathIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1_000_000})

	// Rate = floor(1_000_000 * 100 / 10_000) = 10_000 per second.
	env.apply(t, &Poke{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(30 * time.Second))})
	env.apply(t, &Poke{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60 * time.Second))})

	b := env.engine.Basket(env.basketRef)
	total := b.PendingProtocolFee + b.PendingRecipientFee
	if total != 600_000 {
		t.Fatalf("accrued = %d, want 600_000", total)
	}
	if b.PendingProtocolFee != 300_000 || b.PendingRecipientFee != 300_000 {
		t.Errorf("split = %d/%d, want 300_000/300_000", b.PendingProtocolFee, b.PendingRecipientFee)
	}

	// Same timestamp again: nothing more accrues.
	env.apply(t, &Poke{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60 * time.Second))})
	b = env.engine.Basket(env.basketRef)
	if b.PendingProtocolFee+b.PendingRecipientFee != 600_000 {
		t.Errorf("repeated poke changed accrual: %d", b.PendingProtocolFee+b.PendingRecipientFee)
	}
}

func TestMintAndRedeemProRata(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	assetA := addr.New("asset-a")

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: assetA, Amount: 1000})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})

	user := addr.New("user")
	env.apply(t, &AddToPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 600}},
	})
	env.apply(t, &Mint{OpHeader: opHeader(user, env.basketRef, env.base), Shares: 500})

	b := env.engine.Basket(env.basketRef)
	if b.Supply != 1500 {
		t.Errorf("supply = %d, want 1500", b.Supply)
	}
	if got := b.Composition.AmountOrZero(assetA); got != 1500 {
		t.Errorf("composition = %d, want 1500", got)
	}
	p := env.engine.Pending(user, env.basketRef)
	if p == nil || p.ForMinting(assetA) != 100 {
		t.Errorf("pending deposit not debited to 100")
	}

	env.apply(t, &Redeem{OpHeader: opHeader(user, env.basketRef, env.base), Shares: 300})
	b = env.engine.Basket(env.basketRef)
	if b.Supply != 1200 {
		t.Errorf("supply after redeem = %d, want 1200", b.Supply)
	}
	if got := b.Composition.AmountOrZero(assetA); got != 1200 {
		t.Errorf("composition after redeem = %d, want 1200", got)
	}
	p = env.engine.Pending(user, env.basketRef)
	if p == nil || p.ForRedeeming(assetA) != 300 {
		t.Errorf("redeem proceeds not credited to pending")
	}
}

func TestRemoveFromPendingWithdrawsRedeemProceeds(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	assetA := addr.New("asset-a")

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: assetA, Amount: 1000})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})

	user := addr.New("user")
	env.apply(t, &AddToPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 600}},
	})
	env.apply(t, &Mint{OpHeader: opHeader(user, env.basketRef, env.base), Shares: 500})
	env.apply(t, &Redeem{OpHeader: opHeader(user, env.basketRef, env.base), Shares: 300})

	// 300 parked on the redeem side, 100 still staged on the mint side. The
	// sides are independent: a redeem withdrawal cannot reach across.
	err := env.engine.Apply(&RemoveFromPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 400}},
		Redeem:   true,
	})
	if err == nil {
		t.Fatal("withdrew more than the redeem side holds")
	}

	env.apply(t, &RemoveFromPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 300}},
		Redeem:   true,
	})
	p := env.engine.Pending(user, env.basketRef)
	if p == nil || p.ForRedeeming(assetA) != 0 {
		t.Fatal("redeem proceeds not withdrawn")
	}
	if got := p.ForMinting(assetA); got != 100 {
		t.Errorf("redeem withdrawal touched the mint side: %d, want 100", got)
	}

	env.apply(t, &RemoveFromPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 100}},
	})
	p = env.engine.Pending(user, env.basketRef)
	if p != nil && (p.ForMinting(assetA) != 0 || p.ForRedeeming(assetA) != 0) {
		t.Error("mint-side deposit not withdrawn")
	}
}

func TestMintWithInsufficientBackingFails(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	assetA := addr.New("asset-a")

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: assetA, Amount: 1000})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})

	user := addr.New("user")
	env.apply(t, &AddToPending{
		OpHeader: opHeader(user, env.basketRef, env.base),
		Amounts:  []basket.TokenAmount{{Asset: assetA, Amount: 100}},
	})
	err := env.engine.Apply(&Mint{OpHeader: opHeader(user, env.basketRef, env.base), Shares: 500})
	if err == nil {
		t.Fatal("mint succeeded without backing")
	}

	b := env.engine.Basket(env.basketRef)
	if b.Supply != 1000 || b.Composition.AmountOrZero(assetA) != 1000 {
		t.Error("failed mint mutated basket state")
	}
	if p := env.engine.Pending(user, env.basketRef); p.ForMinting(assetA) != 100 {
		t.Error("failed mint debited pending deposit")
	}
}

func TestAuctionPriceDeclinesLinearly(t *testing.T) {
	env, auctionID, sell, buy := setupAuction(t, uint256.NewInt(0))

	// Curve runs 2.0 -> 0.5 over 100s; at t+50 the price is 1.25.
	a := env.engine.Auction(auctionID)
	price, err := a.Price(env.base.Add(50 * time.Second))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := uint256.NewInt(1_250_000_000_000_000_000)
	if !price.Eq(want) {
		t.Fatalf("price = %s, want %s", price, want)
	}

	bidder := addr.New("bidder")
	env.apply(t, &Bid{
		OpHeader:     opHeader(bidder, env.basketRef, env.base.Add(50*time.Second)),
		Auction:      auctionID,
		SellAmount:   100,
		MaxBuyAmount: 125,
	})

	b := env.engine.Basket(env.basketRef)
	if got := b.Composition.AmountOrZero(sell); got != 900 {
		t.Errorf("sell balance = %d, want 900", got)
	}
	if got := b.Composition.AmountOrZero(buy); got != 125 {
		t.Errorf("buy balance = %d, want 125", got)
	}

	var bid *event.Envelope
	for _, out := range env.drain() {
		if out.Envelope.Type == event.NoteTypeAuctionBid {
			bid = out.Envelope
		}
	}
	if bid == nil {
		t.Fatal("no bid notification emitted")
	}
}

func TestBidExceedingMaxBuyRejected(t *testing.T) {
	env, auctionID, _, _ := setupAuction(t, uint256.NewInt(0))

	bidder := addr.New("bidder")
	err := env.engine.Apply(&Bid{
		OpHeader:     opHeader(bidder, env.basketRef, env.base.Add(50*time.Second)),
		Auction:      auctionID,
		SellAmount:   100,
		MaxBuyAmount: 124,
	})
	if !errors.Is(err, state.ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
}

func TestCloseAuctionStopsFurtherBids(t *testing.T) {
	env, auctionID, _, _ := setupAuction(t, uint256.NewInt(0))

	env.apply(t, &CloseAuction{
		OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60*time.Second)),
		Auction:  auctionID,
	})

	bidder := addr.New("bidder")
	err := env.engine.Apply(&Bid{
		OpHeader:     opHeader(bidder, env.basketRef, env.base.Add(70*time.Second)),
		Auction:      auctionID,
		SellAmount:   10,
		MaxBuyAmount: 100,
	})
	if !errors.Is(err, state.ErrAuctionNotOpen) {
		t.Fatalf("err = %v, want ErrAuctionNotOpen", err)
	}

	a := env.engine.Auction(auctionID)
	if a.Status(env.base.Add(70*time.Second)) != state.AuctionClosed {
		t.Error("auction not closed")
	}
}

func TestRecloseIsNoOpBeyondNotification(t *testing.T) {
	env, auctionID, _, _ := setupAuction(t, uint256.NewInt(0))

	env.apply(t, &CloseAuction{
		OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60*time.Second)),
		Auction:  auctionID,
	})
	closedEnd := env.engine.Auction(auctionID).End
	env.drain()

	env.apply(t, &CloseAuction{
		OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(65*time.Second)),
		Auction:  auctionID,
	})

	if got := env.engine.Auction(auctionID).End; !got.Equal(closedEnd) {
		t.Errorf("re-close moved the end time: %v -> %v", closedEnd, got)
	}
	out := env.drain()
	if len(out) != 1 || out[0].Envelope.Type != event.NoteTypeAuctionClosed {
		t.Fatalf("re-close emitted %d envelopes, want exactly one AuctionClosed", len(out))
	}
}

func TestBidSelfClosesOnLimitExhaustion(t *testing.T) {
	// Sell target 0.9 per share: only 100 of the 1000 units are surplus.
	env, auctionID, _, _ := setupAuction(t, uint256.NewInt(900_000_000_000_000_000))

	bidder := addr.New("bidder")
	env.apply(t, &Bid{
		OpHeader:     opHeader(bidder, env.basketRef, env.base.Add(50*time.Second)),
		Auction:      auctionID,
		SellAmount:   100,
		MaxBuyAmount: 125,
	})

	var closed bool
	for _, out := range env.drain() {
		if out.Envelope.Type == event.NoteTypeAuctionClosed {
			closed = true
		}
	}
	if !closed {
		t.Fatal("exhausted auction did not emit a close notification")
	}

	err := env.engine.Apply(&Bid{
		OpHeader:     opHeader(bidder, env.basketRef, env.base.Add(51*time.Second)),
		Auction:      auctionID,
		SellAmount:   1,
		MaxBuyAmount: 10,
	})
	if !errors.Is(err, state.ErrAuctionNotOpen) {
		t.Fatalf("err = %v, want ErrAuctionNotOpen", err)
	}
}

func TestOpenAuctionPairCollision(t *testing.T) {
	env, auctionID, sell, buy := setupAuction(t, uint256.NewInt(0))
	mgr := addr.New("rebalance-manager")

	err := env.engine.Apply(&OpenAuction{
		OpHeader: opHeader(mgr, env.basketRef, env.base.Add(10*time.Second)),
		Nonce:    1, Sell: sell, Buy: buy,
	})
	if !errors.Is(err, state.ErrAuctionCollision) {
		t.Fatalf("err = %v, want ErrAuctionCollision", err)
	}

	// Same pair reopens once the live auction is closed.
	env.apply(t, &CloseAuction{
		OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(20*time.Second)),
		Auction:  auctionID,
	})
	env.apply(t, &OpenAuction{
		OpHeader: opHeader(mgr, env.basketRef, env.base.Add(30*time.Second)),
		Nonce:    1, Sell: sell, Buy: buy,
	})
}

func TestRestrictedWindowBlocksNonLaunchers(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	sell := addr.New("asset-sell")
	buy := addr.New("asset-buy")
	mgr := addr.New("rebalance-manager")
	launcher := addr.New("launcher")

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: sell, Amount: 1000})
	env.apply(t, &FinalizeBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base)})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})
	env.apply(t, &GrantRole{OpHeader: opHeader(env.owner, env.basketRef, env.base), Authority: mgr, Role: state.RoleRebalanceManager})
	env.apply(t, &GrantRole{OpHeader: opHeader(env.owner, env.basketRef, env.base), Authority: launcher, Role: state.RoleAuctionLauncher})
	env.apply(t, &OpenRebalance{OpHeader: opHeader(mgr, env.basketRef, env.base), LauncherWindow: 600, TTL: 3600})

	one := uint256.NewInt(1_000_000_000_000_000_000)
	two := uint256.NewInt(2_000_000_000_000_000_000)
	env.apply(t, &AddRebalanceDetails{
		OpHeader: opHeader(mgr, env.basketRef, env.base),
		Nonce:    1,
		Entries: []basket.RebalanceDetail{
			detailFor(sell, uint256.NewInt(0), one, two),
			detailFor(buy, one, one, two),
		},
		AllAdded: true,
	})

	// Inside the launcher window the manager may not open.
	err := env.engine.Apply(&OpenAuction{
		OpHeader: opHeader(mgr, env.basketRef, env.base.Add(100*time.Second)),
		Nonce:    1, Sell: sell, Buy: buy,
	})
	if !errors.Is(err, state.ErrRebalanceRestricted) {
		t.Fatalf("err = %v, want ErrRebalanceRestricted", err)
	}

	// The dedicated launcher may.
	env.apply(t, &OpenAuction{
		OpHeader: opHeader(launcher, env.basketRef, env.base.Add(100*time.Second)),
		Nonce:    1, Sell: sell, Buy: buy,
	})

	// Past the TTL nobody may.
	err = env.engine.Apply(&OpenAuction{
		OpHeader: opHeader(launcher, env.basketRef, env.base.Add(4000*time.Second)),
		Nonce:    1, Sell: sell, Buy: buy,
	})
	if !errors.Is(err, state.ErrRebalanceExpired) {
		t.Fatalf("err = %v, want ErrRebalanceExpired", err)
	}
}

func TestStagedDetailsEmitOneRebalanceStarted(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 0)
	mgr := addr.New("rebalance-manager")
	assets := []addr.Address{addr.New("asset-a"), addr.New("asset-b"), addr.New("asset-c")}

	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: assets[0], Amount: 1000})
	env.apply(t, &FinalizeBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base)})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})
	env.apply(t, &GrantRole{OpHeader: opHeader(env.owner, env.basketRef, env.base), Authority: mgr, Role: state.RoleRebalanceManager})
	env.apply(t, &OpenRebalance{OpHeader: opHeader(mgr, env.basketRef, env.base), LauncherWindow: 600, TTL: 3600})
	env.drain()

	one := uint256.NewInt(1_000_000_000_000_000_000)
	two := uint256.NewInt(2_000_000_000_000_000_000)
	for _, asset := range assets {
		env.apply(t, &AddRebalanceDetails{
			OpHeader: opHeader(mgr, env.basketRef, env.base),
			Nonce:    1,
			Entries:  []basket.RebalanceDetail{detailFor(asset, one, one, two)},
		})
	}
	if out := env.drain(); len(out) != 0 {
		t.Fatalf("partial detail batches emitted %d envelopes, want none", len(out))
	}

	env.apply(t, &AddRebalanceDetails{
		OpHeader: opHeader(mgr, env.basketRef, env.base),
		Nonce:    1,
		AllAdded: true,
	})
	out := env.drain()
	if len(out) != 1 || out[0].Envelope.Type != event.NoteTypeRebalanceStarted {
		t.Fatalf("sealing batch emitted %d envelopes, want exactly one RebalanceStarted", len(out))
	}
	started := out[0].Note.(*event.RebalanceStarted)
	if started.Nonce != 1 || len(started.Details) != len(assets) {
		t.Fatalf("notification carries nonce %d with %d details, want nonce 1 with %d",
			started.Nonce, len(started.Details), len(assets))
	}
	for i, asset := range assets {
		if started.Details[i].Asset != asset {
			t.Errorf("details[%d] = %s, want %s", i, started.Details[i].Asset, asset)
		}
	}

	err := env.engine.Apply(&AddRebalanceDetails{
		OpHeader: opHeader(mgr, env.basketRef, env.base),
		Nonce:    1,
		Entries:  []basket.RebalanceDetail{detailFor(addr.New("asset-d"), one, one, two)},
	})
	if !errors.Is(err, state.ErrDetailsSealed) {
		t.Fatalf("err = %v, want ErrDetailsSealed", err)
	}
	if out := env.drain(); len(out) != 0 {
		t.Errorf("rejected batch emitted %d envelopes", len(out))
	}
}

func TestDistributionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1_000_000})

	r1 := addr.New("recipient-1")
	r2 := addr.New("recipient-2")
	env.apply(t, &AddFeeRecipient{OpHeader: opHeader(env.owner, env.basketRef, env.base), Recipient: r1, Portion: 6000})
	env.apply(t, &AddFeeRecipient{OpHeader: opHeader(env.owner, env.basketRef, env.base), Recipient: r2, Portion: 4000})
	env.drain()

	// Index must advance one at a time.
	err := env.engine.Apply(&DistributeFees{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60 * time.Second)), Index: 2})
	if !errors.Is(err, state.ErrDistributionIndex) {
		t.Fatalf("err = %v, want ErrDistributionIndex", err)
	}

	env.apply(t, &DistributeFees{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(60 * time.Second)), Index: 1})

	b := env.engine.Basket(env.basketRef)
	if b.PendingProtocolFee != 0 || b.PendingRecipientFee != 0 {
		t.Error("pending fees not cleared by distribution")
	}
	if b.DistributionIndex != 1 {
		t.Errorf("distribution index = %d, want 1", b.DistributionIndex)
	}

	var protocolPaid uint64
	for _, out := range env.drain() {
		if out.Envelope.Type == event.NoteTypeProtocolFeePaid {
			protocolPaid = out.Note.(*event.ProtocolFeePaid).Amount
		}
	}
	if protocolPaid != 300_000 {
		t.Errorf("protocol payout = %d, want 300_000", protocolPaid)
	}

	fd := env.engine.Distribution(env.basketRef, 1)
	if fd == nil || fd.Amount != 300_000 {
		t.Fatal("recipient distribution not opened with 300_000")
	}

	env.apply(t, &CrankDistribution{
		OpHeader:   opHeader(addr.New("cranker"), env.basketRef, env.base.Add(61 * time.Second)),
		Index:      1,
		Recipients: []addr.Address{r1, r2},
	})

	var payouts []uint64
	for _, out := range env.drain() {
		if out.Envelope.Type == event.NoteTypeValueFeePaid {
			payouts = append(payouts, out.Note.(*event.ValueFeePaid).Amount)
		}
	}
	if len(payouts) != 2 || payouts[0] != 180_000 || payouts[1] != 120_000 {
		t.Errorf("payouts = %v, want [180_000 120_000]", payouts)
	}

	// Fully distributed records are reclaimed; the same recipient cannot be
	// paid twice.
	if env.engine.Distribution(env.basketRef, 1) != nil {
		t.Error("fully distributed record not reclaimed")
	}
	err = env.engine.Apply(&CrankDistribution{
		OpHeader:   opHeader(addr.New("cranker"), env.basketRef, env.base.Add(62 * time.Second)),
		Index:      1,
		Recipients: []addr.Address{r1},
	})
	if !errors.Is(err, state.ErrDistributionNotFound) {
		t.Fatalf("err = %v, want ErrDistributionNotFound", err)
	}
}

func TestKilledBasketGatesMutations(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)
	assetA := addr.New("asset-a")
	env.apply(t, &AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base), Asset: assetA, Amount: 1000})
	env.apply(t, &FinalizeBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base)})
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})

	mgr := addr.New("rebalance-manager")
	env.apply(t, &GrantRole{OpHeader: opHeader(env.owner, env.basketRef, env.base), Authority: mgr, Role: state.RoleRebalanceManager})
	env.apply(t, &OpenRebalance{OpHeader: opHeader(mgr, env.basketRef, env.base), LauncherWindow: 0, TTL: 3600})

	env.apply(t, &KillBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(10 * time.Second))})

	b := env.engine.Basket(env.basketRef)
	if b.Status != state.StatusKilled {
		t.Fatalf("status = %s, want Killed", b.Status)
	}
	if env.engine.Rebalance(env.basketRef) != nil {
		t.Error("active rebalance survived the kill")
	}

	err := env.engine.Apply(&Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(20 * time.Second)), Shares: 10})
	if !errors.Is(err, state.ErrInvalidStatus) {
		t.Fatalf("mint err = %v, want ErrInvalidStatus", err)
	}
	err = env.engine.Apply(&AddAsset{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(20 * time.Second)), Asset: addr.New("asset-b"), Amount: 1})
	if !errors.Is(err, state.ErrInvalidStatus) {
		t.Fatalf("add asset err = %v, want ErrInvalidStatus", err)
	}

	// Redeem and poke still work so holders can exit.
	env.apply(t, &Redeem{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(30 * time.Second)), Shares: 100})
	env.apply(t, &Poke{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(40 * time.Second))})
}

func TestBidCallbackFailureAbortsSettlement(t *testing.T) {
	env, auctionID, sell, _ := setupAuction(t, uint256.NewInt(0))

	target := addr.New("settlement-program")
	// No handler registered for the target: the callback fails.
	err := env.engine.Apply(&Bid{
		OpHeader:     opHeader(addr.New("bidder"), env.basketRef, env.base.Add(50*time.Second)),
		Auction:      auctionID,
		SellAmount:   100,
		MaxBuyAmount: 125,
		Callback:     &extcall.Call{Target: target},
	})
	if !errors.Is(err, extcall.ErrUnknownTarget) {
		t.Fatalf("err = %v, want ErrUnknownTarget", err)
	}
	if got := env.engine.Basket(env.basketRef).Composition.AmountOrZero(sell); got != 1000 {
		t.Errorf("failed callback moved assets: sell balance %d", got)
	}
}

func TestEnvelopeHashChain(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)
	env.apply(t, &SetValueFee{OpHeader: opHeader(env.owner, env.basketRef, env.base), Numerator: 50})
	env.apply(t, &KillBasket{OpHeader: opHeader(env.owner, env.basketRef, env.base.Add(time.Second))})

	out := env.drain()
	if len(out) < 3 {
		t.Fatalf("envelopes = %d, want >= 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Envelope.PrevHash != out[i-1].Envelope.StateHash {
			t.Errorf("envelope %d does not chain from its predecessor", i)
		}
		if out[i].Envelope.Sequence != out[i-1].Envelope.Sequence+1 {
			t.Errorf("sequence gap at envelope %d", i)
		}
	}
	if env.engine.GetStateHash() != out[len(out)-1].Envelope.StateHash {
		t.Error("engine chain tip does not match last envelope")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.createBasket(t, 100)
	env.apply(t, &Mint{OpHeader: opHeader(env.owner, env.basketRef, env.base), Shares: 1000})
	env.drain()

	snap := env.engine.CreateSnapshotState()

	restored := newTestEnv(t)
	restored.engine.RestoreFromSnapshot(snap)

	b := restored.engine.Basket(env.basketRef)
	if b == nil || b.Supply != 1000 {
		t.Fatal("basket not restored from snapshot")
	}
	if !restored.engine.HasRole(env.owner, env.basketRef, state.RoleOwner) {
		t.Error("actor records not restored")
	}
	if restored.engine.GetStateHash() != env.engine.GetStateHash() {
		t.Error("chain tip not restored")
	}
	if restored.engine.GetSequence() != env.engine.GetSequence() {
		t.Errorf("sequence = %d, want %d", restored.engine.GetSequence(), env.engine.GetSequence())
	}
}
