package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/core"
)

// CrankService injects permissionless maintenance operations (pokes,
// distribution cranks, auction closes) directly into the operation channel.
// High-throughput operation flow goes through NATS; this exists for admin
// tooling and keepers that talk to the HTTP API.
type CrankService struct {
	opChan chan<- core.Operation
}

func NewCrankService(opChan chan<- core.Operation) *CrankService {
	return &CrankService{opChan: opChan}
}

func (s *CrankService) send(ctx context.Context, op core.Operation) error {
	select {
	case s.opChan <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func header(caller, basketRef addr.Address) core.OpHeader {
	return core.OpHeader{
		OperationID: uuid.New(),
		Caller:      caller,
		Basket:      basketRef,
		Timestamp:   time.Now().UTC(),
	}
}

// Poke accrues fees on a basket up to now.
func (s *CrankService) Poke(ctx context.Context, caller, basketRef addr.Address) error {
	return s.send(ctx, &core.Poke{OpHeader: header(caller, basketRef)})
}

// CloseAuction closes an open auction.
func (s *CrankService) CloseAuction(ctx context.Context, caller, basketRef, auction addr.Address) error {
	if auction.IsZero() {
		return fmt.Errorf("auction address required")
	}
	return s.send(ctx, &core.CloseAuction{
		OpHeader: header(caller, basketRef),
		Auction:  auction,
	})
}

// DistributeFees opens the next fee distribution for a basket.
func (s *CrankService) DistributeFees(ctx context.Context, caller, basketRef addr.Address, index uint64) error {
	if index == 0 {
		return fmt.Errorf("distribution index starts at 1")
	}
	return s.send(ctx, &core.DistributeFees{
		OpHeader: header(caller, basketRef),
		Index:    index,
	})
}

// CrankDistribution pays out recipients of an open distribution.
func (s *CrankService) CrankDistribution(
	ctx context.Context,
	caller, basketRef addr.Address,
	index uint64,
	recipients []addr.Address,
) error {
	if len(recipients) == 0 {
		return fmt.Errorf("at least one recipient required")
	}
	return s.send(ctx, &core.CrankDistribution{
		OpHeader:   header(caller, basketRef),
		Index:      index,
		Recipients: recipients,
	})
}
