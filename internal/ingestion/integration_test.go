package ingestion_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BasketLedger/internal/addr"
	"BasketLedger/internal/core"
	"BasketLedger/internal/ingestion"
	"BasketLedger/internal/observability"
	"BasketLedger/internal/testutil"
)

// TestNATSIngestRoundTrip publishes one operation to the operation stream and
// verifies it arrives through the subscriber and parses into a typed op.
// Skipped unless INTEGRATION_TEST is set and the docker-compose.test.yml NATS
// is up.
func TestNATSIngestRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	log := observability.NewLoggerWithLevel("ingestion_test", zerolog.WarnLevel)
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), log)
	if err != nil {
		t.Skipf("test nats not available: %v (start with: docker compose -f docker-compose.test.yml up -d)", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Start from an empty stream so earlier runs cannot leak messages in.
	js.DeleteStream(ctx, "BASKET_OPS")
	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	rawChan := make(chan ingestion.RawOperation, 16)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, log)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscriber.Stop()

	opID := uuid.New()
	caller := addr.New("owner")
	basketRef := addr.New("basket-1")
	payload := fmt.Sprintf(`{
		"op_type": "Poke",
		"operation_id": %q,
		"caller": %q,
		"basket": %q,
		"timestamp_us": 1700000000000000
	}`, opID, caller, basketRef)

	if _, err := js.Publish(ctx, "basket.ops.fees.poke", []byte(payload)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-rawChan:
		op, err := ingestion.ParseOperation(raw.Data)
		if err != nil {
			t.Fatalf("parse delivered operation: %v", err)
		}
		if op.OpType() != core.OpPoke {
			t.Errorf("op type = %s, want Poke", op.OpType())
		}
		if op.Header().OperationID != opID {
			t.Error("operation id not preserved over the wire")
		}
		if op.Header().Caller != caller || op.Header().Basket != basketRef {
			t.Error("header addresses not preserved over the wire")
		}
		raw.AckFunc()
	case <-ctx.Done():
		t.Fatal("operation never delivered")
	}
}
