package notify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"BasketLedger/internal/event"
	"BasketLedger/internal/observability"
)

// Publisher publishes committed notifications to NATS for downstream
// consumers. Notifications are published after persistence confirms them, so
// a subscriber never sees a sequence the log cannot replay.
// Subjects follow the pattern: basket.events.{note_type}.{basket}
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.Envelope
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// publishedNote is the outbound wire format. Hashes are hex so consumers in
// any language can verify the chain.
type publishedNote struct {
	Sequence    int64           `json:"sequence"`
	NoteType    string          `json:"note_type"`
	OperationID string          `json:"operation_id"`
	Basket      string          `json:"basket"`
	Payload     json.RawMessage `json:"payload"`
	StateHash   string          `json:"state_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewPublisher(
	js jetstream.JetStream,
	inputChan <-chan *event.Envelope,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log.With().Str("component", "notify_publisher").Logger(),
	}
}

// Run starts the publisher loop. Publish failures are non-fatal: downstream
// consumers can query the notification log directly.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env *event.Envelope) error {
	note := publishedNote{
		Sequence:    env.Sequence,
		NoteType:    env.Type.String(),
		OperationID: env.OperationID,
		Basket:      env.Basket.String(),
		Payload:     env.Payload,
		StateHash:   hex.EncodeToString(env.StateHash[:]),
		PrevHash:    hex.EncodeToString(env.PrevHash[:]),
		Timestamp:   env.Timestamp,
	}

	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("basket.events.%s.%s", env.Type, env.Basket)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the outbound notification stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "BASKET_EVENTS",
		Subjects:  []string{"basket.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	log.Info().Str("stream", "BASKET_EVENTS").Msg("ensured stream")
	return nil
}
