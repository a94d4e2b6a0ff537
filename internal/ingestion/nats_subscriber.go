package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to the operation subjects on JetStream and feeds
// raw operations into the shell via opChan. NATS is the high-throughput
// ingestion surface; the HTTP API and crank service exist for admin tooling.
type NATSSubscriber struct {
	js        jetstream.JetStream
	opChan    chan<- RawOperation
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawOperation is the undecoded operation from NATS, ready for the shell to
// parse into a typed core.Operation before applying.
type RawOperation struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // ACK after the engine accepted or rejected the operation
	NakFunc  func() // NAK on transient failure (redelivered)
}

// SubjectConfig maps one operation subject family to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects groups operations by concern so each family scales its
// consumer independently. The op type travels inside the message envelope,
// not the subject.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "basket.ops.governance.>", ConsumerName: "ledger-governance", StreamName: "BASKET_OPS"},
		{Subject: "basket.ops.issuance.>", ConsumerName: "ledger-issuance", StreamName: "BASKET_OPS"},
		{Subject: "basket.ops.rebalance.>", ConsumerName: "ledger-rebalance", StreamName: "BASKET_OPS"},
		{Subject: "basket.ops.fees.>", ConsumerName: "ledger-fees", StreamName: "BASKET_OPS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, opChan chan<- RawOperation, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		opChan: opChan,
		log:    log.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawOperation{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case ns.opChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the operation stream if it does not exist. Streams
// use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "BASKET_OPS",
			Subjects:  []string{"basket.ops.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
