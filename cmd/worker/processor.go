package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
)

// AttemptCounter records one more reconciliation attempt on an order.
type AttemptCounter interface {
	IncrementAttempts(ctx context.Context, orderID string) error
}

// Replayer finalises a deferred payment reconciliation.
type Replayer interface {
	Replay(ctx context.Context, ev checkout.Event) error
}

// Processor consumes checkout events from SQS. reconcile.requested events are
// replayed until the order is finalised; other events are logged.
type Processor struct {
	attempts AttemptCounter
	replayer Replayer
}

// NewProcessor creates a worker processor.
func NewProcessor(attempts AttemptCounter, replayer Replayer) *Processor {
	return &Processor{attempts: attempts, replayer: replayer}
}

// Handle processes a batch and reports the messages that failed, so only
// those are redelivered (and moved to the DLQ after maxReceiveCount).
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			log.Printf("[worker] message=%s failed: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg checkout.Event
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	if msg.Type != checkout.EventReconcileRequested {
		log.Printf("[worker] event=%s order=%s", msg.Type, msg.OrderID)
		return nil
	}

	log.Printf("[worker] reconcile order=%s payment=%s reason=%q", msg.OrderID, msg.GatewayPaymentID, msg.Reason)
	if err := p.attempts.IncrementAttempts(ctx, msg.OrderID); err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	if err := p.replayer.Replay(ctx, msg); err != nil {
		return err
	}
	return nil
}
