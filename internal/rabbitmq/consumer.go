package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"internship-chat/internal/chat"
	"internship-chat/internal/models"
	"internship-chat/internal/observability"
)

const AssignmentRoutingKey = "case.advisor_assigned"

// AssignmentEvent is published by the case service when an advisor takes a case.
type AssignmentEvent struct {
	CaseID    string                     `json:"case_id"`
	AdvisorID string                     `json:"advisor_id"`
	StudentID string                     `json:"student_id"`
	Advisor   *models.CounterpartProfile `json:"advisor,omitempty"`
}

// Binder is the part of chat.Service the consumer drives.
type Binder interface {
	BindCounterpart(ctx context.Context, req chat.BindRequest) (chat.BindResult, error)
}

// AssignmentConsumer binds advisors to conversations as assignment events arrive.
type AssignmentConsumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	binder Binder
}

// NewAssignmentConsumer declares the queue, binds it to the exchange and
// limits in-flight deliveries.
func NewAssignmentConsumer(amqpURL, exchange, queue string, binder Binder) (*AssignmentConsumer, error) {
	conn, ch, err := openExchange(amqpURL, exchange)
	if err != nil {
		return nil, err
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, err
	}
	if err := ch.QueueBind(queue, AssignmentRoutingKey, exchange, false, nil); err != nil {
		closeAll()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		closeAll()
		return nil, err
	}

	return &AssignmentConsumer{conn: conn, ch: ch, queue: queue, binder: binder}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *AssignmentConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	log.Info().Str("queue", c.queue).Msg("assignment consumer started")
	return c.consume(ctx, deliveries)
}

// consume drains deliveries. A channel closed by cancellation is a clean stop.
func (c *AssignmentConsumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("assignment deliveries channel closed")
			}
			handleAssignment(ctx, c.binder, c.queue, d)
		}
	}
}

func (c *AssignmentConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func handleAssignment(ctx context.Context, binder Binder, queue string, d amqp.Delivery) {
	if requestID, ok := d.Headers["x-request-id"].(string); ok {
		ctx = observability.ContextWithRequestID(ctx, requestID)
	} else if d.CorrelationId != "" {
		ctx = observability.ContextWithRequestID(ctx, d.CorrelationId)
	}

	var event AssignmentEvent
	if err := json.Unmarshal(d.Body, &event); err != nil || strings.TrimSpace(event.CaseID) == "" {
		log.Warn().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("dropping malformed assignment event")
		observability.IncAMQPConsumed(queue, "rejected")
		_ = d.Reject(false)
		return
	}

	result, err := binder.BindCounterpart(ctx, chat.BindRequest{
		ConversationID: event.CaseID,
		CounterpartID:  event.AdvisorID,
		InitiatorID:    event.StudentID,
		Counterpart:    event.Advisor,
	})
	switch kind := chat.KindOf(err); {
	case err == nil:
		log.Info().Str("conversation_id", event.CaseID).Str("counterpart_id", event.AdvisorID).Int64("rebound", result.ReboundMessages).Bool("changed", result.Changed).Msg("assignment applied")
		observability.IncAMQPConsumed(queue, "ok")
		_ = d.Ack(false)
	case kind == chat.KindValidation || kind == chat.KindNotFound:
		log.Warn().Err(err).Str("conversation_id", event.CaseID).Msg("assignment not applicable, dropping")
		observability.IncAMQPConsumed(queue, "dropped")
		_ = d.Ack(false)
	default:
		log.Error().Err(err).Str("conversation_id", event.CaseID).Msg("assignment failed, requeueing")
		observability.IncAMQPConsumed(queue, "requeued")
		_ = d.Nack(false, true)
	}
}
