package services

import (
	"context"

	"invoiceflow/internal/amqp"
	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

// Publisher is satisfied by *amqp.Client.
type Publisher interface {
	PublishInvoiceEvent(ctx context.Context, msg *amqp.InvoiceEventMessage) error
}

// EventPublisher forwards invoice changes to the message broker. Publish
// failures are logged and never fail the write that caused them.
type EventPublisher struct {
	publisher Publisher
	logger    *log.Logger
}

func NewEventPublisher(publisher Publisher, logger *log.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, logger: logger.WithComponent(log.ComponentAMQP)}
}

func (p *EventPublisher) InvoiceChanged(ctx context.Context, change core.InvoiceChange) {
	if p.publisher == nil {
		p.logger.DebugContext(ctx, "AMQP client not available, skipping invoice event")
		return
	}

	kind := amqp.EventInvoiceCreated
	if change.Kind == core.ChangeStatusChanged {
		kind = amqp.EventInvoiceStatusChanged
	}
	inv := change.Invoice
	msg := amqp.NewInvoiceEventMessage(kind, inv.ID, inv.WorkspaceID, inv.DueDate.UTC().Year())

	if err := p.publisher.PublishInvoiceEvent(context.WithoutCancel(ctx), msg); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish invoice event",
			log.FieldInvoiceID, inv.ID,
			log.FieldWorkspaceID, inv.WorkspaceID,
			log.FieldError, err)
	}
}
