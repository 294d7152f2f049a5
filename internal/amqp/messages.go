package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds carried by InvoiceEventMessage
const (
	EventInvoiceCreated       = "invoice.created"
	EventInvoiceStatusChanged = "invoice.status_changed"
)

// InvoiceEventMessage announces a change to one invoice. It carries only ids and
// the affected due year; consumers reload the data they need from storage.
type InvoiceEventMessage struct {
	Kind        string    `json:"kind"`
	InvoiceID   string    `json:"invoice_id"`
	WorkspaceID string    `json:"workspace_id"`
	DueYear     int       `json:"due_year"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewInvoiceEventMessage creates a new event message stamped with the current time
func NewInvoiceEventMessage(kind, invoiceID, workspaceID string, dueYear int) *InvoiceEventMessage {
	return &InvoiceEventMessage{
		Kind:        kind,
		InvoiceID:   invoiceID,
		WorkspaceID: workspaceID,
		DueYear:     dueYear,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *InvoiceEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceEventMessageFromJSON creates a message from JSON bytes
func InvoiceEventMessageFromJSON(data []byte) (*InvoiceEventMessage, error) {
	var msg InvoiceEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
