package types

import "time"

// Outbound job statuses reported by the fax gateway.
const (
	OutboundStatusSent      = "sent"
	OutboundStatusDelivered = "delivered"
	OutboundStatusFailed    = "failed"
)

type OutboundStatusEvent struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// ProviderRequestEvent maps the gateway status onto a state machine event.
func (e OutboundStatusEvent) ProviderRequestEvent() (ProviderRequestEvent, bool) {
	switch e.Status {
	case OutboundStatusSent:
		return EventSent, true
	case OutboundStatusDelivered:
		return EventDelivered, true
	case OutboundStatusFailed:
		return EventFailed, true
	}
	return "", false
}

// InboundDocumentEvent carries a received fax. Document is base64 on the wire.
type InboundDocumentEvent struct {
	JobID         string    `json:"job_id"`
	TransactionID string    `json:"transaction_id"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	ReceivedAt    time.Time `json:"received_at"`
	Document      []byte    `json:"document"`
}

// DeferredOutboundStatus is a gateway callback that arrived before the job
// id was stored on its provider request. It is applied once the job is known.
type DeferredOutboundStatus struct {
	JobID      string    `db:"job_id"`
	Status     string    `db:"status"`
	Error      *string   `db:"error"`
	OccurredAt time.Time `db:"occurred_at"`
	CreatedAt  time.Time `db:"created_at"`
}

func (d DeferredOutboundStatus) Event() OutboundStatusEvent {
	ev := OutboundStatusEvent{JobID: d.JobID, Status: d.Status, Timestamp: d.OccurredAt}
	if d.Error != nil {
		ev.Error = *d.Error
	}
	return ev
}
