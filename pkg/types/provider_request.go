package types

import "time"

type ProviderRequestStatus string

const (
	ProviderRequestStatusQueued           ProviderRequestStatus = "queued"
	ProviderRequestStatusFaxSent          ProviderRequestStatus = "fax_sent"
	ProviderRequestStatusFaxDelivered     ProviderRequestStatus = "fax_delivered"
	ProviderRequestStatusFaxFailed        ProviderRequestStatus = "fax_failed"
	ProviderRequestStatusResponseReceived ProviderRequestStatus = "response_received"
)

func (s ProviderRequestStatus) IsTerminal() bool {
	return s == ProviderRequestStatusFaxFailed || s == ProviderRequestStatusResponseReceived
}

// IsAwaiting reports whether the fax went out and no reply has been linked yet.
func (s ProviderRequestStatus) IsAwaiting() bool {
	return s == ProviderRequestStatusFaxSent || s == ProviderRequestStatusFaxDelivered
}

type ProviderRequestEvent string

const (
	EventSubmitted       ProviderRequestEvent = "submitted"
	EventSubmitFailed    ProviderRequestEvent = "submit_failed"
	EventSent            ProviderRequestEvent = "sent"
	EventDelivered       ProviderRequestEvent = "delivered"
	EventFailed          ProviderRequestEvent = "failed"
	EventResponseMatched ProviderRequestEvent = "response_matched"
	EventManualFail      ProviderRequestEvent = "manual_fail"
	EventRedispatch      ProviderRequestEvent = "redispatch"
)

var providerRequestTransitions = map[ProviderRequestStatus]map[ProviderRequestEvent]ProviderRequestStatus{
	ProviderRequestStatusQueued: {
		EventSubmitted:    ProviderRequestStatusFaxSent,
		EventSent:         ProviderRequestStatusFaxSent,
		EventSubmitFailed: ProviderRequestStatusFaxFailed,
		EventManualFail:   ProviderRequestStatusFaxFailed,
	},
	ProviderRequestStatusFaxSent: {
		EventDelivered:       ProviderRequestStatusFaxDelivered,
		EventFailed:          ProviderRequestStatusFaxFailed,
		EventManualFail:      ProviderRequestStatusFaxFailed,
		EventResponseMatched: ProviderRequestStatusResponseReceived,
	},
	ProviderRequestStatusFaxDelivered: {
		EventFailed:          ProviderRequestStatusFaxFailed,
		EventManualFail:      ProviderRequestStatusFaxFailed,
		EventResponseMatched: ProviderRequestStatusResponseReceived,
	},
	ProviderRequestStatusFaxFailed: {
		EventRedispatch: ProviderRequestStatusQueued,
	},
}

// Transition returns the state reached by applying ev to from. The second
// return value is false when the transition is not allowed, in which case the
// caller must leave the row untouched.
func Transition(from ProviderRequestStatus, ev ProviderRequestEvent) (ProviderRequestStatus, bool) {
	to, ok := providerRequestTransitions[from][ev]
	if !ok {
		return from, false
	}
	return to, true
}

type ProviderRequest struct {
	ID                string                `db:"id" json:"id"`
	RecordRequestID   string                `db:"record_request_id" json:"recordRequestId"`
	ProviderID        string                `db:"provider_id" json:"providerId"`
	FaxNumberUsed     string                `db:"fax_number_used" json:"faxNumberUsed"`
	Status            ProviderRequestStatus `db:"status" json:"status"`
	OutboundJobID     *string               `db:"outbound_job_id" json:"outboundJobId,omitempty"`
	DispatchClaimedAt *time.Time            `db:"dispatch_claimed_at" json:"dispatchClaimedAt,omitempty"`
	SentAt            *time.Time            `db:"sent_at" json:"sentAt,omitempty"`
	DeliveredAt       *time.Time            `db:"delivered_at" json:"deliveredAt,omitempty"`
	RespondedAt       *time.Time            `db:"responded_at" json:"respondedAt,omitempty"`
	FailedAt          *time.Time            `db:"failed_at" json:"failedAt,omitempty"`
	FailureReason     *string               `db:"failure_reason" json:"failureReason,omitempty"`
	InboundDocumentID *string               `db:"inbound_document_id" json:"inboundDocumentId,omitempty"`
	CreatedAt         time.Time             `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time             `db:"updated_at" json:"updatedAt"`
}

// Apply moves the request through ev and stamps the matching timestamp.
// Nothing is modified when the transition is rejected.
func (pr *ProviderRequest) Apply(ev ProviderRequestEvent, at time.Time) bool {
	to, ok := Transition(pr.Status, ev)
	if !ok {
		return false
	}

	pr.Status = to
	pr.UpdatedAt = at

	switch ev {
	case EventSubmitted, EventSent:
		if pr.SentAt == nil {
			pr.SentAt = &at
		}
	case EventDelivered:
		pr.DeliveredAt = &at
	case EventFailed, EventSubmitFailed, EventManualFail:
		pr.FailedAt = &at
	case EventResponseMatched:
		pr.RespondedAt = &at
	case EventRedispatch:
		pr.DispatchClaimedAt = nil
		pr.OutboundJobID = nil
		pr.SentAt = nil
		pr.DeliveredAt = nil
		pr.FailedAt = nil
		pr.FailureReason = nil
	}

	return true
}

// AwaitingProviderRequest is a provider request still waiting on a reply,
// joined with the name of the provider it was sent to.
type AwaitingProviderRequest struct {
	ProviderRequest
	ProviderName string `db:"provider_name" json:"providerName"`
}

// DispatchedAt is the moment the fax left, falling back to creation time for
// rows that were marked sent by a status callback before the submit returned.
func (a *AwaitingProviderRequest) DispatchedAt() time.Time {
	if a.SentAt != nil {
		return *a.SentAt
	}
	return a.CreatedAt
}
