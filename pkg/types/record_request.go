package types

import "time"

type RecordRequestStatus string

const (
	RecordRequestStatusPending    RecordRequestStatus = "pending"
	RecordRequestStatusInProgress RecordRequestStatus = "in_progress"
	RecordRequestStatusCompiling  RecordRequestStatus = "compiling"
	RecordRequestStatusComplete   RecordRequestStatus = "complete"
	RecordRequestStatusCancelled  RecordRequestStatus = "cancelled"
)

// IsClosed reports whether the request will never change again.
func (s RecordRequestStatus) IsClosed() bool {
	return s == RecordRequestStatusComplete || s == RecordRequestStatusCancelled
}

type RecordRequest struct {
	ID                  string              `db:"id" json:"id"`
	PatientID           string              `db:"patient_id" json:"patientId"`
	Status              RecordRequestStatus `db:"status" json:"status"`
	ConsentDocumentKey  string              `db:"consent_document_key" json:"consentDocumentKey"`
	CompiledDocumentKey *string             `db:"compiled_document_key" json:"compiledDocumentKey,omitempty"`
	CompileError        *string             `db:"compile_error" json:"compileError,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updatedAt"`
	CompletedAt         *time.Time          `db:"completed_at" json:"completedAt,omitempty"`
}

// EligibleForCompilation is true when every provider request has reached a
// terminal state and at least one of them produced a response.
func EligibleForCompilation(prs []*ProviderRequest) bool {
	if len(prs) == 0 {
		return false
	}

	responded := false
	for _, pr := range prs {
		if !pr.Status.IsTerminal() {
			return false
		}
		if pr.Status == ProviderRequestStatusResponseReceived {
			responded = true
		}
	}

	return responded
}

// NeedsFollowUp is true when every provider request failed. Such a request
// stays in_progress until an operator redispatches or cancels it.
func NeedsFollowUp(prs []*ProviderRequest) bool {
	if len(prs) == 0 {
		return false
	}

	for _, pr := range prs {
		if pr.Status != ProviderRequestStatusFaxFailed {
			return false
		}
	}

	return true
}
