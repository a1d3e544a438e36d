package types

import "time"

// InboundDocument is a fax received from a provider. It is linked to at most
// one provider request.
type InboundDocument struct {
	ID                string     `db:"id" json:"id"`
	JobID             string     `db:"job_id" json:"jobId"`
	TransactionID     string     `db:"transaction_id" json:"transactionId"`
	Sender            string     `db:"sender" json:"sender"`
	Receiver          string     `db:"receiver" json:"receiver"`
	ReceivedAt        time.Time  `db:"received_at" json:"receivedAt"`
	DocumentKey       string     `db:"document_key" json:"documentKey"`
	OCRText           *string    `db:"ocr_text" json:"-"`
	EncounterDate     *time.Time `db:"encounter_date" json:"encounterDate,omitempty"`
	PatientID         *string    `db:"patient_id" json:"patientId,omitempty"`
	ProviderRequestID *string    `db:"provider_request_id" json:"providerRequestId,omitempty"`
	MatchConfidence   *float64   `db:"match_confidence" json:"matchConfidence,omitempty"`
	MatchedAt         *time.Time `db:"matched_at" json:"matchedAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}

func (d *InboundDocument) IsLinked() bool {
	return d.ProviderRequestID != nil
}

// MatchResult is what the matcher learned about a document.
type MatchResult struct {
	PatientID         string
	ProviderRequestID string
	Confidence        float64
	EncounterDate     *time.Time
}
