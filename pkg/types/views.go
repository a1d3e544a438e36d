package types

// RecordRequestView is the status of a record request and each of its
// provider requests.
type RecordRequestView struct {
	*RecordRequest
	ProviderRequests []*ProviderRequest `json:"providerRequests"`
	NeedsFollowUp    bool               `json:"needsFollowUp"`
	DownloadURL      string             `json:"downloadUrl,omitempty"`
}

type CreateRecordRequest struct {
	PatientID   string   `json:"patient_id"`
	ConsentKey  string   `json:"consent_key"`
	ProviderIDs []string `json:"provider_ids"`
}

type FailProviderRequestForm struct {
	Reason string `form:"reason"`
}

type AssignInboundDocumentForm struct {
	ProviderRequestID string `form:"provider_request_id"`
}
