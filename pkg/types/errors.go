package types

import "errors"

var (
	ErrNoProviders             = errors.New("record request needs at least one provider")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrProviderNotFound        = errors.New("provider not found")
	ErrRecordRequestNotFound   = errors.New("record request not found")
	ErrProviderRequestNotFound = errors.New("provider request not found")
	ErrInboundDocumentNotFound = errors.New("inbound document not found")
	ErrInvalidTransition       = errors.New("transition not allowed")
	ErrRequestClosed           = errors.New("record request is closed")
	ErrDocumentAlreadyLinked   = errors.New("inbound document already linked")
	ErrMissingFaxNumber        = errors.New("provider has no usable fax number")
	ErrConsentDocumentRequired = errors.New("consent document key is required")
	ErrInvalidInboundDocument  = errors.New("inbound document is missing job id, transaction id or content")
)
