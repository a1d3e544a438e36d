package storage

import (
	"fmt"
	"path"
	"strings"
)

const ContentTypePDF = "application/pdf"

// InboundKey is derived from the gateway identifiers so a redelivered fax
// overwrites its own object instead of creating a new one.
func InboundKey(jobID, transactionID string) string {
	return fmt.Sprintf("inbound/%s/%s.pdf", safeSegment(jobID), safeSegment(transactionID))
}

func CompiledKey(recordRequestID, id string) string {
	return fmt.Sprintf("compiled/%s/%s.pdf", safeSegment(recordRequestID), id)
}

func OutboundKey(providerRequestID, id string) string {
	return fmt.Sprintf("outbound/%s/%s.pdf", safeSegment(providerRequestID), id)
}

func safeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = path.Clean("/" + s)[1:]
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
