package server

import (
	"encoding/json"
	"net/http"

	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

// handleOutboundStatus acknowledges every well-formed callback, including
// ones that change nothing, so the gateway stops retrying them.
func (s *Service) handleOutboundStatus(w http.ResponseWriter, r *http.Request) {
	var ev types.OutboundStatusEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.JobID == "" {
		s.renderError(w, r, http.StatusBadRequest, "invalid outbound status payload")
		return
	}

	updated, err := s.orch.OnOutboundStatus(r.Context(), ev)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.renderJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

// handleInboundDocument stores the fax and returns; matching happens in the
// background.
func (s *Service) handleInboundDocument(w http.ResponseWriter, r *http.Request) {
	var ev types.InboundDocumentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid inbound document payload")
		return
	}

	doc, inserted, err := s.orch.OnInboundDocument(r.Context(), ev)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"inbound_document_id": doc.ID,
		"duplicate":           !inserted,
	}).Debug("inbound webhook accepted")

	s.renderJSON(w, http.StatusOK, map[string]any{
		"id":        doc.ID,
		"duplicate": !inserted,
	})
}
