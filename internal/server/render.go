package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"medrecords/internal/store"
	"medrecords/pkg/types"
)

func (s *Service) renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Service) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.renderJSON(w, status, map[string]string{"error": message})
}

// renderServiceError maps domain errors onto status codes. Anything
// unexpected is logged and reported as a 500 without detail.
func (s *Service) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrNoProviders),
		errors.Is(err, types.ErrConsentDocumentRequired),
		errors.Is(err, types.ErrMissingFaxNumber),
		errors.Is(err, types.ErrInvalidInboundDocument):
		s.renderError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrPatientNotFound),
		errors.Is(err, types.ErrProviderNotFound),
		errors.Is(err, types.ErrRecordRequestNotFound),
		errors.Is(err, types.ErrProviderRequestNotFound),
		errors.Is(err, types.ErrInboundDocumentNotFound):
		s.renderError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrRequestClosed),
		errors.Is(err, types.ErrDocumentAlreadyLinked),
		errors.Is(err, store.ErrConflict):
		s.renderError(w, r, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		s.renderError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
